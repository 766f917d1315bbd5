// Command linego is a LINE self-client: log in, send messages, and
// stream square chat events to stdout.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/linego-dev/linego/internal/config"
	"github.com/linego-dev/linego/internal/device"
	"github.com/linego-dev/linego/internal/service"
	"github.com/linego-dev/linego/internal/storage"
	"github.com/linego-dev/linego/pkg/line"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "linego",
		Short:         "LINE self-client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "linego.yaml", "path to config file")

	root.AddCommand(
		loginCmd(&configPath),
		profileCmd(&configPath),
		sendCmd(&configPath),
		watchCmd(&configPath),
		refreshCmd(&configPath),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var w = zerolog.ConsoleWriter{Out: os.Stderr}
	if !cfg.Log.Pretty {
		return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(w).Level(level).With().Timestamp().Logger()
}

func openStore(cfg *config.Config) (storage.Store, error) {
	if cfg.Session.Redis != "" {
		opt, err := redis.ParseURL(cfg.Session.Redis)
		if err != nil {
			return nil, fmt.Errorf("session redis: %w", err)
		}
		return storage.NewRedis(redis.NewClient(opt), cfg.Session.RedisPrefix), nil
	}
	return storage.OpenFile(cfg.Session.Path)
}

func buildClient(configPath string, handler line.Handler, registry prometheus.Registerer) (*line.Client, *config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger(cfg).With().Str("run", uuid.NewString()).Logger()

	client, err := line.New(line.Options{
		Device:     device.Kind(cfg.Device.Kind),
		AppVersion: cfg.Device.AppVersion,
		SystemName: cfg.Device.SystemName,
		Host:       cfg.Gateway.Host,
		PushHost:   cfg.Gateway.PushHost,
		Store:      store,
		Logger:     logger,
		Registry:   registry,
		Handler:    handler,
		QueueSize:  cfg.Events.QueueSize,
	})
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// drainPrompts prints QR URLs and PINs as the login flow produces them.
func drainPrompts(ctx context.Context, client *line.Client) {
	prompts := client.Prompts()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case qr := <-prompts.QR:
				fmt.Println("Scan this QR code with your phone:")
				fmt.Println("  " + qr)
			case pin := <-prompts.PIN:
				fmt.Println("Enter this PIN on your phone: " + pin)
			}
		}
	}()
}

func loginCmd(configPath *string) *cobra.Command {
	var email, password, pin string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Log in with QR (default) or email credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := buildClient(*configPath, nil, nil)
			if err != nil {
				return err
			}
			defer client.Stop()
			ctx := cmd.Context()
			drainPrompts(ctx, client)

			if email != "" {
				res, err := client.LoginWithEmail(ctx, email, password, pin)
				if err != nil {
					return err
				}
				fmt.Printf("logged in, mid=%s\n", res.MID)
				return nil
			}
			res, err := client.LoginWithQR(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("logged in, mid=%s\n", res.MID)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "account email (QR login when empty)")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&pin, "pin", "", "6-digit verification pin")
	return cmd
}

func profileCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the logged-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := buildClient(*configPath, nil, nil)
			if err != nil {
				return err
			}
			defer client.Stop()

			profile, err := client.AutoLogin(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("mid:     %s\n", profile.MID)
			fmt.Printf("name:    %s\n", profile.DisplayName)
			if profile.StatusMessage != "" {
				fmt.Printf("status:  %s\n", profile.StatusMessage)
			}
			return nil
		},
	}
}

func sendCmd(configPath *string) *cobra.Command {
	var chat, to, text string

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a text message to a square chat or a talk contact",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text is required")
			}
			if (chat == "") == (to == "") {
				return fmt.Errorf("exactly one of --chat or --to is required")
			}
			client, _, err := buildClient(*configPath, nil, nil)
			if err != nil {
				return err
			}
			defer client.Stop()

			ctx := cmd.Context()
			if _, err := client.AutoLogin(ctx); err != nil {
				return err
			}
			if chat != "" {
				ev, err := client.Square().SendMessage(ctx, chat, text)
				if err != nil {
					return err
				}
				if ev.Message != nil {
					fmt.Printf("sent %s\n", ev.Message.ID)
				}
				return nil
			}
			msg, err := client.Talk().SendMessage(ctx, to, text)
			if err != nil {
				return err
			}
			fmt.Printf("sent %s\n", msg.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&chat, "chat", "", "square chat mid")
	cmd.Flags().StringVar(&to, "to", "", "talk contact or group mid")
	cmd.Flags().StringVar(&text, "text", "", "message text")
	return cmd
}

func watchCmd(configPath *string) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "watch [chat mids...]",
		Short: "Stream square chat events to stdout",
		RunE: func(cmd *cobra.Command, args []string) error {
			handler := func(ev service.Event) {
				if ev.Message == nil {
					return
				}
				ts := time.UnixMilli(ev.CreatedTime).Format(time.RFC3339)
				fmt.Printf("[%s] %s %s: %s\n", ts, ev.ChatMid, ev.SenderDisplayName, ev.Message.Text)
			}

			var registry prometheus.Registerer
			if metricsAddr != "" {
				reg := prometheus.NewRegistry()
				registry = reg
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						fmt.Fprintln(os.Stderr, "metrics server:", err)
					}
				}()
			}

			client, cfg, err := buildClient(*configPath, handler, registry)
			if err != nil {
				return err
			}
			defer client.Stop()

			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			if _, err := client.AutoLogin(ctx); err != nil {
				return err
			}

			chats := args
			if len(chats) == 0 {
				chats = cfg.Events.Chats
			}
			if len(chats) == 0 {
				return fmt.Errorf("no chats to watch: pass mids or set events.chats")
			}
			for _, c := range chats {
				client.Watch(c)
			}

			switch cfg.Events.Mode {
			case "polling":
				err = client.StartPolling(ctx)
			default:
				err = client.StartPush(ctx)
			}
			if err != nil {
				return err
			}

			fmt.Printf("watching %d chat(s), ctrl-c to stop\n", len(chats))
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address")
	return cmd
}

func refreshCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, _, err := buildClient(*configPath, nil, nil)
			if err != nil {
				return err
			}
			defer client.Stop()

			if _, err := client.AutoLogin(cmd.Context()); err != nil {
				return err
			}
			token, err := client.RefreshAccessToken(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("access token ok (%d chars)\n", len(token))
			return nil
		},
	}
}
