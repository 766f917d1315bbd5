// Package fetcher drains square chat backlogs into the dispatcher. Each
// watched chat owns a durable cursor; a fetch cycle pages events forward
// from it and checkpoints before anything is handed downstream. Cycles
// run either on a poll loop or one-shot when a push says there is news.
package fetcher

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/linego-dev/linego/internal/metrics"
	"github.com/linego-dev/linego/internal/service"
	"github.com/linego-dev/linego/internal/storage"
)

const (
	defaultLimit        = 50
	defaultPollInterval = time.Second

	rateLimitBackoff = 2 * time.Second
	transientBackoff = 100 * time.Millisecond

	// Retries inside one cycle before giving up until the next trigger.
	maxCycleRetries = 5
)

// ChatSource pages square chat events. *service.Square satisfies it.
type ChatSource interface {
	FetchChatEvents(ctx context.Context, chatMid, syncToken, continuationToken string, limit, fetchType int32) (service.ChatEventsPage, error)
}

// Sink receives fetched events. *dispatch.Dispatcher satisfies it.
type Sink interface {
	Enqueue(ctx context.Context, ev service.Event) error
}

// Options configures a Manager.
type Options struct {
	Source  ChatSource
	Store   storage.Store
	Sink    Sink
	Logger  zerolog.Logger
	Metrics *metrics.Metrics

	Limit        int32
	PollInterval time.Duration
	// Sleep overrides backoff waits in tests.
	Sleep func(ctx context.Context, d time.Duration)
}

// Manager runs fetch cycles for a set of watched chats.
type Manager struct {
	source  ChatSource
	store   storage.Store
	sink    Sink
	logger  zerolog.Logger
	metrics *metrics.Metrics

	limit        int32
	pollInterval time.Duration
	sleep        func(ctx context.Context, d time.Duration)

	mu      sync.Mutex
	chats   map[string]*chatWorker
	ctx     context.Context
	cancel  context.CancelFunc
	polling bool
	wg      sync.WaitGroup

	// Fetch lock for push-driven cycles: one worker drains the queue so
	// triggered chats are fetched sequentially, never in parallel.
	fetchMu      sync.Mutex
	fetchQueue   []string
	fetchQueued  map[string]struct{}
	fetchRunning bool
}

type chatWorker struct {
	chat string
	stop context.CancelFunc // poll loop only
}

// NewManager builds a Manager.
func NewManager(opts Options) *Manager {
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Sleep == nil {
		opts.Sleep = func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		}
	}
	return &Manager{
		source:       opts.Source,
		store:        opts.Store,
		sink:         opts.Sink,
		logger:       opts.Logger.With().Str("component", "fetcher").Logger(),
		metrics:      opts.Metrics,
		limit:        opts.Limit,
		pollInterval: opts.PollInterval,
		sleep:        opts.Sleep,
		chats:        make(map[string]*chatWorker),
		fetchQueued:  make(map[string]struct{}),
	}
}

// Start prepares the manager for triggers; with polling set it also runs
// a poll loop per watched chat.
func (m *Manager) Start(ctx context.Context, polling bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx != nil {
		return errors.New("fetcher: already started")
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.polling = polling
	if polling {
		for _, w := range m.chats {
			m.startPollLocked(w)
		}
	}
	return nil
}

// Stop halts all workers and waits for in-flight cycles.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.ctx, m.cancel = nil, nil
	m.polling = false
	for _, w := range m.chats {
		w.stop = nil
	}
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	m.fetchMu.Lock()
	m.fetchQueue = nil
	m.fetchQueued = make(map[string]struct{})
	m.fetchMu.Unlock()
}

// Watch registers a chat. Its cursor survives Unwatch, so rewatching
// resumes where delivery stopped.
func (m *Manager) Watch(chatMid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatMid]; ok {
		return
	}
	w := &chatWorker{chat: chatMid}
	m.chats[chatMid] = w
	if m.polling && m.ctx != nil {
		m.startPollLocked(w)
	}
}

// Unwatch stops fetching a chat. The stored cursor is kept.
func (m *Manager) Unwatch(chatMid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.chats[chatMid]
	if !ok {
		return
	}
	if w.stop != nil {
		w.stop()
	}
	delete(m.chats, chatMid)
}

// Chats lists the watched chat mids.
func (m *Manager) Chats() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.chats))
	for c := range m.chats {
		out = append(out, c)
	}
	return out
}

// Trigger schedules one fetch cycle for a chat. All triggered cycles run
// on a single worker holding the fetch lock, so no two chats fetch at
// once; a trigger for a chat already queued coalesces into the queued
// cycle.
func (m *Manager) Trigger(chatMid string) {
	m.mu.Lock()
	_, watched := m.chats[chatMid]
	ctx := m.ctx
	m.mu.Unlock()
	if !watched || ctx == nil {
		return
	}

	m.fetchMu.Lock()
	if _, queued := m.fetchQueued[chatMid]; !queued {
		m.fetchQueued[chatMid] = struct{}{}
		m.fetchQueue = append(m.fetchQueue, chatMid)
	}
	if m.fetchRunning {
		m.fetchMu.Unlock()
		return
	}
	m.fetchRunning = true
	m.fetchMu.Unlock()

	m.wg.Add(1)
	go m.drainTriggers(ctx)
}

// TriggerAll schedules a cycle for every watched chat.
func (m *Manager) TriggerAll() {
	for _, c := range m.Chats() {
		m.Trigger(c)
	}
}

func (m *Manager) drainTriggers(ctx context.Context) {
	defer m.wg.Done()
	for {
		m.fetchMu.Lock()
		if len(m.fetchQueue) == 0 || ctx.Err() != nil {
			m.fetchRunning = false
			m.fetchMu.Unlock()
			return
		}
		chat := m.fetchQueue[0]
		m.fetchQueue = m.fetchQueue[1:]
		delete(m.fetchQueued, chat)
		m.fetchMu.Unlock()

		m.mu.Lock()
		_, watched := m.chats[chat]
		m.mu.Unlock()
		if watched {
			m.runCycle(ctx, chat)
		}
	}
}

func (m *Manager) startPollLocked(w *chatWorker) {
	ctx, cancel := context.WithCancel(m.ctx)
	w.stop = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			m.runCycle(ctx, w.chat)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.pollInterval):
			}
		}
	}()
}

func (m *Manager) runCycle(ctx context.Context, chat string) {
	start := time.Now()
	err := m.cycle(ctx, chat)
	if m.metrics != nil {
		m.metrics.FetchCycles.Inc()
		m.metrics.FetchLatency.Observe(time.Since(start).Seconds())
	}
	if err != nil && ctx.Err() == nil {
		m.logger.Warn().Err(err).Str("chat", chat).Msg("fetch cycle failed")
	}
}

// cycle pages one chat forward from its cursor. The cursor is persisted
// before events are enqueued, so a crash skips rather than replays.
func (m *Manager) cycle(ctx context.Context, chat string) error {
	cur, ok := m.store.Cursor(chat)
	if !ok || cur.SyncToken == "" {
		var err error
		cur, err = m.probe(ctx, chat)
		if err != nil {
			return err
		}
	}

	retries := 0
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		page, err := m.source.FetchChatEvents(ctx, chat, cur.SyncToken, cur.ContinuationToken, m.limit, service.FetchTypePrefetchByServer)
		if err != nil {
			retries++
			if retry := m.backoff(ctx, chat, err, retries); retry {
				continue
			}
			return err
		}
		retries = 0

		next := storage.Cursor{ContinuationToken: page.ContinuationToken}
		next.SyncToken = page.SyncToken
		if next.SyncToken == "" {
			next.SyncToken = cur.SyncToken
		}
		if err := m.store.SetCursor(chat, next); err != nil {
			return err
		}
		for _, ev := range page.Events {
			if ev.ChatMid == "" {
				ev.ChatMid = chat
			}
			if err := m.sink.Enqueue(ctx, ev); err != nil {
				return err
			}
		}
		cur = next
		if cur.ContinuationToken == "" {
			return nil
		}
	}
}

// probe mints a sync token with a single-event fetch. The backlog before
// the probe is never delivered.
func (m *Manager) probe(ctx context.Context, chat string) (storage.Cursor, error) {
	page, err := m.source.FetchChatEvents(ctx, chat, "", "", 1, service.FetchTypeDefault)
	if err != nil {
		return storage.Cursor{}, err
	}
	cur := storage.Cursor{SyncToken: page.SyncToken}
	if err := m.store.SetCursor(chat, cur); err != nil {
		return storage.Cursor{}, err
	}
	m.logger.Info().Str("chat", chat).Msg("minted sync token")
	return cur, nil
}

// backoff sleeps for retryable errors and reports whether to retry.
func (m *Manager) backoff(ctx context.Context, chat string, err error, retries int) bool {
	class := "fatal"
	delay := time.Duration(0)
	switch service.KindOf(err) {
	case service.KindRateLimit:
		class, delay = "rate_limit", rateLimitBackoff
	case service.KindTransport, service.KindServer:
		class, delay = "transient", transientBackoff
	}
	if m.metrics != nil {
		m.metrics.FetchErrors.WithLabelValues(class).Inc()
	}
	if delay == 0 || retries > maxCycleRetries {
		return false
	}
	m.logger.Debug().Err(err).Str("chat", chat).Str("class", class).Msg("backing off")
	m.sleep(ctx, delay)
	return ctx.Err() == nil
}
