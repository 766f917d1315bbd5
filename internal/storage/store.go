// Package storage persists session state: tokens, identity, certificates,
// and per-chat event cursors. Three backends share one interface. Each
// cursor half lives under its own key; one fetch worker owns a chat's
// cursor, so the halves have a single writer.
package storage

import (
	"strconv"
	"time"
)

// Well-known keys.
const (
	KeyAuthToken     = "authToken"
	KeyRefreshToken  = "refreshToken"
	KeyTokenExpiryAt = "tokenExpiryAt"
	KeyMID           = "mid"
	KeyQRCertificate = "qrCertificate"
	// KeyMyEventsSync checkpoints the account-wide fetchMyEvents stream;
	// the push sign-on presents it to resume where the last session left
	// off.
	KeyMyEventsSync = "myEventsSyncToken"

	certPrefix = "cert:"

	syncPrefix = "squareSync:"
	contPrefix = "squareCont:"
)

// CertKey names the login certificate slot for one account.
func CertKey(accountID string) string { return certPrefix + accountID }

// Cursor is the per-chat fetch position. SyncToken checkpoints delivered
// history; ContinuationToken is set only mid-backlog.
type Cursor struct {
	SyncToken         string
	ContinuationToken string
}

// Store is a synchronous string KV with a cursor record on top. Writes
// must be durable before Set returns on persistent backends.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	Clear() error
	Snapshot() map[string]string

	Cursor(chatMid string) (Cursor, bool)
	SetCursor(chatMid string, cur Cursor) error
}

// getCursor assembles the cursor from its two keys. A chat without a
// sync token has no cursor at all.
func getCursor(s Store, chatMid string) (Cursor, bool) {
	sync, ok := s.Get(syncPrefix + chatMid)
	if !ok {
		return Cursor{}, false
	}
	cont, _ := s.Get(contPrefix + chatMid)
	return Cursor{SyncToken: sync, ContinuationToken: cont}, true
}

// Credentials is a typed view over the session keys.
type Credentials struct {
	AuthToken    string
	RefreshToken string
	ExpiresAt    time.Time
	MID          string
}

// LoadCredentials assembles the credential view from a store.
func LoadCredentials(s Store) Credentials {
	var c Credentials
	c.AuthToken, _ = s.Get(KeyAuthToken)
	c.RefreshToken, _ = s.Get(KeyRefreshToken)
	c.MID, _ = s.Get(KeyMID)
	if raw, ok := s.Get(KeyTokenExpiryAt); ok {
		if sec, err := strconv.ParseInt(raw, 10, 64); err == nil && sec > 0 {
			c.ExpiresAt = time.Unix(sec, 0)
		}
	}
	return c
}

// Valid reports whether the stored token can be presented now. Tokens
// without recorded expiry are assumed live until the server says no.
func (c Credentials) Valid(now time.Time) bool {
	if c.AuthToken == "" {
		return false
	}
	if c.ExpiresAt.IsZero() {
		return true
	}
	return now.Before(c.ExpiresAt)
}

// SaveTokens persists a token grant. Zero fields are left untouched so a
// refresh that returns only an access token keeps the refresh token.
func SaveTokens(s Store, authToken, refreshToken string, expiresAt time.Time) error {
	if authToken != "" {
		if err := s.Set(KeyAuthToken, authToken); err != nil {
			return err
		}
	}
	if refreshToken != "" {
		if err := s.Set(KeyRefreshToken, refreshToken); err != nil {
			return err
		}
	}
	if !expiresAt.IsZero() {
		if err := s.Set(KeyTokenExpiryAt, strconv.FormatInt(expiresAt.Unix(), 10)); err != nil {
			return err
		}
	}
	return nil
}
