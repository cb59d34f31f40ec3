// Package session keeps the device's authentication state: a short-lived
// access token plus a refresh token, sealed at rest in the local kv
// collection so a stolen database file does not leak credentials.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/client/repositories/kv"
	"github.com/dmitrijs2005/fieldsync/internal/common"
	"github.com/dmitrijs2005/fieldsync/internal/cryptox"
	"github.com/dmitrijs2005/fieldsync/internal/logging"
	"github.com/golang-jwt/jwt/v5"
)

// expiryLeeway keeps a token from being used moments before it lapses
// mid-request.
const expiryLeeway = 30 * time.Second

// Tokens is the pair issued by the server on login and on refresh.
type Tokens struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

type Session struct {
	mu         sync.Mutex
	tokens     Tokens
	key        []byte
	repo       kv.Repository
	refreshURL string
	hc         *http.Client
	log        logging.Logger
}

// New returns a session backed by the given kv repository. key is the AES key
// the token pair is sealed with; refreshURL is the full URL of the token
// refresh endpoint, or empty to disable transparent refresh.
func New(repo kv.Repository, key []byte, refreshURL string, log logging.Logger) *Session {
	if log == nil {
		log = logging.Discard()
	}
	return &Session{
		repo:       repo,
		key:        key,
		refreshURL: refreshURL,
		hc:         &http.Client{Timeout: 10 * time.Second},
		log:        log,
	}
}

// Load restores a previously saved token pair. A device that never logged in
// simply ends up with an empty session.
func (s *Session) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sealed, nonce, err := s.repo.Get(ctx, common.KVKeySessionTokens)
	if err != nil {
		return fmt.Errorf("failed to load session: %w", err)
	}
	if sealed == nil {
		return nil
	}

	plaintext, err := cryptox.Open(sealed, nonce, s.key)
	if err != nil {
		return fmt.Errorf("failed to unseal session: %w", err)
	}
	defer cryptox.WipeByteArray(plaintext)

	if err := json.Unmarshal(plaintext, &s.tokens); err != nil {
		return fmt.Errorf("failed to decode session: %w", err)
	}
	return nil
}

// Set replaces the token pair and persists it sealed.
func (s *Session) Set(ctx context.Context, tokens Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.store(ctx, tokens)
}

func (s *Session) store(ctx context.Context, tokens Tokens) error {
	plaintext, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	defer cryptox.WipeByteArray(plaintext)

	sealed, nonce, err := cryptox.Seal(plaintext, s.key)
	if err != nil {
		return fmt.Errorf("failed to seal session: %w", err)
	}
	if err := s.repo.Set(ctx, common.KVKeySessionTokens, sealed, nonce); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	s.tokens = tokens
	return nil
}

// Clear drops the token pair from memory and storage.
func (s *Session) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.tokens = Tokens{}
	if err := s.repo.Delete(ctx, common.KVKeySessionTokens); err != nil {
		return fmt.Errorf("failed to clear session: %w", err)
	}
	return nil
}

// Authenticated reports whether a token pair is present.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens.Access != ""
}

// AccessToken returns the current access token, refreshing it first when it
// is expired or about to expire. An empty session yields an empty token.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tokens.Access == "" {
		return "", nil
	}
	if tokenExpired(s.tokens.Access, time.Now()) {
		if err := s.refresh(ctx); err != nil {
			return "", err
		}
	}
	return s.tokens.Access, nil
}

// Invalidate forces a refresh regardless of what the token's claims say. The
// server is the authority on validity; a revoked token can be rejected long
// before its exp claim.
func (s *Session) Invalidate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refresh(ctx)
}

func (s *Session) refresh(ctx context.Context) error {
	if s.refreshURL == "" || s.tokens.Refresh == "" {
		return common.ErrTokenExpired
	}

	body, err := json.Marshal(map[string]string{"refreshToken": s.tokens.Refresh})
	if err != nil {
		return fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.refreshURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.hc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: refresh token rejected", common.ErrorUnauthorized)
		}
		return fmt.Errorf("%w: refresh returned %d", common.ErrUnavailable, resp.StatusCode)
	}

	var tokens struct {
		AccessToken  string `json:"accessToken"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("failed to decode refresh response: %w", err)
	}

	s.log.Debug(ctx, "session refreshed")
	return s.store(ctx, Tokens{Access: tokens.AccessToken, Refresh: tokens.RefreshToken})
}

// tokenExpired inspects the exp claim without verifying the signature; the
// client never holds the signing key and the server checks every request
// anyway. Unparseable tokens are treated as expired.
func tokenExpired(token string, now time.Time) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return true
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return now.Add(expiryLeeway).After(exp.Time)
}
