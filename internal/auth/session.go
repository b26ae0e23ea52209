package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/Patsimim/GlobalChat/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrLoginFailed    = errors.New("login failed")
	ErrRegisterFailed = errors.New("registration failed")
	ErrNotLoggedIn    = errors.New("not logged in")
)

// Session is the auth collaborator: it owns the bearer credential and the
// current-user stream. The chat core treats the token as opaque; the session
// only inspects the registered claims locally to know when it has expired.
type Session struct {
	baseURL string
	http    *http.Client
	store   *TokenStore

	mu    sync.RWMutex
	token string
	user  *models.User
	subs  []chan *models.User
}

func NewSession(baseURL string, store *TokenStore) *Session {
	return &Session{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
		store:   store,
	}
}

// Resume restores a previous session from the token store. An expired or
// rejected token is cleared so the caller falls back to an interactive login.
func (s *Session) Resume(ctx context.Context) error {
	token, err := s.store.Load()
	if err != nil {
		return err
	}

	if !tokenValid(token) {
		log.Println("[SESSION] ⚠️ Stored token expired, clearing")
		s.store.Clear()
		return ErrNotLoggedIn
	}

	user, err := s.fetchProfile(ctx, token)
	if err != nil {
		log.Printf("[SESSION] Stored token rejected by server: %v", err)
		s.store.Clear()
		return ErrNotLoggedIn
	}

	s.setAuthData(token, user)
	log.Printf("[SESSION] ✅ Resumed session for %s", user.Email)
	return nil
}

func (s *Session) Login(ctx context.Context, email, password string) error {
	body := map[string]string{"email": email, "password": password}

	var resp models.AuthResponse
	if err := s.postJSON(ctx, "/auth/login", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrLoginFailed, err)
	}
	if !resp.Success || resp.Token == "" {
		return fmt.Errorf("%w: %s", ErrLoginFailed, resp.Message)
	}

	s.setAuthData(resp.Token, &resp.User)
	log.Printf("[SESSION] ✅ Login successful for %s", resp.User.Email)
	return nil
}

func (s *Session) Register(ctx context.Context, user models.User, password string) error {
	body := map[string]string{
		"firstName": user.FirstName,
		"lastName":  user.LastName,
		"email":     user.Email,
		"country":   user.Country,
		"password":  password,
	}

	var resp models.AuthResponse
	if err := s.postJSON(ctx, "/auth/register", body, &resp); err != nil {
		return fmt.Errorf("%w: %v", ErrRegisterFailed, err)
	}
	if !resp.Success || resp.Token == "" {
		return fmt.Errorf("%w: %s", ErrRegisterFailed, resp.Message)
	}

	s.setAuthData(resp.Token, &resp.User)
	log.Printf("[SESSION] ✅ Registration successful for %s", resp.User.Email)
	return nil
}

// Logout clears the credential and emits nil on the user stream, which tells
// the coordinator to tear down all rooms and disconnect.
func (s *Session) Logout() {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	subs := make([]chan *models.User, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	s.store.Clear()
	log.Println("[SESSION] 👋 Logged out")

	for _, ch := range subs {
		select {
		case ch <- nil:
		default:
		}
	}
}

func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Session) CurrentUser() *models.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()
	return token != "" && tokenValid(token)
}

// Users returns the current-user stream. Subscribers see login (a user) and
// logout (nil) transitions from the moment of subscription onward.
func (s *Session) Users() (<-chan *models.User, func()) {
	ch := make(chan *models.User, 4)

	s.mu.Lock()
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				return
			}
		}
	}
	return ch, cancel
}

func (s *Session) setAuthData(token string, user *models.User) {
	s.mu.Lock()
	s.token = token
	s.user = user
	subs := make([]chan *models.User, len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if err := s.store.Save(token); err != nil {
		log.Printf("[SESSION] Failed to persist token: %v", err)
	}

	for _, ch := range subs {
		select {
		case ch <- user:
		default:
		}
	}
}

func (s *Session) fetchProfile(ctx context.Context, token string) (*models.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/auth/profile", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile request returned %d", resp.StatusCode)
	}

	var payload struct {
		Success bool        `json:"success"`
		User    models.User `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	if !payload.Success {
		return nil, errors.New("profile request rejected")
	}
	return &payload.User, nil
}

func (s *Session) postJSON(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// tokenValid checks the expiry claim without verifying the signature. The
// secret lives on the server; the client only needs to know whether a
// round-trip with this token could possibly succeed.
func tokenValid(token string) bool {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return exp.After(time.Now())
}
