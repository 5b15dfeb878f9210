// File: internal/browser/storage.go
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"pvmigrate/internal/config"
)

// State is the serialized form of a logged-in browser context: cookies
// plus origin storage, enough for a fresh tab to start authenticated.
type State struct {
	Username       string            `json:"username"`
	SavedAt        time.Time         `json:"savedAt"`
	Cookies        []cookieRecord    `json:"cookies"`
	LocalStorage   map[string]string `json:"localStorage"`
	SessionStorage map[string]string `json:"sessionStorage"`
}

type cookieRecord struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite"`
}

// SessionStore persists one State file per identity under a fixed
// directory. File existence (within TTL) is the only validity signal it
// offers; whether the session actually still works is discovered by the
// post-navigation sign-in probe.
type SessionStore struct {
	dir    string
	ttl    time.Duration
	logger *zap.Logger
}

// NewSessionStore creates the store and its directory.
func NewSessionStore(cfg config.SessionConfig, logger *zap.Logger) (*SessionStore, error) {
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create session directory %s: %w", cfg.Dir, err)
	}
	return &SessionStore{
		dir:    cfg.Dir,
		ttl:    cfg.TTL,
		logger: logger.Named("sessions"),
	}, nil
}

// Path returns the session file location for an identity.
func (s *SessionStore) Path(username string) string {
	return filepath.Join(s.dir, sanitizeUsername(username)+".json")
}

// Has reports whether a usable session file exists. A file older than
// the TTL is treated as absent and removed.
func (s *SessionStore) Has(username string) bool {
	info, err := os.Stat(s.Path(username))
	if err != nil {
		return false
	}
	if s.ttl > 0 && time.Since(info.ModTime()) > s.ttl {
		s.logger.Info("Session file expired; discarding.",
			zap.String("username", username),
			zap.Duration("age", time.Since(info.ModTime())),
		)
		_ = os.Remove(s.Path(username))
		return false
	}
	return true
}

// Capture reads the tab's cookies and origin storage and writes the
// session file for the identity.
func (s *SessionStore) Capture(ctx context.Context, tab *Tab, username string) error {
	runCtx, cancel := CombineContext(tab.Context(), ctx)
	defer cancel()

	state := State{
		Username: username,
		SavedAt:  time.Now(),
	}

	err := chromedp.Run(runCtx,
		chromedp.ActionFunc(func(c context.Context) error {
			cookies, err := network.GetCookies().Do(c)
			if err != nil {
				return fmt.Errorf("failed to read cookies: %w", err)
			}
			for _, ck := range cookies {
				state.Cookies = append(state.Cookies, cookieRecord{
					Name:     ck.Name,
					Value:    ck.Value,
					Domain:   ck.Domain,
					Path:     ck.Path,
					Expires:  ck.Expires,
					HTTPOnly: ck.HTTPOnly,
					Secure:   ck.Secure,
					SameSite: string(ck.SameSite),
				})
			}
			return nil
		}),
		chromedp.Evaluate(readStorageJS("localStorage"), &state.LocalStorage),
		chromedp.Evaluate(readStorageJS("sessionStorage"), &state.SessionStorage),
	)
	if err != nil {
		return fmt.Errorf("failed to capture storage state: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session state: %w", err)
	}
	path := s.Path(username)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write session file %s: %w", path, err)
	}

	s.logger.Info("Session state saved.",
		zap.String("username", username),
		zap.Int("cookies", len(state.Cookies)),
	)
	return nil
}

// Restore replays the identity's cookies into a tab. It must run before
// any navigation so the first console load already carries the session.
func (s *SessionStore) Restore(ctx context.Context, tab *Tab, username string) error {
	state, err := s.load(username)
	if err != nil {
		return err
	}

	runCtx, cancel := CombineContext(tab.Context(), ctx)
	defer cancel()

	err = chromedp.Run(runCtx, chromedp.ActionFunc(func(c context.Context) error {
		for _, ck := range state.Cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.SameSite != "" {
				p = p.WithSameSite(network.CookieSameSite(ck.SameSite))
			}
			if ck.Expires > 0 {
				exp := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p = p.WithExpires(&exp)
			}
			if err := p.Do(c); err != nil {
				return fmt.Errorf("failed to set cookie %s: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("failed to restore session for %s: %w", username, err)
	}

	s.logger.Info("Session state restored.",
		zap.String("username", username),
		zap.Int("cookies", len(state.Cookies)),
	)
	return nil
}

// ApplyOriginStorage replays local/session storage into the current
// origin. Storage is origin-scoped, so this only works after the tab
// has navigated to the console.
func (s *SessionStore) ApplyOriginStorage(ctx context.Context, tab *Tab, username string) error {
	state, err := s.load(username)
	if err != nil {
		return err
	}
	if len(state.LocalStorage) == 0 && len(state.SessionStorage) == 0 {
		return nil
	}

	runCtx, cancel := CombineContext(tab.Context(), ctx)
	defer cancel()

	var ok bool
	return chromedp.Run(runCtx,
		chromedp.Evaluate(writeStorageJS("localStorage", state.LocalStorage), &ok),
		chromedp.Evaluate(writeStorageJS("sessionStorage", state.SessionStorage), &ok),
	)
}

// Clear removes the session file for an identity, if present.
func (s *SessionStore) Clear(username string) error {
	err := os.Remove(s.Path(username))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session for %s: %w", username, err)
	}
	return nil
}

// ClearAll removes every session file in the store directory.
func (s *SessionStore) ClearAll() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to list session directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
			return fmt.Errorf("failed to remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

func (s *SessionStore) load(username string) (*State, error) {
	path := s.Path(username)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file %s: %w", path, err)
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		// A corrupt file will never become valid; drop it so the next
		// run goes through a fresh login.
		_ = os.Remove(path)
		return nil, fmt.Errorf("corrupt session file %s removed: %w", path, err)
	}
	return &state, nil
}

// sanitizeUsername keeps the characters safe for a filename.
func sanitizeUsername(username string) string {
	var b strings.Builder
	for _, r := range username {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == '@':
			b.WriteRune(r)
		}
	}
	return b.String()
}

func readStorageJS(kind string) string {
	return fmt.Sprintf(`(function() {
        let items = {};
        try {
            const s = window.%s;
            if (s) {
                for (let i = 0; i < s.length; i++) {
                    const k = s.key(i);
                    if (k) { items[k] = s.getItem(k); }
                }
            }
        } catch (e) { /* SecurityError or storage disabled */ }
        return items;
    })()`, kind)
}

func writeStorageJS(kind string, items map[string]string) string {
	data, _ := json.Marshal(items)
	return fmt.Sprintf(`(function() {
        try {
            const s = window.%s;
            const items = %s;
            for (const k in items) { s.setItem(k, items[k]); }
            return true;
        } catch (e) { return false; }
    })()`, kind, data)
}
