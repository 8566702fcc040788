package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"shopsavr-agent/internal/config"
)

// ErrNotConnected is returned by page operations before Start.
var ErrNotConnected = errors.New("browser not connected")

// Session describes a tracked tab.
type Session struct {
	ID         string    `json:"id"`
	TargetID   string    `json:"target_id,omitempty"`
	URL        string    `json:"url,omitempty"`
	Title      string    `json:"title,omitempty"`
	Status     string    `json:"status,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	LastActive time.Time `json:"last_active"`
}

// Target is an open Chrome tab that may not be tracked yet.
type Target struct {
	TargetID string `json:"target_id"`
	URL      string `json:"url"`
	Title    string `json:"title"`
}

type sessionRecord struct {
	meta Session
	page *rod.Page
}

// SessionManager owns the Chrome connection and tracks the tabs the agent
// watches.
type SessionManager struct {
	cfg config.BrowserConfig
	log zerolog.Logger

	mu         sync.RWMutex
	browser    *rod.Browser
	sessions   map[string]*sessionRecord
	controlURL string
}

func NewSessionManager(cfg config.BrowserConfig, log zerolog.Logger) *SessionManager {
	return &SessionManager{
		cfg:      cfg,
		log:      log.With().Str("component", "browser").Logger(),
		sessions: make(map[string]*sessionRecord),
	}
}

// Start connects to an existing Chrome or launches a new one using Rod's launcher.
func (m *SessionManager) Start(ctx context.Context) error {
	m.mu.RLock()
	current := m.browser
	m.mu.RUnlock()
	if current != nil {
		if _, err := current.Version(); err == nil {
			return nil
		}
		m.log.Warn().Msg("stale browser connection detected, reconnecting")
		_ = current.Close()
		m.mu.Lock()
		m.browser = nil
		m.controlURL = ""
		m.sessions = make(map[string]*sessionRecord)
		m.mu.Unlock()
	}

	if err := m.loadSessions(); err != nil {
		return fmt.Errorf("load sessions: %w", err)
	}

	controlURL := m.cfg.DebuggerURL
	if controlURL == "" && len(m.cfg.Launch) > 0 {
		url, err := m.launch()
		if err != nil {
			return err
		}
		controlURL = url
	}
	if controlURL == "" {
		return errors.New("no debugger_url or launch command provided")
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return fmt.Errorf("connect to chrome: %w", err)
	}

	m.mu.Lock()
	m.browser = browser
	m.controlURL = controlURL
	m.mu.Unlock()
	m.log.Info().Str("control_url", controlURL).Msg("browser connected")
	return nil
}

func (m *SessionManager) launch() (string, error) {
	bin := m.cfg.Launch[0]
	l := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless())
	for _, raw := range m.cfg.Launch[1:] {
		name, val, hasVal := strings.Cut(strings.TrimLeft(raw, "-"), "=")
		if hasVal {
			l = l.Set(flags.Flag(name), val)
		} else {
			l = l.Set(flags.Flag(name))
		}
	}
	url, err := l.Launch()
	if err == nil {
		return url, nil
	}
	// Let Rod pick the port and defaults.
	alt, altErr := launcher.New().Bin(bin).Headless(m.cfg.IsHeadless()).Launch()
	if altErr != nil {
		return "", fmt.Errorf("launch chrome: %w (fallback: %v)", err, altErr)
	}
	return alt, nil
}

// ControlURL returns the WebSocket debugger URL for the connected browser.
func (m *SessionManager) ControlURL() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.controlURL
}

func (m *SessionManager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.browser != nil
}

// Shutdown stops tracking every tab and disconnects. Tabs the agent
// attached to are left open; tabs it opened are closed.
func (m *SessionManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, rec := range m.sessions {
		if rec.page != nil && rec.meta.Status == "active" {
			_ = rec.page.Close()
		}
		delete(m.sessions, id)
	}

	var err error
	if m.browser != nil {
		err = m.browser.Close()
		m.browser = nil
	}
	m.controlURL = ""
	m.log.Info().Msg("browser shutdown complete")
	return err
}

// List returns the tracked sessions, oldest first.
func (m *SessionManager) List() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.sessions))
	for _, rec := range m.sessions {
		out = append(out, rec.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Targets lists the page targets Chrome has open, skipping browser-internal pages.
func (m *SessionManager) Targets(ctx context.Context) ([]Target, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}
	res, err := proto.TargetGetTargets{}.Call(browser.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make([]Target, 0, len(res.TargetInfos))
	for _, info := range res.TargetInfos {
		if info.Type != proto.TargetTargetInfoTypePage || isInternalURL(info.URL) {
			continue
		}
		out = append(out, Target{TargetID: string(info.TargetID), URL: info.URL, Title: info.Title})
	}
	return out, nil
}

// OpenPage opens url in a new tab of the default browser context, so the
// tab shares the user's cookies and cart.
func (m *SessionManager) OpenPage(ctx context.Context, url string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: url})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}

	if err := (proto.EmulationSetDeviceMetricsOverride{
		Width:             m.cfg.GetViewportWidth(),
		Height:            m.cfg.GetViewportHeight(),
		DeviceScaleFactor: 1.0,
	}).Call(page); err != nil {
		m.log.Warn().Err(err).Msg("failed to set viewport")
	}

	if err := page.Context(ctx).Timeout(m.cfg.NavigationTimeout()).WaitLoad(); err != nil {
		m.log.Warn().Err(err).Str("url", url).Msg("page load did not finish")
	}

	return m.track(page, string(page.TargetID), url, "active"), nil
}

// Attach binds to an existing target by TargetID.
func (m *SessionManager) Attach(ctx context.Context, targetID string) (*Session, error) {
	m.mu.RLock()
	browser := m.browser
	m.mu.RUnlock()
	if browser == nil {
		return nil, ErrNotConnected
	}

	if id, ok := m.sessionForTarget(targetID); ok {
		if s, ok := m.GetSession(id); ok && s.Status != "detached" {
			return &s, nil
		}
	}

	page, err := browser.Context(ctx).Timeout(m.cfg.AttachTimeout()).PageFromTarget(proto.TargetTargetID(targetID))
	if err != nil {
		return nil, fmt.Errorf("attach to target %s: %w", targetID, err)
	}
	// Detach the page from the attach deadline; it lives as long as the browser.
	page = page.Context(browser.GetContext())

	url := ""
	if info, err := page.Info(); err == nil {
		url = info.URL
	}
	return m.track(page, targetID, url, "attached"), nil
}

func (m *SessionManager) track(page *rod.Page, targetID, url, status string) *Session {
	now := time.Now()
	meta := Session{
		ID:         uuid.NewString(),
		TargetID:   targetID,
		URL:        url,
		Status:     status,
		CreatedAt:  now,
		LastActive: now,
	}

	m.mu.Lock()
	// A detached record for the same target is replaced.
	for id, rec := range m.sessions {
		if rec.meta.TargetID == targetID {
			delete(m.sessions, id)
		}
	}
	m.sessions[meta.ID] = &sessionRecord{meta: meta, page: page}
	m.mu.Unlock()

	if err := m.persistSessions(); err != nil {
		m.log.Warn().Err(err).Msg("persisting sessions")
	}
	m.log.Info().Str("session", meta.ID).Str("target", targetID).Str("status", status).Msg("tracking tab")
	return &meta
}

func (m *SessionManager) sessionForTarget(targetID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, rec := range m.sessions {
		if rec.meta.TargetID == targetID {
			return id, true
		}
	}
	return "", false
}

// Page returns the Rod page of a session. Sessions restored from disk have
// no page until they are attached again.
func (m *SessionManager) Page(sessionID string) (*rod.Page, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok || rec.page == nil {
		return nil, false
	}
	return rec.page, true
}

// Close stops tracking a session, closing the tab if the agent opened it.
func (m *SessionManager) Close(sessionID string) error {
	m.mu.Lock()
	rec, ok := m.sessions[sessionID]
	delete(m.sessions, sessionID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	var err error
	if rec.page != nil && rec.meta.Status == "active" {
		err = rec.page.Close()
	}
	if perr := m.persistSessions(); perr != nil {
		m.log.Warn().Err(perr).Msg("persisting sessions")
	}
	return err
}

// UpdateMetadata refreshes a session's metadata, e.g. URL after navigation.
func (m *SessionManager) UpdateMetadata(sessionID string, updater func(Session) Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return
	}
	rec.meta = updater(rec.meta)
}

func (m *SessionManager) GetSession(sessionID string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, false
	}
	return rec.meta, true
}

// persistSessions writes session metadata to disk for continuity across restarts.
func (m *SessionManager) persistSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := json.MarshalIndent(m.List(), "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(m.cfg.SessionStore), 0o755); err != nil {
		return err
	}
	return os.WriteFile(m.cfg.SessionStore, data, 0o644)
}

// loadSessions restores persisted metadata as detached sessions. It never
// attaches to pages.
func (m *SessionManager) loadSessions() error {
	if m.cfg.SessionStore == "" {
		return nil
	}

	data, err := os.ReadFile(m.cfg.SessionStore)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var sessions []Session
	if err := json.Unmarshal(data, &sessions); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range sessions {
		if _, ok := m.sessions[s.ID]; ok {
			continue
		}
		s.Status = "detached"
		m.sessions[s.ID] = &sessionRecord{meta: s}
	}
	return nil
}

// isInternalURL reports browser-internal pages that are never checkouts.
func isInternalURL(url string) bool {
	for _, prefix := range []string{"chrome://", "chrome-extension://", "devtools://", "about:", "data:", "blob:"} {
		if strings.HasPrefix(url, prefix) {
			return true
		}
	}
	return false
}
