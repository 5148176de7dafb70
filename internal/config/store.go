package config

import (
	"fmt"
	"maps"
	"slices"
	"sync"
)

// ChromeHandle is the owned browser process recorded after launch.
type ChromeHandle interface {
	Kill() error
}

// Settings is the runtime configuration consulted on every request.
type Settings struct {
	RenderOnly []string
	Debug      bool
	Extra      map[string]any

	Host         string
	Port         int
	// DebuggerPath is the browser's /devtools/browser/<id> endpoint.
	DebuggerPath string
	Chrome       ChromeHandle
}

// Store holds the active Settings. The zero value is not usable; use NewStore.
type Store struct {
	mu       sync.RWMutex
	settings Settings
}

// NewStore creates a Store seeded with initial settings.
func NewStore(initial Settings) *Store {
	return &Store{settings: initial.clone()}
}

// Current returns a copy of the active settings.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.clone()
}

// Connection returns the recorded browser host, port and debugger path.
func (s *Store) Connection() (string, int, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.settings.Host, s.settings.Port, s.settings.DebuggerPath
}

// SetConnection records the launched browser.
func (s *Store) SetConnection(chrome ChromeHandle, host string, port int, debuggerPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings.Chrome = chrome
	s.settings.Host = host
	s.settings.Port = port
	s.settings.DebuggerPath = debuggerPath
}

// Replace swaps in next wholesale. The browser handle and connection of the
// previous settings always carry over so the running process is never orphaned.
func (s *Store) Replace(next Settings) {
	next = next.clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	next.Chrome = s.settings.Chrome
	next.Port = s.settings.Port
	next.Host = s.settings.Host
	next.DebuggerPath = s.settings.DebuggerPath
	s.settings = next
}

// Stop kills the owned browser process. It is a no-op before launch.
func (s *Store) Stop() error {
	s.mu.RLock()
	chrome := s.settings.Chrome
	s.mu.RUnlock()
	if chrome == nil {
		return nil
	}
	if err := chrome.Kill(); err != nil {
		return fmt.Errorf("kill browser: %w", err)
	}
	return nil
}

func (s Settings) clone() Settings {
	cp := s
	cp.RenderOnly = cloneStrings(s.RenderOnly)
	cp.Extra = cloneMap(s.Extra)
	return cp
}

func cloneStrings(src []string) []string {
	if src == nil {
		return nil
	}
	return slices.Clone(src)
}

func cloneMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	return maps.Clone(src)
}
