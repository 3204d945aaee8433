// Package settings holds presentation timing and locale defaults fetched from
// the backend.
package settings

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	DefaultLanguage         = "en"
	DefaultSliderIntervalMS = 7000
)

// Settings are loaded once at startup; later admin edits only take effect on
// the next explicit reload. The interval is always milliseconds here.
type Settings struct {
	DefaultLanguage  string `json:"default_language"`
	SliderIntervalMS int64  `json:"slider_interval_ms"`
	WelcomeMessage   string `json:"welcome_message"`
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		DefaultLanguage:  DefaultLanguage,
		SliderIntervalMS: DefaultSliderIntervalMS,
		WelcomeMessage:   "",
	}
}

// WithDefaults fills every missing or invalid field from Defaults.
func (s Settings) WithDefaults() Settings {
	s.DefaultLanguage = strings.TrimSpace(s.DefaultLanguage)
	if s.DefaultLanguage == "" {
		s.DefaultLanguage = DefaultLanguage
	}
	if s.SliderIntervalMS <= 0 {
		s.SliderIntervalMS = DefaultSliderIntervalMS
	}
	return s
}

// SliderInterval is the dwell time for images and model clips.
func (s Settings) SliderInterval() time.Duration {
	ms := s.SliderIntervalMS
	if ms <= 0 {
		ms = DefaultSliderIntervalMS
	}
	return time.Duration(ms) * time.Millisecond
}

// Source fetches the served settings document.
type Source interface {
	FetchSettings(ctx context.Context) (Settings, error)
}

// Store caches settings. It never fails its caller: a failed fetch yields the
// built-in defaults and leaves the store unloaded so a later Load or Reload
// can supersede them.
type Store struct {
	src    Source
	logger *slog.Logger

	mu      sync.RWMutex
	current Settings
	loaded  bool
}

func NewStore(src Source, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		src:     src,
		logger:  logger.With(slog.String("component", "settings")),
		current: Defaults(),
	}
}

// Load returns the cached settings, fetching them if not loaded yet.
func (s *Store) Load(ctx context.Context) Settings {
	s.mu.RLock()
	if s.loaded {
		cur := s.current
		s.mu.RUnlock()
		return cur
	}
	s.mu.RUnlock()
	return s.Reload(ctx)
}

// Reload always refetches.
func (s *Store) Reload(ctx context.Context) Settings {
	fetched, err := s.src.FetchSettings(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		s.logger.Warn("settings fetch failed; using defaults", slog.Any("error", err))
		if !s.loaded {
			s.current = Defaults()
		}
		return s.current
	}
	s.current = fetched.WithDefaults()
	s.loaded = true
	return s.current
}

// Current returns the settings in effect without fetching.
func (s *Store) Current() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Loaded reports whether a fetch has ever succeeded.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}
