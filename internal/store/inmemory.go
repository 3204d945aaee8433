package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/settings"
)

// InMemoryStore is a simple in-process store for local/dev use.
type InMemoryStore struct {
	mu       sync.RWMutex
	records  []MediaRecord
	settings *settings.Settings
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) ListMedia(_ context.Context, kind media.Kind) ([]MediaRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]MediaRecord, 0, len(s.records))
	for _, r := range s.records {
		if kind == "" || r.Kind == kind {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *InMemoryStore) AddMedia(_ context.Context, rec MediaRecord) (MediaRecord, error) {
	if !rec.Kind.Valid() {
		return MediaRecord{}, fmt.Errorf("add media: invalid type %q", rec.Kind)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Kind == rec.Kind && r.Filename == rec.Filename {
			return MediaRecord{}, fmt.Errorf("add media: %s/%s already exists", rec.Kind, rec.Filename)
		}
	}
	rec = stamp(rec, uuid.NewString(), time.Now())
	s.records = append(s.records, rec)
	return rec, nil
}

func (s *InMemoryStore) DeleteMedia(_ context.Context, kind media.Kind, filename string) (MediaRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.records {
		if r.Kind == kind && r.Filename == filename {
			s.records = append(s.records[:i:i], s.records[i+1:]...)
			return r, nil
		}
	}
	return MediaRecord{}, ErrNotFound
}

func (s *InMemoryStore) GetSettings(_ context.Context) (settings.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.settings == nil {
		return settings.Defaults(), nil
	}
	return *s.settings, nil
}

func (s *InMemoryStore) PutSettings(_ context.Context, in settings.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := in.WithDefaults()
	s.settings = &v
	return nil
}

func (s *InMemoryStore) Mode() string { return "in-memory" }

func (s *InMemoryStore) Close() error { return nil }
