// Package store persists the media records and settings served to kiosks.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/settings"
)

var ErrNotFound = errors.New("not found")

// MediaRecord is one uploaded media file.
type MediaRecord struct {
	ID         string     `json:"id"`
	Kind       media.Kind `json:"type"`
	Filename   string     `json:"filename"`
	Caption    string     `json:"caption"`
	URL        string     `json:"url"`
	DurationMS int64      `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Item is the presentable view of the record.
func (r MediaRecord) Item() media.Item {
	return media.Item{
		Kind:       r.Kind,
		URL:        r.URL,
		Caption:    r.Caption,
		Filename:   r.Filename,
		DurationMS: r.DurationMS,
	}
}

// Store persists media records and the settings document.
type Store interface {
	// ListMedia returns records in upload order. An empty kind lists all.
	ListMedia(ctx context.Context, kind media.Kind) ([]MediaRecord, error)
	AddMedia(ctx context.Context, rec MediaRecord) (MediaRecord, error)
	// DeleteMedia removes the record and returns it, or ErrNotFound.
	DeleteMedia(ctx context.Context, kind media.Kind, filename string) (MediaRecord, error)
	// GetSettings returns the stored settings, or the defaults when none
	// were ever saved.
	GetSettings(ctx context.Context) (settings.Settings, error)
	PutSettings(ctx context.Context, s settings.Settings) error
	Mode() string
	Close() error
}

func stamp(rec MediaRecord, id string, now time.Time) MediaRecord {
	if rec.ID == "" {
		rec.ID = id
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now.UTC()
	}
	return rec
}
