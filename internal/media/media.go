// Package media holds the presentable items shown by the kiosk and the
// catalog that partitions them by kind.
package media

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Kind identifies the presentation policy of an item.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
	KindModel Kind = "model"
)

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindImage, KindVideo, KindModel:
		return true
	default:
		return false
	}
}

// ParseKind normalizes a user supplied kind string.
func ParseKind(raw string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(raw)))
	if !k.Valid() {
		return "", fmt.Errorf("unknown media type %q", raw)
	}
	return k, nil
}

// Item is one presentable media record. Items are immutable once loaded;
// identity is (Kind, URL).
type Item struct {
	Kind     Kind   `json:"type"`
	URL      string `json:"url"`
	Caption  string `json:"caption"`
	Filename string `json:"filename,omitempty"`
	// DurationMS is an optional server-side hint for video length.
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// Key returns the identity of the item.
func (i Item) Key() string {
	return string(i.Kind) + "|" + i.URL
}

// Duration returns the hinted playback length, if any.
func (i Item) Duration() (time.Duration, bool) {
	if i.DurationMS <= 0 {
		return 0, false
	}
	return time.Duration(i.DurationMS) * time.Millisecond, true
}

// Catalog is a full snapshot of the media listing, partitioned by kind.
// It is replaced wholesale on every load.
type Catalog struct {
	Images []Item
	Videos []Item
	Models []Item
}

// Partition splits items by kind, preserving server order within each kind.
// Items with an unknown kind are dropped.
func Partition(items []Item) Catalog {
	var c Catalog
	for _, it := range items {
		switch it.Kind {
		case KindImage:
			c.Images = append(c.Images, it)
		case KindVideo:
			c.Videos = append(c.Videos, it)
		case KindModel:
			c.Models = append(c.Models, it)
		}
	}
	return c
}

// Slides returns the normal presentation sequence: images then videos.
func (c Catalog) Slides() []Item {
	out := make([]Item, 0, len(c.Images)+len(c.Videos))
	out = append(out, c.Images...)
	out = append(out, c.Videos...)
	return out
}

// ModelClips returns the model-view presentation sequence.
func (c Catalog) ModelClips() []Item {
	out := make([]Item, len(c.Models))
	copy(out, c.Models)
	return out
}

// Len returns the total number of items across all kinds.
func (c Catalog) Len() int {
	return len(c.Images) + len(c.Videos) + len(c.Models)
}

// Source lists media records. An empty kind lists everything.
type Source interface {
	ListMedia(ctx context.Context, kind Kind) ([]Item, error)
}

// Loader fetches and partitions the catalog.
type Loader struct {
	src Source
}

func NewLoader(src Source) *Loader {
	return &Loader{src: src}
}

// Load fetches the full listing. A zero-item catalog is valid; errors from
// the source are returned unchanged so callers can inspect the fetch error.
func (l *Loader) Load(ctx context.Context) (Catalog, error) {
	items, err := l.src.ListMedia(ctx, "")
	if err != nil {
		return Catalog{}, err
	}
	return Partition(items), nil
}
