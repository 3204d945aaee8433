// Package presentation sequences media items on the kiosk display.
//
// Each step shows one item and waits for its dwell: a plain timer for images
// and model clips, or a race between the video's ended event and a fallback
// timer. Every mode switch or catalog reload bumps the loop generation; a
// dwell that resolves under an older generation is dropped without touching
// the cursor.
package presentation

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/observability"
)

// Mode selects the active presentation set.
type Mode string

const (
	ModeNormal    Mode = "normal"
	ModeModelView Mode = "model-view"
)

// ParseMode accepts "normal" and "model-view" (also "3d").
func ParseMode(raw string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "normal":
		return ModeNormal, nil
	case "model-view", "model", "3d":
		return ModeModelView, nil
	default:
		return "", fmt.Errorf("unknown presentation mode %q", raw)
	}
}

// videoGrace is added to a video's duration for the fallback timer.
const videoGrace = time.Second

const (
	PlaceholderNormal    = "No media uploaded yet. Use Admin Panel → Media."
	PlaceholderModelView = "No 3D models uploaded yet. Use Admin Panel → Media."
)

// Display renders slides. Implementations must not call back into the Loop.
type Display interface {
	// Show makes item the only visible slide.
	Show(index int, item media.Item)
	// ShowPlaceholder renders the "no media" slide.
	ShowPlaceholder(mode Mode, text string)
}

// VideoPlayer starts playback of video items.
type VideoPlayer interface {
	Play(item media.Item) (Playback, error)
}

// Playback is one started video. Callbacks must never run synchronously
// inside Play, OnEnded or OnDuration.
type Playback interface {
	// Duration reports the playable length, if readable.
	Duration() (time.Duration, bool)
	// OnEnded registers fn for the ended event and returns its remover.
	OnEnded(fn func()) (remove func())
	// OnDuration registers fn for a length learned after Play.
	OnDuration(fn func(time.Duration)) (remove func())
	// Stop pauses and rewinds. Safe to call more than once.
	Stop()
}

// Cursor is the loop position. Generation increments on every mode switch or
// catalog reload.
type Cursor struct {
	Index      int    `json:"index"`
	Mode       Mode   `json:"mode"`
	Generation uint64 `json:"generation"`
}

// Snapshot is a read-only view of the loop.
type Snapshot struct {
	Cursor  Cursor `json:"cursor"`
	Length  int    `json:"length"`
	Started bool   `json:"started"`
	Paused  bool   `json:"paused"`
}

type Option func(*Loop)

func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

func WithLogger(logger *slog.Logger) Option { return func(l *Loop) { l.logger = logger } }

func WithMetrics(m *observability.Metrics) Option { return func(l *Loop) { l.metrics = m } }

// Loop is the presentation loop. All methods are safe for concurrent use.
type Loop struct {
	display  Display
	player   VideoPlayer
	interval func() time.Duration
	clock    Clock
	logger   *slog.Logger
	metrics  *observability.Metrics

	mu         sync.Mutex
	catalog    media.Catalog
	mode       Mode
	set        []media.Item
	index      int
	generation uint64
	started    bool
	paused     bool
	held       bool
	dwell      *dwell
}

// dwell is the pending wait of one step. Whichever of its timer or ended
// listener fires first resolves it; the other becomes a no-op.
type dwell struct {
	gen         uint64
	timer       Timer
	playback    Playback
	removeEnded    func()
	removeDuration func()
	arm            uint64
	done           bool
}

func (d *dwell) cleanup() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.removeEnded != nil {
		d.removeEnded()
		d.removeEnded = nil
	}
	if d.removeDuration != nil {
		d.removeDuration()
		d.removeDuration = nil
	}
	if d.playback != nil {
		d.playback.Stop()
		d.playback = nil
	}
}

// NewLoop builds a loop in normal mode. interval supplies the image/model
// dwell and is read at every step, so reloaded settings apply on the next one.
func NewLoop(display Display, player VideoPlayer, interval func() time.Duration, opts ...Option) *Loop {
	l := &Loop{
		display:  display,
		player:   player,
		interval: interval,
		clock:    RealClock(),
		logger:   slog.Default(),
		mode:     ModeNormal,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "presentation"))
	return l
}

// SetCatalog replaces the catalog wholesale and restarts the active set at 0.
func (l *Loop) SetCatalog(c media.Catalog) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.catalog = c
	l.resetLocked()
}

// SetMode swaps the active set and restarts it at 0. An empty set renders the
// placeholder and schedules nothing.
func (l *Loop) SetMode(mode Mode) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = mode
	l.resetLocked()
}

// Start begins the advance cycle at index 0.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.started = true
	l.resetLocked()
}

// Stop tears down any pending dwell. A stopped loop can be started again.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.teardownLocked()
	l.generation++
	l.metrics.SetGeneration(l.generation)
	l.started = false
}

// Pause holds the current position. A dwell that completes while paused does
// not advance; a playing video keeps rendering.
func (l *Loop) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.paused = true
}

// Resume releases a pause. If the dwell expired meanwhile, the current item
// is shown again with a fresh dwell.
func (l *Loop) Resume() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.paused {
		return
	}
	l.paused = false
	if l.held {
		l.held = false
		if l.started {
			l.stepLocked()
		}
	}
}

func (l *Loop) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot{
		Cursor:  Cursor{Index: l.index, Mode: l.mode, Generation: l.generation},
		Length:  len(l.set),
		Started: l.started,
		Paused:  l.paused,
	}
}

func (l *Loop) resetLocked() {
	l.teardownLocked()
	l.generation++
	l.metrics.SetGeneration(l.generation)
	l.set = setFor(l.catalog, l.mode)
	l.index = 0
	if l.started {
		l.stepLocked()
	}
}

func (l *Loop) teardownLocked() {
	if l.dwell != nil {
		l.dwell.done = true
		l.dwell.cleanup()
		l.dwell = nil
	}
	l.held = false
}

func (l *Loop) stepLocked() {
	if len(l.set) == 0 {
		l.display.ShowPlaceholder(l.mode, placeholderText(l.mode))
		return
	}
	item := l.set[l.index]
	l.display.Show(l.index, item)
	l.metrics.ObserveSlide(string(item.Kind))
	l.logger.Debug("slide shown",
		slog.Int("index", l.index),
		slog.String("kind", string(item.Kind)),
		slog.Uint64("generation", l.generation),
	)

	d := &dwell{gen: l.generation}
	l.dwell = d
	if item.Kind == media.KindVideo && l.player != nil && l.armVideoLocked(d, item) {
		return
	}
	d.timer = l.clock.AfterFunc(l.interval(), func() { l.finish(d, "timer") })
}

func (l *Loop) armVideoLocked(d *dwell, item media.Item) bool {
	pb, err := l.player.Play(item)
	if err != nil {
		l.logger.Warn("video playback failed; using slide interval", slog.String("url", item.URL), slog.Any("error", err))
		return false
	}
	d.playback = pb
	wait := l.interval()
	if dur, ok := pb.Duration(); ok && dur > 0 {
		wait = dur + videoGrace
	} else {
		d.removeDuration = pb.OnDuration(func(dur time.Duration) { l.rearm(d, dur) })
	}
	d.removeEnded = pb.OnEnded(func() { l.finish(d, "ended") })
	l.armFallbackLocked(d, wait)
	return true
}

// armFallbackLocked schedules the video fallback. Only the latest arm may
// end the dwell; a replaced timer that already fired is ignored.
func (l *Loop) armFallbackLocked(d *dwell, wait time.Duration) {
	d.arm++
	arm := d.arm
	d.timer = l.clock.AfterFunc(wait, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if d.arm != arm {
			return
		}
		l.finishLocked(d, "fallback")
	})
}

// rearm replaces the slide-interval fallback once the video length is known.
// The new deadline counts from now, not from Play.
func (l *Loop) rearm(d *dwell, dur time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if d.done || d.gen != l.generation || l.dwell != d || dur <= 0 {
		return
	}
	d.removeDuration = nil
	if d.timer != nil {
		d.timer.Stop()
	}
	l.armFallbackLocked(d, dur+videoGrace)
}

func (l *Loop) finish(d *dwell, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finishLocked(d, reason)
}

func (l *Loop) finishLocked(d *dwell, reason string) {
	if d.done {
		return
	}
	d.done = true
	d.cleanup()
	if d.gen != l.generation || l.dwell != d {
		l.metrics.ObserveDwell("stale")
		return
	}
	l.dwell = nil
	l.metrics.ObserveDwell(reason)
	if l.paused {
		l.held = true
		return
	}
	l.index = (l.index + 1) % len(l.set)
	l.stepLocked()
}

func setFor(c media.Catalog, mode Mode) []media.Item {
	if mode == ModeModelView {
		return c.ModelClips()
	}
	return c.Slides()
}

func placeholderText(mode Mode) string {
	if mode == ModeModelView {
		return PlaceholderModelView
	}
	return PlaceholderNormal
}
