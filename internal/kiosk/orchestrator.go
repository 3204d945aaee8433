// Package kiosk binds the screen's controls to the presentation loop and the
// voice session. While a voice session is outside Idle the slideshow holds
// its position; when the session returns to Idle it continues.
package kiosk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ent0n29/kiosk/internal/events"
	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/policy"
	"github.com/ent0n29/kiosk/internal/presentation"
	"github.com/ent0n29/kiosk/internal/protocol"
	"github.com/ent0n29/kiosk/internal/settings"
	"github.com/ent0n29/kiosk/internal/voice"
)

const publishTimeout = 2 * time.Second

// Session is the voice session surface the orchestrator drives.
type Session interface {
	Activate(ctx context.Context) error
	AskAgain(ctx context.Context) error
	Close()
	SetLanguage(lang string)
	State() voice.State
	Snapshot() voice.Snapshot
}

// Loop is the presentation loop surface the orchestrator drives.
type Loop interface {
	SetCatalog(c media.Catalog)
	SetMode(mode presentation.Mode)
	Start()
	Stop()
	Pause()
	Resume()
	Snapshot() presentation.Snapshot
}

// CatalogLoader fetches the media catalog.
type CatalogLoader interface {
	Load(ctx context.Context) (media.Catalog, error)
}

// StateView receives the overlay state for the renderer.
type StateView interface {
	PublishVoiceState(msg protocol.VoiceState)
}

type Config struct {
	Loop      Loop
	Settings  *settings.Store
	Catalog   CatalogLoader
	View      StateView
	Publisher events.Publisher
	Logger    *slog.Logger
}

// Snapshot is the combined controller state.
type Snapshot struct {
	Presentation presentation.Snapshot `json:"presentation"`
	Voice        voice.Snapshot        `json:"voice"`
}

type Orchestrator struct {
	loop      Loop
	settings  *settings.Store
	catalog   CatalogLoader
	view      StateView
	publisher events.Publisher
	logger    *slog.Logger

	mu        sync.Mutex
	session   Session
	mode      presentation.Mode
	lastState voice.State
	lastQuery uint64
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := cfg.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	return &Orchestrator{
		loop:      cfg.Loop,
		settings:  cfg.Settings,
		catalog:   cfg.Catalog,
		view:      cfg.View,
		publisher: pub,
		logger:    logger.With(slog.String("component", "kiosk")),
		mode:      presentation.ModeNormal,
		lastState: voice.StateIdle,
	}
}

// AttachSession installs the voice session. The session's change hook must
// be VoiceChanged.
func (o *Orchestrator) AttachSession(s Session) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = s
}

// Start loads settings and catalog concurrently and starts the slideshow.
// A failed catalog fetch leaves the placeholder up; it is not fatal.
func (o *Orchestrator) Start(ctx context.Context) error {
	catalog, err := o.load(ctx, false)
	if err != nil {
		o.logger.Warn("initial catalog load failed; showing placeholder", slog.Any("error", err))
	}
	o.loop.SetCatalog(catalog)
	o.loop.Start()
	o.logger.Info("presentation started",
		slog.Int("images", len(catalog.Images)),
		slog.Int("videos", len(catalog.Videos)),
		slog.Int("models", len(catalog.Models)),
	)
	return nil
}

// Stop ends the slideshow and any voice session.
func (o *Orchestrator) Stop() {
	if s := o.currentSession(); s != nil {
		s.Close()
	}
	o.loop.Stop()
}

// Reload refetches settings and catalog. On a catalog error the current
// catalog stays in place.
func (o *Orchestrator) Reload(ctx context.Context) error {
	catalog, err := o.load(ctx, true)
	if err != nil {
		return fmt.Errorf("reload catalog: %w", err)
	}
	o.loop.SetCatalog(catalog)
	o.publish(ctx, events.KindCatalogReloaded, map[string]any{
		"images": len(catalog.Images),
		"videos": len(catalog.Videos),
		"models": len(catalog.Models),
	})
	return nil
}

func (o *Orchestrator) load(ctx context.Context, force bool) (media.Catalog, error) {
	var catalog media.Catalog
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if o.settings == nil {
			return nil
		}
		if force {
			o.settings.Reload(gctx)
		} else {
			o.settings.Load(gctx)
		}
		return nil
	})
	g.Go(func() error {
		c, err := o.catalog.Load(gctx)
		if err != nil {
			return err
		}
		catalog = c
		return nil
	})
	err := g.Wait()
	return catalog, err
}

func (o *Orchestrator) MicPressed(ctx context.Context) error {
	s := o.currentSession()
	if s == nil {
		return voice.ErrUnsupported
	}
	return s.Activate(ctx)
}

func (o *Orchestrator) AskAgainPressed(ctx context.Context) error {
	s := o.currentSession()
	if s == nil {
		return voice.ErrUnsupported
	}
	return s.AskAgain(ctx)
}

func (o *Orchestrator) ClosePressed() {
	if s := o.currentSession(); s != nil {
		s.Close()
	}
}

func (o *Orchestrator) LanguageChanged(lang string) {
	if s := o.currentSession(); s != nil {
		s.SetLanguage(lang)
	}
}

// Toggle3D flips between the normal slideshow and model view. It does not
// touch the voice session.
func (o *Orchestrator) Toggle3D(ctx context.Context) presentation.Mode {
	o.mu.Lock()
	if o.mode == presentation.ModeModelView {
		o.mode = presentation.ModeNormal
	} else {
		o.mode = presentation.ModeModelView
	}
	mode := o.mode
	o.loop.SetMode(mode)
	o.mu.Unlock()

	o.publish(ctx, events.KindModeChanged, map[string]any{"mode": string(mode)})
	o.refreshView()
	return mode
}

// HandleControl routes one renderer control.
func (o *Orchestrator) HandleControl(ctx context.Context, msg protocol.ClientControl) error {
	switch msg.Action {
	case protocol.ActionMic:
		return o.MicPressed(ctx)
	case protocol.ActionClose:
		o.ClosePressed()
	case protocol.ActionAskAgain:
		return o.AskAgainPressed(ctx)
	case protocol.ActionLanguage:
		o.LanguageChanged(msg.Language)
	case protocol.ActionToggle3D:
		o.Toggle3D(ctx)
	case protocol.ActionReload:
		return o.Reload(ctx)
	default:
		return fmt.Errorf("unknown control %q", msg.Action)
	}
	return nil
}

// VoiceChanged is the voice session's change hook. Notifications can arrive
// out of order from different goroutines, so the live session state is
// re-read under the orchestrator lock for both the pause decision and the
// renderer view.
func (o *Orchestrator) VoiceChanged(snap voice.Snapshot) {
	o.mu.Lock()
	live := snap
	if o.session != nil {
		live = o.session.Snapshot()
	}
	if live.State == voice.StateIdle {
		o.loop.Resume()
	} else {
		o.loop.Pause()
	}
	if o.view != nil {
		o.view.PublishVoiceState(voiceState(live, o.mode))
	}
	transition := live.State != o.lastState
	from := o.lastState
	o.lastState = live.State
	newQuery := snap.State == voice.StateQuerying && snap.Transcript != "" && snap.Epoch != o.lastQuery
	if newQuery {
		o.lastQuery = snap.Epoch
	}
	o.mu.Unlock()

	if transition {
		o.publish(context.Background(), events.KindVoiceState, map[string]any{
			"from":   string(from),
			"to":     string(live.State),
			"status": live.Status,
		})
	}
	if newQuery {
		o.publish(context.Background(), events.KindVoiceQuery, map[string]any{
			"language": snap.Language,
			"text":     policy.ScrubTranscript(snap.Transcript),
		})
	}
}

func (o *Orchestrator) Snapshot() Snapshot {
	out := Snapshot{Presentation: o.loop.Snapshot()}
	if s := o.currentSession(); s != nil {
		out.Voice = s.Snapshot()
	}
	return out
}

// Mode reports the current presentation mode.
func (o *Orchestrator) Mode() presentation.Mode {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.mode
}

func (o *Orchestrator) refreshView() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.view == nil || o.session == nil {
		return
	}
	o.view.PublishVoiceState(voiceState(o.session.Snapshot(), o.mode))
}

func (o *Orchestrator) currentSession() Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session
}

func (o *Orchestrator) publish(ctx context.Context, kind string, data map[string]any) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if err := o.publisher.Publish(ctx, events.NewEvent(kind, data)); err != nil {
		o.logger.Warn("event publish failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func voiceState(s voice.Snapshot, mode presentation.Mode) protocol.VoiceState {
	return protocol.VoiceState{
		Type:        protocol.TypeVoiceState,
		State:       string(s.State),
		Status:      s.Status,
		Response:    s.Response,
		OverlayOpen: s.OverlayOpen,
		Language:    s.Language,
		Mode:        string(mode),
	}
}
