// Package renderer bridges the controller to the browser page on the kiosk
// screen. The Hub forwards display, playback and speech commands over the
// websocket and routes the page's replies back by correlation id.
package renderer

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/observability"
	"github.com/ent0n29/kiosk/internal/presentation"
	"github.com/ent0n29/kiosk/internal/protocol"
	"github.com/ent0n29/kiosk/internal/voice"
)

// ErrNoRenderer is reported to pending speech callbacks when the last page
// disconnects.
var ErrNoRenderer = errors.New("renderer disconnected")

// ControlHandler receives user controls from the page.
type ControlHandler interface {
	HandleControl(ctx context.Context, msg protocol.ClientControl) error
}

type Hub struct {
	logger  *slog.Logger
	metrics *observability.Metrics

	mu           sync.Mutex
	clients      map[*client]struct{}
	controls     ControlHandler
	caps         protocol.Capabilities
	voices       []voice.Voice
	voiceWaiters map[int]func()
	nextWaiter   int
	playbacks    map[string]*playback
	durations    map[string]time.Duration
	recognition  *recognitionAttempt
	speech       map[string]func(error)
	lastSlide    any
	lastVoice    *protocol.VoiceState
}

type recognitionAttempt struct {
	id      string
	handler voice.RecognitionHandler
}

var (
	_ presentation.Display     = (*Hub)(nil)
	_ presentation.VideoPlayer = (*Hub)(nil)
	_ voice.Recognizer         = (*Hub)(nil)
	_ voice.Synthesizer        = (*Hub)(nil)
)

func NewHub(logger *slog.Logger, metrics *observability.Metrics) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		logger:       logger.With(slog.String("component", "renderer")),
		metrics:      metrics,
		clients:      make(map[*client]struct{}),
		voiceWaiters: make(map[int]func()),
		playbacks:    make(map[string]*playback),
		durations:    make(map[string]time.Duration),
		speech:       make(map[string]func(error)),
	}
}

// SetControlHandler installs the receiver of client_control messages.
func (h *Hub) SetControlHandler(c ControlHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.controls = c
}

// Clients reports the number of connected pages.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) Show(index int, item media.Item) {
	msg := protocol.SlideShow{
		Type:    protocol.TypeSlideShow,
		Index:   index,
		Kind:    string(item.Kind),
		URL:     item.URL,
		Caption: item.Caption,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSlide = msg
	h.broadcastLocked(msg.Type, msg)
}

func (h *Hub) ShowPlaceholder(mode presentation.Mode, text string) {
	msg := protocol.SlidePlaceholder{
		Type: protocol.TypeSlidePlaceholder,
		Mode: string(mode),
		Text: text,
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastSlide = msg
	h.broadcastLocked(msg.Type, msg)
}

// PublishVoiceState pushes the overlay state to every page and remembers it
// for pages that connect later.
func (h *Hub) PublishVoiceState(msg protocol.VoiceState) {
	msg.Type = protocol.TypeVoiceState
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastVoice = &msg
	h.broadcastLocked(msg.Type, msg)
}

// Play starts video playback on the page. The duration comes from the item
// hint or from metadata a page reported for the same URL earlier; otherwise
// it arrives later through OnDuration. Pages that connect mid-video get the
// same video_play replayed.
func (h *Hub) Play(item media.Item) (presentation.Playback, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	dur, ok := item.Duration()
	if !ok {
		dur, ok = h.durations[item.URL]
	}
	pb := &playback{
		hub:         h,
		id:          uuid.NewString(),
		url:         item.URL,
		duration:    dur,
		hasDuration: ok,
	}
	h.playbacks[pb.id] = pb
	msg := protocol.VideoPlay{
		Type: protocol.TypeVideoPlay,
		ID:   pb.id,
		URL:  item.URL,
	}
	h.lastSlide = msg
	h.broadcastLocked(msg.Type, msg)
	return pb, nil
}

// CanRecognize reports whether a connected page announced recognition.
func (h *Hub) CanRecognize() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps.Recognition && len(h.clients) > 0
}

// CanSpeak reports whether a connected page announced synthesis.
func (h *Hub) CanSpeak() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.caps.Synthesis && len(h.clients) > 0
}

func (h *Hub) Start(locale string, handler voice.RecognitionHandler) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.caps.Recognition || len(h.clients) == 0 {
		return voice.ErrUnsupported
	}
	if h.recognition != nil {
		h.stopRecognitionLocked()
	}
	attempt := &recognitionAttempt{id: uuid.NewString(), handler: handler}
	h.recognition = attempt
	h.broadcastLocked(protocol.TypeRecognitionStart, protocol.RecognitionStart{
		Type:   protocol.TypeRecognitionStart,
		ID:     attempt.id,
		Locale: locale,
	})
	return nil
}

func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopRecognitionLocked()
}

func (h *Hub) stopRecognitionLocked() {
	if h.recognition == nil {
		return
	}
	id := h.recognition.id
	h.recognition = nil
	h.broadcastLocked(protocol.TypeRecognitionStop, protocol.RecognitionStop{
		Type: protocol.TypeRecognitionStop,
		ID:   id,
	})
}

func (h *Hub) Voices() []voice.Voice {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]voice.Voice(nil), h.voices...)
}

func (h *Hub) OnVoicesReady(fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.voices) > 0 {
		go fn()
		return func() {}
	}
	h.nextWaiter++
	id := h.nextWaiter
	h.voiceWaiters[id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.voiceWaiters, id)
	}
}

func (h *Hub) Speak(u voice.Utterance, onEnd func(error)) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.caps.Synthesis || len(h.clients) == 0 {
		return voice.ErrUnsupported
	}
	msg := protocol.Speak{
		Type:  protocol.TypeSpeak,
		ID:    uuid.NewString(),
		Text:  u.Text,
		Lang:  u.Lang,
		Rate:  u.Rate,
		Pitch: u.Pitch,
	}
	if u.Voice != nil {
		msg.VoiceName = u.Voice.Name
	}
	if onEnd != nil {
		h.speech[msg.ID] = onEnd
	}
	h.broadcastLocked(msg.Type, msg)
	return nil
}

// Cancel clears the page's speech queue. Pending end callbacks are dropped.
func (h *Hub) Cancel() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.speech) == 0 {
		return
	}
	clear(h.speech)
	h.broadcastLocked(protocol.TypeSpeechCancel, protocol.SpeechCancel{Type: protocol.TypeSpeechCancel})
}

// dispatch routes one parsed inbound message. Callbacks run without the hub
// lock held.
func (h *Hub) dispatch(ctx context.Context, c *client, msg any) {
	switch m := msg.(type) {
	case protocol.ClientControl:
		h.mu.Lock()
		controls := h.controls
		h.mu.Unlock()
		if controls == nil {
			return
		}
		if err := controls.HandleControl(ctx, m); err != nil {
			h.logger.Warn("control failed", slog.String("action", m.Action), slog.Any("error", err))
			c.enqueue(protocol.TypeErrorEvent, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "control_failed",
				Source:    m.Action,
				Retryable: true,
				Detail:    err.Error(),
			})
		}
	case protocol.Capabilities:
		h.mu.Lock()
		h.caps = m
		var waiters []func()
		if !m.Synthesis {
			waiters = h.takeVoiceWaitersLocked()
		}
		h.mu.Unlock()
		h.logger.Info("renderer capabilities", slog.Bool("recognition", m.Recognition), slog.Bool("synthesis", m.Synthesis))
		// No voice list will ever come; let waiters see CanSpeak is false.
		for _, fn := range waiters {
			fn()
		}
	case protocol.Voices:
		h.setVoices(m.Voices)
	case protocol.VideoMeta:
		dur := time.Duration(m.DurationMS) * time.Millisecond
		h.mu.Lock()
		url := m.URL
		var notify func(time.Duration)
		if pb, ok := h.playbacks[m.ID]; ok {
			if url == "" {
				url = pb.url
			}
			if !pb.hasDuration && dur > 0 {
				pb.duration, pb.hasDuration = dur, true
				notify = pb.onDuration
				pb.onDuration = nil
			}
		}
		if url != "" {
			h.durations[url] = dur
		}
		h.mu.Unlock()
		if notify != nil {
			notify(dur)
		}
	case protocol.VideoEnded:
		h.mu.Lock()
		var fn func()
		if pb, ok := h.playbacks[m.ID]; ok {
			fn = pb.ended
		}
		h.mu.Unlock()
		if fn != nil {
			fn()
		}
	case protocol.RecognitionResult:
		if handler, ok := h.takeRecognition(m.ID); ok && handler.OnResult != nil {
			handler.OnResult(m.Transcript)
		}
	case protocol.RecognitionError:
		if handler, ok := h.takeRecognition(m.ID); ok && handler.OnError != nil {
			handler.OnError(&voice.RecognitionError{Code: m.Code, Detail: m.Detail})
		}
	case protocol.SpeechEnd:
		h.mu.Lock()
		fn, ok := h.speech[m.ID]
		delete(h.speech, m.ID)
		h.mu.Unlock()
		if !ok {
			return
		}
		var err error
		if m.Error != "" {
			err = errors.New(m.Error)
		}
		fn(err)
	}
}

func (h *Hub) takeRecognition(id string) (voice.RecognitionHandler, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.recognition == nil || h.recognition.id != id {
		return voice.RecognitionHandler{}, false
	}
	handler := h.recognition.handler
	h.recognition = nil
	return handler, true
}

func (h *Hub) setVoices(infos []protocol.VoiceInfo) {
	voices := make([]voice.Voice, 0, len(infos))
	for _, v := range infos {
		voices = append(voices, voice.Voice{Name: v.Name, Lang: v.Lang})
	}
	h.mu.Lock()
	h.voices = voices
	var fire []func()
	if len(voices) > 0 {
		fire = h.takeVoiceWaitersLocked()
	}
	h.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

func (h *Hub) takeVoiceWaitersLocked() []func() {
	fire := make([]func(), 0, len(h.voiceWaiters))
	for id, fn := range h.voiceWaiters {
		fire = append(fire, fn)
		delete(h.voiceWaiters, id)
	}
	return fire
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	h.metrics.SetRendererClients(len(h.clients))
	if h.lastSlide != nil {
		c.enqueue(typeOf(h.lastSlide), h.lastSlide)
	}
	if h.lastVoice != nil {
		c.enqueue(h.lastVoice.Type, *h.lastVoice)
	}
}

// unregister drops c. When the last page leaves, pending recognition, speech
// and voice-list waiters are released so the voice session can return to rest.
func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.metrics.SetRendererClients(len(h.clients))
	if len(h.clients) > 0 {
		h.mu.Unlock()
		return
	}
	h.caps = protocol.Capabilities{}
	rec := h.recognition
	h.recognition = nil
	pending := make([]func(error), 0, len(h.speech))
	for _, fn := range h.speech {
		pending = append(pending, fn)
	}
	clear(h.speech)
	waiters := h.takeVoiceWaitersLocked()
	h.mu.Unlock()

	for _, fn := range waiters {
		fn()
	}
	if rec != nil && rec.handler.OnError != nil {
		rec.handler.OnError(&voice.RecognitionError{Code: "renderer-disconnected"})
	}
	for _, fn := range pending {
		fn(ErrNoRenderer)
	}
}

func (h *Hub) broadcastLocked(t protocol.MessageType, msg any) {
	for c := range h.clients {
		c.enqueue(t, msg)
	}
}

func typeOf(msg any) protocol.MessageType {
	switch m := msg.(type) {
	case protocol.SlideShow:
		return m.Type
	case protocol.SlidePlaceholder:
		return m.Type
	case protocol.VideoPlay:
		return m.Type
	default:
		return ""
	}
}

// playback is one video started on the page.
type playback struct {
	hub         *Hub
	id          string
	url         string
	duration    time.Duration
	hasDuration bool

	onEnded    func()
	onDuration func(time.Duration)
	stopped    bool
}

func (p *playback) Duration() (time.Duration, bool) {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return p.duration, p.hasDuration
}

// OnDuration registers fn for the page's video_meta report. When the length
// is already known fn still runs, asynchronously.
func (p *playback) OnDuration(fn func(time.Duration)) func() {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	if p.hasDuration {
		dur := p.duration
		go fn(dur)
		return func() {}
	}
	p.onDuration = fn
	return func() {
		p.hub.mu.Lock()
		defer p.hub.mu.Unlock()
		p.onDuration = nil
	}
}

func (p *playback) OnEnded(fn func()) func() {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	p.onEnded = fn
	return func() {
		p.hub.mu.Lock()
		defer p.hub.mu.Unlock()
		p.onEnded = nil
	}
}

func (p *playback) ended() {
	p.hub.mu.Lock()
	fn := p.onEnded
	p.hub.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (p *playback) Stop() {
	h := p.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if p.stopped {
		return
	}
	p.stopped = true
	p.onEnded = nil
	p.onDuration = nil
	delete(h.playbacks, p.id)
	h.broadcastLocked(protocol.TypeVideoStop, protocol.VideoStop{
		Type: protocol.TypeVideoStop,
		ID:   p.id,
	})
}
