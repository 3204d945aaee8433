package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ent0n29/kiosk/internal/backend"
	"github.com/ent0n29/kiosk/internal/observability"
	"github.com/ent0n29/kiosk/internal/settings"
)

type State string

const (
	StateIdle            State = "idle"
	StateAwaitingWelcome State = "awaiting_welcome"
	StateListening       State = "listening"
	StateRecognized      State = "recognized"
	StateQuerying        State = "querying"
	StateSpeaking        State = "speaking"
	StateError           State = "error"
)

const (
	DefaultWelcome = "Welcome! How can I assist you?"

	StatusIdle        = "Idle - click ask again to start the chatbot."
	StatusListening   = "Listening..."
	StatusNoSpeech    = "No speech detected."
	StatusRecognized  = "Recognized — sending to server..."
	StatusFetching    = "Fetching answer..."
	StatusAnswerReady = "Answer ready"
	StatusError       = "Error"
	StatusUnsupported = "Speech recognition is not supported on this device."

	preparingAnswer = "Preparing answer..."
	noReply         = "(no reply)"

	defaultQueryTimeout = 30 * time.Second
)

var errNoQuerier = errors.New("no query backend configured")

// Snapshot is the user-visible session state.
type Snapshot struct {
	State       State  `json:"state"`
	Status      string `json:"status"`
	Response    string `json:"response"`
	Transcript  string `json:"transcript,omitempty"`
	OverlayOpen bool   `json:"overlay_open"`
	Language    string `json:"language"`
	Epoch       uint64 `json:"epoch"`
}

type Config struct {
	Recognizer   Recognizer
	Synthesizer  Synthesizer
	Querier      Querier
	Settings     func() settings.Settings
	QueryTimeout time.Duration
	Logger       *slog.Logger
	Metrics      *observability.Metrics
	// OnChange runs after every mutation, outside the session lock.
	OnChange func(Snapshot)
}

// Session is the single-flight voice interaction: welcome, listen once,
// query, speak. Every asynchronous callback captures the epoch it was
// issued under and is dropped once the epoch has moved on.
type Session struct {
	rec          Recognizer
	synth        Synthesizer
	querier      Querier
	settings     func() settings.Settings
	queryTimeout time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
	onChange     func(Snapshot)

	mu           sync.Mutex
	state        State
	status       string
	response     string
	transcript   string
	overlay      bool
	selection    string
	epoch        uint64
	baseCtx      context.Context
	cancelVoices func()
	cancelQuery  context.CancelFunc
}

func NewSession(cfg Config) *Session {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	settingsFn := cfg.Settings
	if settingsFn == nil {
		settingsFn = settings.Defaults
	}
	timeout := cfg.QueryTimeout
	if timeout <= 0 {
		timeout = defaultQueryTimeout
	}
	return &Session{
		rec:          cfg.Recognizer,
		synth:        cfg.Synthesizer,
		querier:      cfg.Querier,
		settings:     settingsFn,
		queryTimeout: timeout,
		logger:       logger.With(slog.String("component", "voice")),
		metrics:      cfg.Metrics,
		onChange:     cfg.OnChange,
		state:        StateIdle,
		status:       StatusIdle,
		baseCtx:      context.Background(),
	}
}

// Activate opens the overlay, speaks the welcome once voices are available,
// then listens. Without synthesis it listens straight away. Any session
// already in progress is cancelled first.
func (s *Session) Activate(ctx context.Context) error {
	return s.apply(func() error {
		if !s.canRecognizeLocked() {
			s.status = StatusUnsupported
			return ErrUnsupported
		}
		s.restartLocked(ctx)
		s.response = ""
		s.setStateLocked(StateAwaitingWelcome)

		if !s.canSpeakLocked() {
			s.listenLocked()
			return nil
		}
		if len(s.synth.Voices()) > 0 {
			s.speakWelcomeLocked()
			return nil
		}
		epoch := s.epoch
		s.cancelVoices = s.synth.OnVoicesReady(func() { s.voicesReady(epoch) })
		return nil
	})
}

// AskAgain restarts recognition without the welcome utterance.
func (s *Session) AskAgain(ctx context.Context) error {
	return s.apply(func() error {
		if !s.canRecognizeLocked() {
			s.status = StatusUnsupported
			return ErrUnsupported
		}
		s.restartLocked(ctx)
		s.listenLocked()
		return nil
	})
}

// Close returns to Idle from any state, cancelling recognition, synthesis
// and any query in flight. Safe to call when nothing is active.
func (s *Session) Close() {
	_ = s.apply(func() error {
		s.abortLocked()
		s.epoch++
		s.overlay = false
		s.response = ""
		s.transcript = ""
		s.status = StatusIdle
		s.setStateLocked(StateIdle)
		return nil
	})
}

// SetLanguage records the selector value ("auto", "en", "hi", "mr"; empty
// means the settings default). While the overlay is open and the session is
// listening or speaking, recognition restarts with the new locale.
func (s *Session) SetLanguage(lang string) {
	_ = s.apply(func() error {
		if strings.TrimSpace(lang) == "" {
			s.selection = ""
		} else {
			s.selection = NormalizeLanguage(lang)
		}
		if !s.overlay || (s.state != StateListening && s.state != StateSpeaking) {
			return nil
		}
		s.abortLocked()
		s.epoch++
		s.listenLocked()
		return nil
	})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) apply(fn func() error) error {
	s.mu.Lock()
	err := fn()
	snap := s.snapshotLocked()
	s.mu.Unlock()
	if s.onChange != nil {
		s.onChange(snap)
	}
	return err
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		State:       s.state,
		Status:      s.status,
		Response:    s.response,
		Transcript:  s.transcript,
		OverlayOpen: s.overlay,
		Language:    s.selectionLocked(),
		Epoch:       s.epoch,
	}
}

func (s *Session) selectionLocked() string {
	if s.selection != "" {
		return s.selection
	}
	return NormalizeLanguage(s.settings().DefaultLanguage)
}

func (s *Session) setStateLocked(to State) {
	if s.state == to {
		return
	}
	from := s.state
	s.state = to
	s.metrics.ObserveVoiceTransition(string(from), string(to), to != StateIdle)
	s.logger.Debug("voice transition", slog.String("from", string(from)), slog.String("to", string(to)), slog.Uint64("epoch", s.epoch))
}

func (s *Session) restartLocked(ctx context.Context) {
	s.abortLocked()
	s.epoch++
	s.overlay = true
	s.transcript = ""
	if ctx != nil {
		s.baseCtx = context.WithoutCancel(ctx)
	}
}

func (s *Session) abortLocked() {
	if s.cancelVoices != nil {
		s.cancelVoices()
		s.cancelVoices = nil
	}
	if s.cancelQuery != nil {
		s.cancelQuery()
		s.cancelQuery = nil
	}
	if s.rec != nil {
		s.rec.Stop()
	}
	if s.synth != nil {
		s.synth.Cancel()
	}
}

func (s *Session) failLocked(status string) {
	s.setStateLocked(StateError)
	s.status = status
	s.setStateLocked(StateIdle)
}

func (s *Session) voicesReady(epoch uint64) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateAwaitingWelcome {
			return nil
		}
		s.cancelVoices = nil
		if !s.canSpeakLocked() {
			s.listenLocked()
			return nil
		}
		s.speakWelcomeLocked()
		return nil
	})
}

func (s *Session) canRecognizeLocked() bool {
	return s.rec != nil && s.rec.CanRecognize()
}

func (s *Session) canSpeakLocked() bool {
	return s.synth != nil && s.synth.CanSpeak()
}

func (s *Session) speakWelcomeLocked() {
	text := strings.TrimSpace(s.settings().WelcomeMessage)
	if text == "" {
		text = DefaultWelcome
	}
	epoch := s.epoch
	err := s.speakLocked(text, ResolveLanguage(s.selectionLocked(), ""), func(err error) {
		s.welcomeEnded(epoch, err)
	})
	if err != nil {
		s.logger.Warn("welcome utterance failed", slog.Any("error", err))
		s.listenLocked()
	}
}

func (s *Session) welcomeEnded(epoch uint64, err error) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateAwaitingWelcome {
			return nil
		}
		if err != nil {
			s.logger.Warn("welcome utterance ended with error", slog.Any("error", err))
		}
		s.listenLocked()
		return nil
	})
}

func (s *Session) listenLocked() {
	epoch := s.epoch
	s.setStateLocked(StateListening)
	s.status = StatusListening
	err := s.rec.Start(RecognitionLocale(s.selectionLocked()), RecognitionHandler{
		OnResult: func(transcript string) { s.recognized(epoch, transcript) },
		OnError:  func(err error) { s.recognitionFailed(epoch, err) },
	})
	if err != nil {
		s.failLocked(recognitionStatus(err))
	}
}

func (s *Session) recognitionFailed(epoch uint64, err error) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateListening {
			return nil
		}
		s.logger.Info("recognition failed", slog.Any("error", err))
		s.failLocked(recognitionStatus(err))
		return nil
	})
}

func (s *Session) recognized(epoch uint64, transcript string) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateListening {
			return nil
		}
		text := strings.TrimSpace(transcript)
		if text == "" {
			s.status = StatusNoSpeech
			s.setStateLocked(StateIdle)
			return nil
		}
		s.transcript = text
		s.setStateLocked(StateRecognized)
		s.status = StatusRecognized
		lang := ResolveLanguage(s.selectionLocked(), text)
		s.queryLocked(text, lang)
		return nil
	})
}

func (s *Session) queryLocked(text, lang string) {
	s.setStateLocked(StateQuerying)
	s.status = StatusFetching
	s.response = formatResponse(text, preparingAnswer)
	if s.querier == nil {
		s.response = "Error contacting server: " + errNoQuerier.Error()
		s.failLocked(StatusError)
		return
	}

	epoch := s.epoch
	ctx, cancel := context.WithTimeout(s.baseCtx, s.queryTimeout)
	s.cancelQuery = cancel
	querier := s.querier
	go func() {
		defer cancel()
		resp, err := querier.Query(ctx, backend.QueryRequest{Text: text, Language: lang})
		s.answered(epoch, text, lang, resp, err)
	}()
}

func (s *Session) answered(epoch uint64, text, lang string, resp backend.QueryResponse, err error) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateQuerying {
			s.logger.Debug("dropping stale answer", slog.Uint64("epoch", epoch))
			return nil
		}
		s.cancelQuery = nil
		if err != nil {
			s.logger.Warn("query failed", slog.Any("error", err))
			s.response = "Error contacting server: " + err.Error()
			s.failLocked(StatusError)
			return nil
		}
		reply := strings.TrimSpace(resp.Reply)
		if reply == "" {
			reply = noReply
		}
		if resp.Language != "" {
			lang = NormalizeLanguage(resp.Language)
		}
		s.response = formatResponse(text, reply)
		s.status = StatusAnswerReady
		if !s.canSpeakLocked() {
			s.setStateLocked(StateIdle)
			return nil
		}
		s.setStateLocked(StateSpeaking)
		if err := s.speakLocked(reply, lang, func(err error) { s.replyEnded(epoch, err) }); err != nil {
			s.logger.Warn("reply utterance failed", slog.Any("error", err))
			s.setStateLocked(StateIdle)
		}
		return nil
	})
}

func (s *Session) replyEnded(epoch uint64, err error) {
	_ = s.apply(func() error {
		if epoch != s.epoch || s.state != StateSpeaking {
			return nil
		}
		if err != nil {
			s.logger.Warn("reply utterance ended with error", slog.Any("error", err))
		}
		s.setStateLocked(StateIdle)
		return nil
	})
}

func (s *Session) speakLocked(text, lang string, onEnd func(error)) error {
	voice, locale := SelectVoice(s.synth.Voices(), lang)
	return s.synth.Speak(Utterance{
		Text:  text,
		Lang:  locale,
		Voice: voice,
		Rate:  1,
		Pitch: 1,
	}, onEnd)
}

func formatResponse(user, bot string) string {
	return fmt.Sprintf("You: %s\n\nAI: %s", user, bot)
}

func recognitionStatus(err error) string {
	var rerr *RecognitionError
	if errors.As(err, &rerr) && rerr.Code != "" {
		return "Recognition error: " + rerr.Code
	}
	if errors.Is(err, ErrUnsupported) {
		return StatusUnsupported
	}
	if err == nil {
		return "Recognition error: unknown"
	}
	return "Recognition error: " + err.Error()
}
