package voice

import (
	"errors"
	"sync"
	"time"
)

// ErrRecognizerBusy is returned by MockRecognizer.Start while an attempt is live.
var ErrRecognizerBusy = errors.New("recognizer already started")

// MockRecognizer is a local recognizer used when no renderer capability is
// configured. With a script it answers each Start on its own after a delay;
// without one the caller drives it through Deliver and Fail.
type MockRecognizer struct {
	mu      sync.Mutex
	script  []string
	delay   time.Duration
	handler *RecognitionHandler
	timer   *time.Timer
	locales []string
	stops   int
	absent  bool
}

func NewMockRecognizer() *MockRecognizer { return &MockRecognizer{} }

// SetAvailable toggles the capability; an absent recognizer refuses Start.
func (m *MockRecognizer) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absent = !ok
}

func (m *MockRecognizer) CanRecognize() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.absent
}

// WithScript makes the recognizer deliver transcripts in order, one per
// Start, each after delay. The last transcript repeats.
func (m *MockRecognizer) WithScript(delay time.Duration, transcripts ...string) *MockRecognizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = delay
	m.script = append([]string(nil), transcripts...)
	return m
}

func (m *MockRecognizer) Start(locale string, h RecognitionHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.absent {
		return ErrUnsupported
	}
	if m.handler != nil {
		return ErrRecognizerBusy
	}
	m.locales = append(m.locales, locale)
	m.handler = &h
	if len(m.script) == 0 {
		return nil
	}
	transcript := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	handler := m.handler
	m.timer = time.AfterFunc(m.delay, func() {
		m.mu.Lock()
		if m.handler != handler {
			m.mu.Unlock()
			return
		}
		m.handler = nil
		m.timer = nil
		m.mu.Unlock()
		if handler.OnResult != nil {
			handler.OnResult(transcript)
		}
	})
	return nil
}

func (m *MockRecognizer) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	m.handler = nil
}

// Deliver completes the live attempt with transcript. It reports false when
// nothing is listening.
func (m *MockRecognizer) Deliver(transcript string) bool {
	h := m.take()
	if h == nil {
		return false
	}
	if h.OnResult != nil {
		h.OnResult(transcript)
	}
	return true
}

// Fail completes the live attempt with err.
func (m *MockRecognizer) Fail(err error) bool {
	h := m.take()
	if h == nil {
		return false
	}
	if h.OnError != nil {
		h.OnError(err)
	}
	return true
}

func (m *MockRecognizer) Active() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler != nil
}

func (m *MockRecognizer) Locales() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.locales...)
}

func (m *MockRecognizer) Stops() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stops
}

func (m *MockRecognizer) take() *RecognitionHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	h := m.handler
	m.handler = nil
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	return h
}

// MockSynthesizer is a local synthesizer. Utterances end on their own after
// the auto-end delay when one is set, otherwise through Finish.
type MockSynthesizer struct {
	mu       sync.Mutex
	voices   []Voice
	waiters  map[int]func()
	nextID   int
	autoEnd  time.Duration
	spoken   []Utterance
	pending  func(error)
	pendingN int
	cancels  int
	absent   bool
}

// NewMockSynthesizer returns a synthesizer whose voice list is ready iff
// voices is non-empty.
func NewMockSynthesizer(voices ...Voice) *MockSynthesizer {
	return &MockSynthesizer{
		voices:  append([]Voice(nil), voices...),
		waiters: make(map[int]func()),
	}
}

func (m *MockSynthesizer) WithAutoEnd(d time.Duration) *MockSynthesizer {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.autoEnd = d
	return m
}

// SetVoices publishes the voice list and fires pending ready callbacks.
func (m *MockSynthesizer) SetVoices(voices ...Voice) {
	m.mu.Lock()
	m.voices = append([]Voice(nil), voices...)
	var fire []func()
	if len(m.voices) > 0 {
		for id, fn := range m.waiters {
			fire = append(fire, fn)
			delete(m.waiters, id)
		}
	}
	m.mu.Unlock()
	for _, fn := range fire {
		fn()
	}
}

// SetAvailable toggles the capability; an absent synthesizer refuses Speak.
func (m *MockSynthesizer) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absent = !ok
}

func (m *MockSynthesizer) CanSpeak() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.absent
}

func (m *MockSynthesizer) Voices() []Voice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Voice(nil), m.voices...)
}

func (m *MockSynthesizer) OnVoicesReady(fn func()) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.voices) > 0 {
		go fn()
		return func() {}
	}
	m.nextID++
	id := m.nextID
	m.waiters[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.waiters, id)
	}
}

func (m *MockSynthesizer) Speak(u Utterance, onEnd func(error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.absent {
		return ErrUnsupported
	}
	m.spoken = append(m.spoken, u)
	m.pending = onEnd
	m.pendingN++
	n := m.pendingN
	if m.autoEnd > 0 {
		time.AfterFunc(m.autoEnd, func() {
			m.mu.Lock()
			if m.pendingN != n || m.pending == nil {
				m.mu.Unlock()
				return
			}
			end := m.pending
			m.pending = nil
			m.mu.Unlock()
			end(nil)
		})
	}
	return nil
}

// Cancel drops the pending utterance without calling its end callback.
func (m *MockSynthesizer) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels++
	m.pending = nil
}

// Finish ends the pending utterance with err. It reports false when nothing
// is being spoken.
func (m *MockSynthesizer) Finish(err error) bool {
	m.mu.Lock()
	end := m.pending
	m.pending = nil
	m.mu.Unlock()
	if end == nil {
		return false
	}
	end(err)
	return true
}

func (m *MockSynthesizer) Spoken() []Utterance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Utterance(nil), m.spoken...)
}

func (m *MockSynthesizer) Speaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

func (m *MockSynthesizer) Cancels() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cancels
}
