package voice

import (
	"context"
	"errors"

	"github.com/ent0n29/kiosk/internal/backend"
)

// ErrUnsupported is returned when the platform lacks a speech capability.
var ErrUnsupported = errors.New("speech capability unsupported")

// RecognitionError is a recognizer failure such as "no-speech",
// "not-allowed" or "audio-capture".
type RecognitionError struct {
	Code   string
	Detail string
}

func (e *RecognitionError) Error() string {
	if e.Detail != "" {
		return e.Code + ": " + e.Detail
	}
	return e.Code
}

// RecognitionHandler receives the single outcome of one recognition attempt.
type RecognitionHandler struct {
	OnResult func(transcript string)
	OnError  func(err error)
}

// Recognizer is a single-shot speech recognition capability. Handlers must
// never be invoked synchronously from Start or Stop. Stop is idempotent.
type Recognizer interface {
	// Start listens for one finalized utterance. An empty locale lets the
	// platform choose.
	Start(locale string, h RecognitionHandler) error
	Stop()
	// CanRecognize reports whether Start can currently succeed.
	CanRecognize() bool
}

// Voice is one installed synthesis voice.
type Voice struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

// Utterance is one synthesis request.
type Utterance struct {
	Text  string
	Lang  string
	Voice *Voice
	Rate  float64
	Pitch float64
}

// Synthesizer is a speech synthesis capability. Callbacks must never be
// invoked synchronously from Speak, Cancel or OnVoicesReady. Cancel is
// idempotent.
type Synthesizer interface {
	// Voices returns the installed voices; empty until the list is ready.
	Voices() []Voice
	// OnVoicesReady registers a one-time callback for the voice list.
	OnVoicesReady(fn func()) (cancel func())
	// Speak enqueues u; onEnd runs once when it finishes or fails. Cancel
	// drops the pending onEnd without calling it.
	Speak(u Utterance, onEnd func(err error)) error
	Cancel()
	// CanSpeak reports whether the platform can synthesize speech at all.
	CanSpeak() bool
}

// Querier answers one recognized transcript.
type Querier interface {
	Query(ctx context.Context, req backend.QueryRequest) (backend.QueryResponse, error)
}
