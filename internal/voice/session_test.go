package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ent0n29/kiosk/internal/backend"
	"github.com/ent0n29/kiosk/internal/settings"
)

type fakeQuerier struct {
	mu      sync.Mutex
	calls   []backend.QueryRequest
	release chan struct{}
	resp    backend.QueryResponse
	err     error
}

func (q *fakeQuerier) Query(_ context.Context, req backend.QueryRequest) (backend.QueryResponse, error) {
	q.mu.Lock()
	q.calls = append(q.calls, req)
	release := q.release
	q.mu.Unlock()
	if release != nil {
		<-release
	}
	return q.resp, q.err
}

func (q *fakeQuerier) Calls() []backend.QueryRequest {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]backend.QueryRequest(nil), q.calls...)
}

type changeLog struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (c *changeLog) record(s Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snaps = append(c.snaps, s)
}

func (c *changeLog) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snaps)
}

type harness struct {
	session *Session
	rec     *MockRecognizer
	synth   *MockSynthesizer
	querier *fakeQuerier
	changes *changeLog
}

func newHarness(t *testing.T, voices ...Voice) *harness {
	t.Helper()
	h := &harness{
		rec:     NewMockRecognizer(),
		synth:   NewMockSynthesizer(voices...),
		querier: &fakeQuerier{resp: backend.QueryResponse{Reply: "We are open until six."}},
		changes: &changeLog{},
	}
	h.session = NewSession(Config{
		Recognizer:  h.rec,
		Synthesizer: h.synth,
		Querier:     h.querier,
		Settings: func() settings.Settings {
			s := settings.Defaults()
			s.WelcomeMessage = "Hello visitor"
			return s
		},
		QueryTimeout: time.Second,
		OnChange:     h.changes.record,
	})
	return h
}

// listening drives a fresh session through the welcome into Listening.
func (h *harness) listening(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.Activate(context.Background()))
	require.True(t, h.synth.Finish(nil), "welcome should be pending")
	require.Equal(t, StateListening, h.session.State())
	require.True(t, h.rec.Active())
}

var indianVoices = []Voice{{Name: "Veena", Lang: "en-IN"}, {Name: "Lekha", Lang: "hi-IN"}}

func TestActivateWaitsForVoicesBeforeWelcome(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.session.Activate(context.Background()))
	snap := h.session.Snapshot()
	require.Equal(t, StateAwaitingWelcome, snap.State)
	require.True(t, snap.OverlayOpen)
	require.Empty(t, h.synth.Spoken(), "nothing may be spoken before voices are ready")

	h.synth.SetVoices(indianVoices...)
	spoken := h.synth.Spoken()
	require.Len(t, spoken, 1)
	require.Equal(t, "Hello visitor", spoken[0].Text)
	require.Equal(t, "en-IN", spoken[0].Lang)
	require.NotNil(t, spoken[0].Voice)
	require.Equal(t, "Veena", spoken[0].Voice.Name)

	require.True(t, h.synth.Finish(nil))
	require.Equal(t, StateListening, h.session.State())
	require.Equal(t, StatusListening, h.session.Snapshot().Status)
	require.Equal(t, []string{"en-IN"}, h.rec.Locales())
}

func TestDefaultWelcomeWhenUnset(t *testing.T) {
	rec := NewMockRecognizer()
	synth := NewMockSynthesizer(indianVoices...)
	s := NewSession(Config{Recognizer: rec, Synthesizer: synth, Querier: &fakeQuerier{}})

	require.NoError(t, s.Activate(context.Background()))
	spoken := synth.Spoken()
	require.Len(t, spoken, 1)
	require.Equal(t, DefaultWelcome, spoken[0].Text)
}

func TestFullTurnResolvesDevanagariAndSpeaksReply(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.session.SetLanguage("auto")
	h.listening(t)
	require.Equal(t, []string{""}, h.rec.Locales(), "auto lets the platform pick the recognition locale")

	require.True(t, h.rec.Deliver("नमस्ते"))
	require.Eventually(t, func() bool {
		return h.session.State() == StateSpeaking && h.synth.Speaking()
	}, time.Second, 5*time.Millisecond)

	calls := h.querier.Calls()
	require.Len(t, calls, 1)
	require.Equal(t, "नमस्ते", calls[0].Text)
	require.Equal(t, "hi", calls[0].Language)

	spoken := h.synth.Spoken()
	require.Len(t, spoken, 2)
	require.Equal(t, "We are open until six.", spoken[1].Text)
	require.Equal(t, "hi-IN", spoken[1].Lang)
	require.Equal(t, "Lekha", spoken[1].Voice.Name)

	require.True(t, h.synth.Finish(nil))
	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, StatusAnswerReady, snap.Status)
	require.Equal(t, "You: नमस्ते\n\nAI: We are open until six.", snap.Response)
	require.True(t, snap.OverlayOpen)
}

func TestEmptyTranscriptReturnsToIdleWithoutQuery(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)

	require.True(t, h.rec.Deliver("   "))
	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, StatusNoSpeech, snap.Status)
	require.Empty(t, h.querier.Calls())
}

func TestRecognizerErrorReturnsToIdleWithoutQuery(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)

	require.True(t, h.rec.Fail(&RecognitionError{Code: "not-allowed"}))
	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, "Recognition error: not-allowed", snap.Status)
	require.Empty(t, h.querier.Calls())
	require.False(t, h.rec.Active(), "no silent retry")
}

func TestLateAnswerAfterCloseNeverSpeaks(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.querier.release = make(chan struct{})
	h.listening(t)

	require.True(t, h.rec.Deliver("hello"))
	require.Eventually(t, func() bool { return len(h.querier.Calls()) == 1 }, time.Second, 5*time.Millisecond)
	require.Equal(t, StateQuerying, h.session.State())

	h.session.Close()
	before := h.changes.count()
	close(h.querier.release)
	require.Eventually(t, func() bool { return h.changes.count() > before }, time.Second, 5*time.Millisecond)

	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.False(t, snap.OverlayOpen)
	require.Equal(t, StatusIdle, snap.Status)
	require.Empty(t, snap.Response)
	require.Len(t, h.synth.Spoken(), 1, "only the welcome was spoken")
}

func TestQueryErrorShowsErrorText(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.querier.err = errors.New("server returned 500")
	h.listening(t)

	require.True(t, h.rec.Deliver("hello"))
	require.Eventually(t, func() bool { return h.session.State() == StateIdle }, time.Second, 5*time.Millisecond)

	snap := h.session.Snapshot()
	require.Equal(t, StatusError, snap.Status)
	require.Equal(t, "Error contacting server: server returned 500", snap.Response)
	require.Len(t, h.synth.Spoken(), 1)
}

func TestEmptyReplyIsShownAsNoReply(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.querier.resp = backend.QueryResponse{}
	h.listening(t)

	require.True(t, h.rec.Deliver("hello"))
	require.Eventually(t, func() bool { return h.session.State() == StateSpeaking }, time.Second, 5*time.Millisecond)
	require.Equal(t, "You: hello\n\nAI: (no reply)", h.session.Snapshot().Response)
}

func TestLanguageChangeRestartsListening(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)
	epoch := h.session.Snapshot().Epoch
	stops := h.rec.Stops()

	h.session.SetLanguage("mr")

	snap := h.session.Snapshot()
	require.Equal(t, StateListening, snap.State)
	require.Equal(t, "mr", snap.Language)
	require.Greater(t, snap.Epoch, epoch)
	require.Greater(t, h.rec.Stops(), stops)
	require.Equal(t, []string{"en-IN", "mr-IN"}, h.rec.Locales())

	// The superseded attempt's callbacks are ignored.
	h.session.recognized(epoch, "stale words")
	require.Equal(t, StateListening, h.session.State())
	require.Empty(t, h.querier.Calls())
}

func TestLanguageChangeWhileClosedOnlyRecordsSelection(t *testing.T) {
	h := newHarness(t, indianVoices...)

	h.session.SetLanguage("hi-IN")

	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, "hi", snap.Language)
	require.Empty(t, h.rec.Locales())
}

func TestActivateIsSingleFlight(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)
	first := h.session.Snapshot().Epoch
	cancels := h.synth.Cancels()

	require.NoError(t, h.session.Activate(context.Background()))
	require.Equal(t, StateAwaitingWelcome, h.session.State())
	require.Greater(t, h.synth.Cancels(), cancels)
	require.False(t, h.rec.Active())

	h.session.recognized(first, "from the old session")
	require.Equal(t, StateAwaitingWelcome, h.session.State())
	require.Empty(t, h.querier.Calls())
}

func TestAskAgainSkipsWelcome(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)
	require.True(t, h.rec.Deliver(""))
	require.Equal(t, StateIdle, h.session.State())

	require.NoError(t, h.session.AskAgain(context.Background()))
	require.Equal(t, StateListening, h.session.State())
	require.Len(t, h.synth.Spoken(), 1)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.session.Close()
	h.session.Close()

	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.False(t, snap.OverlayOpen)
}

func TestActivateWithoutRecognizerIsUnsupported(t *testing.T) {
	s := NewSession(Config{Synthesizer: NewMockSynthesizer(indianVoices...)})

	err := s.Activate(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	snap := s.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, StatusUnsupported, snap.Status)
}

func TestActivateWithoutSynthesisListensAtOnce(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.synth.SetAvailable(false)

	require.NoError(t, h.session.Activate(context.Background()))
	snap := h.session.Snapshot()
	require.Equal(t, StateListening, snap.State)
	require.True(t, snap.OverlayOpen)
	require.True(t, h.rec.Active())
	require.Empty(t, h.synth.Spoken())
}

func TestActivateWithUnavailableRecognizerSpeaksNothing(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.rec.SetAvailable(false)

	err := h.session.Activate(context.Background())
	require.ErrorIs(t, err, ErrUnsupported)
	snap := h.session.Snapshot()
	require.Equal(t, StateIdle, snap.State)
	require.Equal(t, StatusUnsupported, snap.Status)
	require.False(t, snap.OverlayOpen)
	require.Empty(t, h.synth.Spoken(), "no welcome before a recognizer that cannot start")
	require.Empty(t, h.rec.Locales())

	require.ErrorIs(t, h.session.AskAgain(context.Background()), ErrUnsupported)
	require.Empty(t, h.rec.Locales())
}

func TestAnswerWithoutSynthesisIsShownOnly(t *testing.T) {
	h := newHarness(t, indianVoices...)
	h.listening(t)
	h.synth.SetAvailable(false)

	require.True(t, h.rec.Deliver("when do you close"))
	require.Eventually(t, func() bool {
		snap := h.session.Snapshot()
		return snap.State == StateIdle && snap.Status == StatusAnswerReady
	}, time.Second, 5*time.Millisecond)
	require.Len(t, h.synth.Spoken(), 1, "only the welcome was spoken")
}

func TestScriptedMocksCompleteATurn(t *testing.T) {
	rec := NewMockRecognizer().WithScript(time.Millisecond, "hello")
	synth := NewMockSynthesizer(indianVoices...).WithAutoEnd(time.Millisecond)
	q := &fakeQuerier{resp: backend.QueryResponse{Reply: "hi there", Language: "en"}}
	s := NewSession(Config{Recognizer: rec, Synthesizer: synth, Querier: q})

	require.NoError(t, s.Activate(context.Background()))
	require.Eventually(t, func() bool {
		snap := s.Snapshot()
		return snap.State == StateIdle && snap.Status == StatusAnswerReady
	}, 2*time.Second, 5*time.Millisecond)
	require.Len(t, synth.Spoken(), 2)
}
