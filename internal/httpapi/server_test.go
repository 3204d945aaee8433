package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/ent0n29/kiosk/internal/answer"
	"github.com/ent0n29/kiosk/internal/config"
	"github.com/ent0n29/kiosk/internal/events"
	"github.com/ent0n29/kiosk/internal/kiosk"
	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/presentation"
	"github.com/ent0n29/kiosk/internal/renderer"
	"github.com/ent0n29/kiosk/internal/store"
)

type fakeController struct {
	mu      sync.Mutex
	reloads int
	err     error
}

func (c *fakeController) Reload(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reloads++
	return c.err
}

func (c *fakeController) Snapshot() kiosk.Snapshot {
	return kiosk.Snapshot{Presentation: presentation.Snapshot{Started: true}}
}

func (c *fakeController) reloadCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloads
}

type recordingPublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kinds = append(p.kinds, ev.Header.Kind)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

type failingAnswerer struct{}

func (failingAnswerer) Answer(context.Context, answer.Request) (answer.Response, error) {
	return answer.Response{}, errors.New("model unavailable")
}

type testServer struct {
	ts         *httptest.Server
	store      *store.InMemoryStore
	controller *fakeController
	publisher  *recordingPublisher
	mediaDir   string
}

func newTestServer(t *testing.T, answerer answer.Answerer) *testServer {
	t.Helper()
	mediaDir := t.TempDir()
	st := store.NewInMemoryStore()
	ctrl := &fakeController{}
	pub := &recordingPublisher{}
	srv := New(config.Config{MediaDir: mediaDir, MaxUploadMB: 5}, Deps{
		Store:      st,
		Answerer:   answerer,
		Hub:        renderer.NewHub(nil, nil),
		Controller: ctrl,
		Publisher:  pub,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{ts: ts, store: st, controller: ctrl, publisher: pub, mediaDir: mediaDir}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, _ := json.Marshal(body)
	res, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("POST %s error = %v", url, err)
	}
	return res
}

func decodeBody(t *testing.T, res *http.Response, out any) {
	t.Helper()
	defer res.Body.Close()
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestUIRoutes(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
	}
	res, err := client.Get(s.ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusTemporaryRedirect {
		t.Fatalf("GET / status = %d, want %d", res.StatusCode, http.StatusTemporaryRedirect)
	}
	if loc := res.Header.Get("Location"); loc != "/ui/" {
		t.Fatalf("redirect location = %q, want /ui/", loc)
	}

	res, err = http.Get(s.ts.URL + "/ui/")
	if err != nil {
		t.Fatalf("GET /ui/ error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /ui/ status = %d, want 200", res.StatusCode)
	}
	if !strings.Contains(string(body), "/ui/kiosk.js") {
		t.Fatalf("index page does not load the renderer script")
	}

	res, err = http.Get(s.ts.URL + "/ui/admin.html")
	if err != nil {
		t.Fatalf("GET admin page error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET admin page status = %d, want 200", res.StatusCode)
	}
}

func TestListMediaFiltersByType(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())
	ctx := context.Background()
	for _, rec := range []store.MediaRecord{
		{Kind: media.KindImage, Filename: "a.png", URL: "/media/images/a.png", Caption: "Lobby"},
		{Kind: media.KindVideo, Filename: "b.mp4", URL: "/media/videos/b.mp4"},
	} {
		if _, err := s.store.AddMedia(ctx, rec); err != nil {
			t.Fatalf("AddMedia() error = %v", err)
		}
	}

	var all mediaListResponse
	res, err := http.Get(s.ts.URL + "/api/media")
	if err != nil {
		t.Fatalf("GET /api/media error = %v", err)
	}
	decodeBody(t, res, &all)
	if len(all.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(all.Items))
	}

	var images mediaListResponse
	res, err = http.Get(s.ts.URL + "/api/media?type=image")
	if err != nil {
		t.Fatalf("GET /api/media?type=image error = %v", err)
	}
	decodeBody(t, res, &images)
	if len(images.Items) != 1 || images.Items[0].Caption != "Lobby" || images.Items[0].Kind != media.KindImage {
		t.Fatalf("filtered items = %+v", images.Items)
	}

	res, err = http.Get(s.ts.URL + "/api/media?type=audio")
	if err != nil {
		t.Fatalf("GET bad type error = %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad type status = %d, want 400", res.StatusCode)
	}
}

func TestQueryReturnsReplyAndLanguage(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	res := postJSON(t, s.ts.URL+"/api/query", map[string]string{"text": "where is gate 3", "language": "en"})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("query status = %d, want 200", res.StatusCode)
	}
	var out struct {
		Reply    string `json:"reply"`
		Language string `json:"language"`
	}
	decodeBody(t, res, &out)
	if out.Reply != "I heard you: where is gate 3" || out.Language != "en" {
		t.Fatalf("query response = %+v", out)
	}

	res = postJSON(t, s.ts.URL+"/api/query", map[string]string{"text": "  "})
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("empty query status = %d, want 400", res.StatusCode)
	}
}

func TestQueryFailureIsServerError(t *testing.T) {
	s := newTestServer(t, failingAnswerer{})

	res := postJSON(t, s.ts.URL+"/api/query", map[string]string{"text": "hello", "language": "hi"})
	if res.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", res.StatusCode)
	}
	var out errorResponse
	decodeBody(t, res, &out)
	if out.Error != "model unavailable" {
		t.Fatalf("error = %q", out.Error)
	}
}

func TestAdminSettingsRoundTrip(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	res := postJSON(t, s.ts.URL+"/api/admin/settings", map[string]any{
		"default_language":   "mr",
		"slider_interval_ms": 12000,
		"welcome_message":    " नमस्कार ",
	})
	var saved adminResult
	decodeBody(t, res, &saved)
	if !saved.OK || saved.Settings == nil || saved.Settings.WelcomeMessage != "नमस्कार" {
		t.Fatalf("save response = %+v", saved)
	}
	if got := s.controller.reloadCount(); got != 1 {
		t.Fatalf("reloads = %d, want 1", got)
	}

	res, err := http.Get(s.ts.URL + "/api/settings")
	if err != nil {
		t.Fatalf("GET /api/settings error = %v", err)
	}
	var served struct {
		DefaultLanguage  string `json:"default_language"`
		SliderIntervalMS int64  `json:"slider_interval_ms"`
	}
	decodeBody(t, res, &served)
	if served.DefaultLanguage != "mr" || served.SliderIntervalMS != 12000 {
		t.Fatalf("served settings = %+v", served)
	}

	res = postJSON(t, s.ts.URL+"/api/admin/settings", map[string]any{"default_language": "fr"})
	var rejected adminResult
	decodeBody(t, res, &rejected)
	if rejected.OK || res.StatusCode != http.StatusBadRequest {
		t.Fatalf("unsupported language accepted: %d %+v", res.StatusCode, rejected)
	}
}

func TestUploadThenDeleteMedia(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("type", "image")
	_ = mw.WriteField("caption", "Main hall")
	fw, _ := mw.CreateFormFile("file", "Hall.PNG")
	_, _ = fw.Write([]byte("not really a png"))
	_ = mw.Close()

	res, err := http.Post(s.ts.URL+"/api/admin/media/upload", mw.FormDataContentType(), &buf)
	if err != nil {
		t.Fatalf("upload error = %v", err)
	}
	var up adminResult
	decodeBody(t, res, &up)
	if !up.OK || up.Item == nil {
		t.Fatalf("upload response = %+v", up)
	}
	if !strings.HasSuffix(up.Item.Filename, ".png") || !strings.HasPrefix(up.Item.URL, "/media/images/") {
		t.Fatalf("uploaded item = %+v", up.Item)
	}
	onDisk := filepath.Join(s.mediaDir, "images", up.Item.Filename)
	if _, err := os.Stat(onDisk); err != nil {
		t.Fatalf("uploaded file missing: %v", err)
	}

	res, err = http.Get(s.ts.URL + up.Item.URL)
	if err != nil {
		t.Fatalf("GET media error = %v", err)
	}
	body, _ := io.ReadAll(res.Body)
	res.Body.Close()
	if string(body) != "not really a png" {
		t.Fatalf("served media = %q", body)
	}

	res = postJSON(t, s.ts.URL+"/api/admin/media/delete", map[string]string{"type": "image", "filename": up.Item.Filename})
	var del adminResult
	decodeBody(t, res, &del)
	if !del.OK {
		t.Fatalf("delete response = %+v", del)
	}
	if _, err := os.Stat(onDisk); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("file still present after delete: %v", err)
	}

	res = postJSON(t, s.ts.URL+"/api/admin/media/delete", map[string]string{"type": "image", "filename": up.Item.Filename})
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound {
		t.Fatalf("second delete status = %d, want 404", res.StatusCode)
	}

	if got := s.controller.reloadCount(); got != 2 {
		t.Fatalf("reloads = %d, want 2", got)
	}
	s.publisher.mu.Lock()
	kinds := append([]string(nil), s.publisher.kinds...)
	s.publisher.mu.Unlock()
	if len(kinds) != 2 || kinds[0] != events.KindMediaUploaded || kinds[1] != events.KindMediaDeleted {
		t.Fatalf("published kinds = %v", kinds)
	}
}

func TestDeleteRejectsPathTraversal(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	res := postJSON(t, s.ts.URL+"/api/admin/media/delete", map[string]string{"type": "image", "filename": "../secrets.txt"})
	var out adminResult
	decodeBody(t, res, &out)
	if res.StatusCode != http.StatusBadRequest || out.OK {
		t.Fatalf("traversal delete = %d %+v", res.StatusCode, out)
	}
}

func TestStateEndpoint(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())

	res, err := http.Get(s.ts.URL + "/v1/kiosk/state")
	if err != nil {
		t.Fatalf("GET state error = %v", err)
	}
	var snap kiosk.Snapshot
	decodeBody(t, res, &snap)
	if !snap.Presentation.Started {
		t.Fatalf("state = %+v", snap)
	}
}

func TestRendererWebsocketRejectsForeignOrigin(t *testing.T) {
	s := newTestServer(t, answer.NewMockAnswerer())
	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/kiosk/ws"

	header := http.Header{}
	header.Set("Origin", "https://evil.example")
	_, res, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err == nil {
		t.Fatalf("foreign origin upgrade succeeded")
	}
	if res == nil || res.StatusCode != http.StatusForbidden {
		t.Fatalf("foreign origin response = %+v", res)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("same-host dial error = %v", err)
	}
	conn.Close()
}
