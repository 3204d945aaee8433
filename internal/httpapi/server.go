package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/ent0n29/kiosk/internal/answer"
	"github.com/ent0n29/kiosk/internal/config"
	"github.com/ent0n29/kiosk/internal/events"
	"github.com/ent0n29/kiosk/internal/kiosk"
	"github.com/ent0n29/kiosk/internal/observability"
	"github.com/ent0n29/kiosk/internal/renderer"
	"github.com/ent0n29/kiosk/internal/store"
)

// Controller is the kiosk controller surface the API exposes.
type Controller interface {
	Reload(ctx context.Context) error
	Snapshot() kiosk.Snapshot
}

// Deps are the collaborators of the HTTP server. Controller and Hub may be
// nil when the process only serves the backend API.
type Deps struct {
	Store      store.Store
	Answerer   answer.Answerer
	Hub        *renderer.Hub
	Controller Controller
	Publisher  events.Publisher
	Logger     *slog.Logger
}

type Server struct {
	cfg        config.Config
	store      store.Store
	answerer   answer.Answerer
	hub        *renderer.Hub
	controller Controller
	publisher  events.Publisher
	logger     *slog.Logger
	upgrader   websocket.Upgrader
	static     http.Handler
}

func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pub := deps.Publisher
	if pub == nil {
		pub = events.Noop{}
	}
	return &Server{
		cfg:        cfg,
		store:      deps.Store,
		answerer:   deps.Answerer,
		hub:        deps.Hub,
		controller: deps.Controller,
		publisher:  pub,
		logger:     logger.With(slog.String("component", "httpapi")),
		static:     newStaticHandler(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Default: only the kiosk page served by this process may drive
				// the screen.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Get("/ui", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/", http.StatusTemporaryRedirect)
	})
	r.Handle("/ui/*", http.StripPrefix("/ui/", s.static))
	r.Get("/admin", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/admin.html", http.StatusTemporaryRedirect)
	})
	r.Get("/admin/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/ui/admin.html", http.StatusTemporaryRedirect)
	})
	r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(s.cfg.MediaDir))))

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/media", s.handleListMedia)
		r.Get("/settings", s.handleGetSettings)
		r.Post("/query", s.handleQuery)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/settings", s.handleAdminGetSettings)
			r.Post("/settings", s.handleAdminPutSettings)
			r.Post("/media/upload", s.handleUpload)
			r.Post("/media/delete", s.handleDelete)
		})
	})

	r.Get("/kiosk/ws", s.handleRendererWS)
	r.Get("/v1/kiosk/state", s.handleState)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"store_mode": s.storeMode(),
		"renderers":  s.rendererCount(),
	})
}

func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "store not configured")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ready",
		"store_mode": s.storeMode(),
		"renderers":  s.rendererCount(),
	})
}

func (s *Server) handleRendererWS(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "renderer hub not configured")
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.hub.Serve(r.Context(), conn)
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.controller == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "controller not configured")
		return
	}
	respondJSON(w, http.StatusOK, s.controller.Snapshot())
}

// reload asks the controller to pick up admin changes. The admin mutation
// has already succeeded, so a failed reload is only logged.
func (s *Server) reload(ctx context.Context) {
	if s.controller == nil {
		return
	}
	if err := s.controller.Reload(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn("controller reload failed", slog.Any("error", err))
	}
}

func (s *Server) publish(ctx context.Context, kind string, data map[string]any) {
	if err := s.publisher.Publish(context.WithoutCancel(ctx), events.NewEvent(kind, data)); err != nil {
		s.logger.Warn("event publish failed", slog.String("kind", kind), slog.Any("error", err))
	}
}

func (s *Server) storeMode() string {
	if s.store == nil {
		return "disabled"
	}
	return s.store.Mode()
}

func (s *Server) rendererCount() int {
	if s.hub == nil {
		return 0
	}
	return s.hub.Clients()
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
