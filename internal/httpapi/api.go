package httpapi

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ent0n29/kiosk/internal/answer"
	"github.com/ent0n29/kiosk/internal/backend"
	"github.com/ent0n29/kiosk/internal/media"
)

type mediaListResponse struct {
	Items []media.Item `json:"items"`
}

func (s *Server) handleListMedia(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "store not configured")
		return
	}
	var kind media.Kind
	if raw := strings.TrimSpace(r.URL.Query().Get("type")); raw != "" {
		k, err := media.ParseKind(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid_type", err.Error())
			return
		}
		kind = k
	}

	records, err := s.store.ListMedia(r.Context(), kind)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	items := make([]media.Item, 0, len(records))
	for _, rec := range records {
		items = append(items, rec.Item())
	}
	respondJSON(w, http.StatusOK, mediaListResponse{Items: items})
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "unavailable", "store not configured")
		return
	}
	current, err := s.store.GetSettings(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, current)
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if s.answerer == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "answerer not configured")
		return
	}
	var req backend.QueryRequest
	if err := decodeJSON(r, &req); err != nil {
		if errors.Is(err, errEmptyBody) {
			respondError(w, http.StatusBadRequest, "invalid_request", "missing body")
			return
		}
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "text is required")
		return
	}

	resp, err := s.answerer.Answer(r.Context(), answer.Request{Text: req.Text, Language: req.Language})
	if err != nil {
		s.logger.Warn("answer failed", slog.String("language", req.Language), slog.Any("error", err))
		respondError(w, http.StatusInternalServerError, "answer_failed", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, backend.QueryResponse{Reply: resp.Reply, Language: resp.Language})
}
