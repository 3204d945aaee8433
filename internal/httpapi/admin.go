package httpapi

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/kiosk/internal/events"
	"github.com/ent0n29/kiosk/internal/media"
	"github.com/ent0n29/kiosk/internal/settings"
	"github.com/ent0n29/kiosk/internal/store"
)

// Admin responses keep the {ok, error} shape the admin page checks.
type adminResult struct {
	OK       bool               `json:"ok"`
	Error    string             `json:"error,omitempty"`
	Message  string             `json:"message,omitempty"`
	Item     *media.Item        `json:"item,omitempty"`
	Settings *settings.Settings `json:"settings,omitempty"`
}

type deleteRequest struct {
	Type     string `json:"type"`
	Filename string `json:"filename"`
}

const multipartMemory = 32 << 20

func adminError(w http.ResponseWriter, status int, err error) {
	respondJSON(w, status, adminResult{OK: false, Error: err.Error()})
}

func (s *Server) handleAdminGetSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		adminError(w, http.StatusServiceUnavailable, errors.New("store not configured"))
		return
	}
	current, err := s.store.GetSettings(r.Context())
	if err != nil {
		adminError(w, http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, http.StatusOK, adminResult{OK: true, Settings: &current})
}

func (s *Server) handleAdminPutSettings(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		adminError(w, http.StatusServiceUnavailable, errors.New("store not configured"))
		return
	}
	var in settings.Settings
	if err := decodeJSON(r, &in); err != nil {
		adminError(w, http.StatusBadRequest, err)
		return
	}
	switch strings.TrimSpace(in.DefaultLanguage) {
	case "", "auto", "en", "hi", "mr":
	default:
		adminError(w, http.StatusBadRequest, fmt.Errorf("unsupported default_language %q", in.DefaultLanguage))
		return
	}
	if in.SliderIntervalMS < 0 {
		adminError(w, http.StatusBadRequest, errors.New("slider_interval_ms must not be negative"))
		return
	}
	in = in.WithDefaults()
	in.WelcomeMessage = strings.TrimSpace(in.WelcomeMessage)

	if err := s.store.PutSettings(r.Context(), in); err != nil {
		adminError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("settings updated",
		slog.String("default_language", in.DefaultLanguage),
		slog.Int64("slider_interval_ms", in.SliderIntervalMS),
	)
	s.publish(r.Context(), events.KindSettingsUpdated, map[string]any{
		"default_language":   in.DefaultLanguage,
		"slider_interval_ms": in.SliderIntervalMS,
	})
	s.reload(r.Context())
	respondJSON(w, http.StatusOK, adminResult{OK: true, Message: "Settings saved", Settings: &in})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		adminError(w, http.StatusServiceUnavailable, errors.New("store not configured"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxUploadMB())<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		adminError(w, http.StatusBadRequest, fmt.Errorf("parse upload: %w", err))
		return
	}
	kind, err := media.ParseKind(r.FormValue("type"))
	if err != nil {
		adminError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		adminError(w, http.StatusBadRequest, errors.New("file is required"))
		return
	}
	defer file.Close()

	filename := uuid.NewString() + strings.ToLower(filepath.Ext(header.Filename))
	dir := filepath.Join(s.cfg.MediaDir, kindDir(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		adminError(w, http.StatusInternalServerError, fmt.Errorf("create media dir: %w", err))
		return
	}
	dst := filepath.Join(dir, filename)
	if err := writeFile(dst, file); err != nil {
		adminError(w, http.StatusInternalServerError, err)
		return
	}

	rec, err := s.store.AddMedia(r.Context(), store.MediaRecord{
		Kind:     kind,
		Filename: filename,
		Caption:  strings.TrimSpace(r.FormValue("caption")),
		URL:      path.Join("/media", kindDir(kind), filename),
	})
	if err != nil {
		_ = os.Remove(dst)
		adminError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("media uploaded", slog.String("type", string(kind)), slog.String("filename", filename))
	s.publish(r.Context(), events.KindMediaUploaded, map[string]any{
		"type":     string(kind),
		"filename": filename,
		"url":      rec.URL,
	})
	s.reload(r.Context())

	item := rec.Item()
	respondJSON(w, http.StatusOK, adminResult{OK: true, Item: &item})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		adminError(w, http.StatusServiceUnavailable, errors.New("store not configured"))
		return
	}
	var req deleteRequest
	if err := decodeJSON(r, &req); err != nil {
		adminError(w, http.StatusBadRequest, err)
		return
	}
	kind, err := media.ParseKind(req.Type)
	if err != nil {
		adminError(w, http.StatusBadRequest, err)
		return
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" || filename != filepath.Base(filename) || filename == "." || filename == ".." {
		adminError(w, http.StatusBadRequest, fmt.Errorf("invalid filename %q", req.Filename))
		return
	}

	if _, err := s.store.DeleteMedia(r.Context(), kind, filename); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			adminError(w, http.StatusNotFound, err)
			return
		}
		adminError(w, http.StatusInternalServerError, err)
		return
	}
	if err := os.Remove(filepath.Join(s.cfg.MediaDir, kindDir(kind), filename)); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("media file removal failed", slog.String("filename", filename), slog.Any("error", err))
	}
	s.logger.Info("media deleted", slog.String("type", string(kind)), slog.String("filename", filename))
	s.publish(r.Context(), events.KindMediaDeleted, map[string]any{
		"type":     string(kind),
		"filename": filename,
	})
	s.reload(r.Context())
	respondJSON(w, http.StatusOK, adminResult{OK: true})
}

func (s *Server) maxUploadMB() int {
	if s.cfg.MaxUploadMB <= 0 {
		return 200
	}
	return s.cfg.MaxUploadMB
}

// kindDir is the on-disk folder for a kind: images, videos, models.
func kindDir(k media.Kind) string {
	return string(k) + "s"
}

func writeFile(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create media file: %w", err)
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("write media file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("close media file: %w", err)
	}
	return nil
}
