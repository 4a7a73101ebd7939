// Package api serves the speaker-management HTTP surface consumed by the
// companion UI: identification, enrollment, and registry CRUD.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/live-translate-lab/internal/logging"
	"github.com/live-translate-lab/internal/speaker"
)

const maxUploadBytes = 32 << 20

// Server exposes the registry over HTTP. Identification and enrollment
// take a WAV upload; the embedding extraction happens server-side so the
// UI never touches raw vectors.
type Server struct {
	registry  *speaker.Registry
	extractor speaker.Extractor
}

func NewServer(reg *speaker.Registry, ex speaker.Extractor) *Server {
	return &Server{registry: reg, extractor: ex}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /identify", s.handleIdentify)
	mux.HandleFunc("POST /enroll", s.handleEnroll)
	mux.HandleFunc("GET /speakers", s.handleList)
	mux.HandleFunc("PATCH /speakers/{id}", s.handleRename)
	mux.HandleFunc("DELETE /speakers/{id}", s.handleDelete)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe blocks serving the API on addr until ctx is canceled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()
	logging.Infow("api: listening", "addr", addr)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	// an empty registry can never match; skip the extraction round trip
	if s.registry.Empty() {
		writeJSON(w, http.StatusOK, map[string]any{
			"speaker_id":   -1,
			"speaker_name": speaker.UnknownName,
			"confidence":   0.0,
			"is_user":      false,
		})
		return
	}
	wav, ok := readUpload(w, r)
	if !ok {
		return
	}
	emb, err := s.extractor.Extract(r.Context(), wav)
	if err != nil {
		logging.Errorw("api: embedding extraction failed", "err", err)
		writeError(w, http.StatusBadGateway, "embedding extraction failed")
		return
	}
	id := s.registry.Identify(emb)
	resp := map[string]any{
		"speaker_name": id.Name,
		"confidence":   id.Confidence,
		"is_user":      id.IsUser,
	}
	// the UI contract uses -1, not a string id, for no-match
	if id.Known() {
		resp["speaker_id"] = id.SpeakerID
	} else {
		resp["speaker_id"] = -1
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	wav, ok := readUpload(w, r)
	if !ok {
		return
	}
	name := r.FormValue("name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	isUser := r.FormValue("is_user") == "true"

	emb, err := s.extractor.Extract(r.Context(), wav)
	if err != nil {
		logging.Errorw("api: embedding extraction failed", "err", err)
		writeError(w, http.StatusBadGateway, "embedding extraction failed")
		return
	}
	id, err := s.registry.Enroll(name, isUser, emb)
	if err != nil {
		logging.Errorw("api: enrollment failed", "name", name, "err", err)
		writeError(w, http.StatusInternalServerError, "enrollment failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"speaker_id": id,
		"name":       name,
		"is_user":    isUser,
		"status":     "enrolled",
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"speakers": s.registry.List()})
}

func (s *Server) handleRename(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var body struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if err := s.registry.Rename(id, body.Name); err != nil {
		if errors.Is(err, speaker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "speaker not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "rename failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "renamed",
		"speaker_id": id,
		"name":       body.Name,
	})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Delete(id); err != nil {
		if errors.Is(err, speaker.ErrNotFound) {
			writeError(w, http.StatusNotFound, "speaker not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "delete failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "deleted",
		"speaker_id": id,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"speakers": s.registry.Len(),
	})
}

func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart upload")
		return nil, false
	}
	f, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing audio file")
		return nil, false
	}
	defer f.Close()
	wav, err := io.ReadAll(io.LimitReader(f, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable upload")
		return nil, false
	}
	return wav, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
