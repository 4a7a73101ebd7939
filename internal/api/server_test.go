package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/live-translate-lab/internal/speaker"
)

type stubExtractor struct {
	emb speaker.Embedding
	err error
}

func (s *stubExtractor) Extract(ctx context.Context, wav []byte) (speaker.Embedding, error) {
	return s.emb, s.err
}

func newTestServer(t *testing.T, ex speaker.Extractor) (*Server, *speaker.Registry) {
	t.Helper()
	reg, err := speaker.OpenRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("OpenRegistry: %v", err)
	}
	return NewServer(reg, ex), reg
}

func uploadRequest(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "clip.wav")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte("RIFFfake"))
	for k, v := range fields {
		w.WriteField(k, v)
	}
	w.Close()
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func TestIdentifyEmptyRegistryShortCircuits(t *testing.T) {
	// extractor failure proves it was never called
	srv, _ := newTestServer(t, &stubExtractor{err: errors.New("must not be called")})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/identify", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["speaker_id"] != float64(-1) || got["speaker_name"] != speaker.UnknownName {
		t.Fatalf("response = %v", got)
	}
	if got["is_user"] != false {
		t.Fatalf("is_user = %v", got["is_user"])
	}
}

func TestEnrollThenIdentify(t *testing.T) {
	emb := speaker.Embedding{0.3, 0.6, 0.9}
	srv, _ := newTestServer(t, &stubExtractor{emb: emb})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/enroll", map[string]string{
		"name": "Anna", "is_user": "false",
	}))
	if rec.Code != http.StatusOK {
		t.Fatalf("enroll status = %d: %s", rec.Code, rec.Body)
	}
	enrolled := decodeBody(t, rec)
	if enrolled["status"] != "enrolled" || enrolled["speaker_id"] != "speaker_1" {
		t.Fatalf("enroll response = %v", enrolled)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/identify", nil))
	got := decodeBody(t, rec)
	if got["speaker_id"] != "speaker_1" || got["speaker_name"] != "Anna" {
		t.Fatalf("identify response = %v", got)
	}
	if got["is_user"] != false {
		t.Fatalf("is_user = %v", got["is_user"])
	}
	if conf, _ := got["confidence"].(float64); conf < 0.999 {
		t.Fatalf("confidence = %v", got["confidence"])
	}
}

func TestIdentifyPrimarySpeakerReportsIsUser(t *testing.T) {
	emb := speaker.Embedding{0.2, 0.8, 0.1}
	srv, reg := newTestServer(t, &stubExtractor{emb: emb})
	if _, err := reg.Enroll("Me", true, emb); err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/identify", nil))
	got := decodeBody(t, rec)
	if got["speaker_id"] != speaker.PrimaryID || got["speaker_name"] != "Me" {
		t.Fatalf("identify response = %v", got)
	}
	if got["is_user"] != true {
		t.Fatalf("is_user = %v", got["is_user"])
	}
}

func TestEnrollRequiresName(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{emb: speaker.Embedding{1}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/enroll", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestPrimaryEnrollUsesReservedID(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{emb: speaker.Embedding{1, 0}})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/enroll", map[string]string{
		"name": "Me", "is_user": "true",
	}))
	got := decodeBody(t, rec)
	if got["speaker_id"] != speaker.PrimaryID || got["is_user"] != true {
		t.Fatalf("response = %v", got)
	}
}

func TestSpeakerCRUD(t *testing.T) {
	srv, reg := newTestServer(t, &stubExtractor{emb: speaker.Embedding{1, 0}})
	id, err := reg.Enroll("Old", false, speaker.Embedding{1, 0})
	if err != nil {
		t.Fatalf("Enroll: %v", err)
	}

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/speakers", nil))
	var list struct {
		Speakers []speaker.Info `json:"speakers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(list.Speakers) != 1 || list.Speakers[0].ID != id {
		t.Fatalf("list = %+v", list.Speakers)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/speakers/"+id, strings.NewReader(`{"name":"New"}`))
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/speakers/"+id, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "deleted" || got["speaker_id"] != id {
		t.Fatalf("delete response = %v", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/speakers/"+id, nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("double delete status = %d", rec.Code)
	}
}

func TestExtractorFailureIsBadGateway(t *testing.T) {
	srv, reg := newTestServer(t, &stubExtractor{err: errors.New("sidecar down")})
	if _, err := reg.Enroll("Someone", false, speaker.Embedding{1, 0}); err != nil {
		t.Fatalf("Enroll: %v", err)
	}
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, uploadRequest(t, "/identify", nil))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t, &stubExtractor{})
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	got := decodeBody(t, rec)
	if got["status"] != "ok" {
		t.Fatalf("response = %v", got)
	}
}
