package speaker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPExtractor(t *testing.T) {
	var gotFilename string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("FormFile: %v", err)
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f.Close()
		gotFilename = hdr.Filename
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"embedding":[0.1,0.2,0.3]}`))
	}))
	defer srv.Close()

	ex := NewHTTPExtractor(srv.URL, 5*time.Second)
	emb, err := ex.Extract(context.Background(), []byte("RIFFfake"))
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(emb) != 3 || emb[0] != 0.1 {
		t.Fatalf("embedding = %v", emb)
	}
	if gotFilename != "clip.wav" {
		t.Fatalf("upload filename = %q", gotFilename)
	}
}

func TestHTTPExtractorServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	ex := NewHTTPExtractor(srv.URL, 5*time.Second)
	_, err := ex.Extract(context.Background(), []byte("x"))
	var embErr *EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("error = %v, want *EmbeddingError", err)
	}
}

func TestHTTPExtractorEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embedding":[]}`))
	}))
	defer srv.Close()

	ex := NewHTTPExtractor(srv.URL, 5*time.Second)
	if _, err := ex.Extract(context.Background(), []byte("x")); err == nil {
		t.Fatal("empty embedding should be an error")
	}
}
