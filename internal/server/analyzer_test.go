package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/shared"
)

func TestAnalyze_DecodesHits(t *testing.T) {
	var gotBody analyzeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analyze" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode([]analyzeHit{
			{ID: 0x20_0001, Density: 0.8},
			{ID: 0x10_0000, Density: 0.5},
		})
	}))
	defer srv.Close()

	a := newRendererAnalyzer(srv.URL)
	rect := game.Rect{XMin: 0.1, YMin: 0.2, XMax: 0.5, YMax: 0.6}
	hits, err := a.Analyze(context.Background(), "https://img.example/photo.jpg", rect)
	if err != nil {
		t.Fatalf("Analyze error: %v", err)
	}

	if gotBody.ImageURL != "https://img.example/photo.jpg" {
		t.Errorf("image_url = %q", gotBody.ImageURL)
	}
	if gotBody.Rect != rect {
		t.Errorf("rect = %+v", gotBody.Rect)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 candidates, got %d", len(hits))
	}
	if hits[0].RawID != 0x20_0001 || hits[0].Density != 0.8 {
		t.Errorf("first candidate = %+v", hits[0])
	}
}

func TestAnalyze_ServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	a := newRendererAnalyzer(srv.URL)
	_, err := a.Analyze(context.Background(), "u", game.Rect{})
	if !errors.Is(err, shared.ErrorTransient) {
		t.Fatalf("expected ErrorTransient, got %v", err)
	}
}

func TestAnalyze_UnreachableIsTransient(t *testing.T) {
	a := newRendererAnalyzer("http://127.0.0.1:1")
	_, err := a.Analyze(context.Background(), "u", game.Rect{})
	if !errors.Is(err, shared.ErrorTransient) {
		t.Fatalf("expected ErrorTransient, got %v", err)
	}
}
