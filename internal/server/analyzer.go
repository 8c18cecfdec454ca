package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/plastr/extrasolar/internal/game"
	"github.com/plastr/extrasolar/internal/shared"
)

// rendererAnalyzer asks the renderer's analysis endpoint which species the
// scene contains inside a player-drawn rectangle. The renderer placed the
// objects, so it answers from scene data rather than computer vision.
type rendererAnalyzer struct {
	baseURL string
	client  *http.Client
}

func newRendererAnalyzer(baseURL string) *rendererAnalyzer {
	return &rendererAnalyzer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type analyzeRequest struct {
	ImageURL string    `json:"image_url"`
	Rect     game.Rect `json:"rect"`
}

type analyzeHit struct {
	ID      int64   `json:"id"`
	Density float64 `json:"density"`
}

func (a *rendererAnalyzer) Analyze(ctx context.Context, imageURL string, rect game.Rect) ([]game.SpeciesCandidate, error) {
	body, err := json.Marshal(analyzeRequest{ImageURL: imageURL, Rect: rect})
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: analyzer unreachable: %v", shared.ErrorTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: analyzer returned %d", shared.ErrorTransient, resp.StatusCode)
	}

	var hits []analyzeHit
	if err := json.NewDecoder(resp.Body).Decode(&hits); err != nil {
		return nil, fmt.Errorf("analyze response: %w", err)
	}

	candidates := make([]game.SpeciesCandidate, 0, len(hits))
	for _, h := range hits {
		candidates = append(candidates, game.SpeciesCandidate{RawID: h.ID, Density: h.Density})
	}
	return candidates, nil
}
