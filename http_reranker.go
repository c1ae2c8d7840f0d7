package memory

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// HTTPReranker implements Reranker against a ZeroEntropy-shaped HTTP cross-
// encoder: POST {model, query, documents[]} -> {results: [{index,
// relevance_score}]} (§6). Any failure (network, non-2xx, malformed body,
// missing credentials) yields an empty result and a nil error — the
// retrieval pipeline treats that as "use fallback scoring," never as a
// propagated error.
type HTTPReranker struct {
	baseURL string
	model   string
	apiKey  string
	client  *http.Client
}

// NewHTTPReranker creates a reranker client. apiKey may be empty; the
// server is expected to reject unauthenticated requests, which this client
// treats as a normal graceful-empty failure.
func NewHTTPReranker(baseURL, model, apiKey string) *HTTPReranker {
	return &HTTPReranker{
		baseURL: baseURL,
		model:   model,
		apiKey:  apiKey,
		client:  &http.Client{},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponseEntry struct {
	Index          int     `json:"index"`
	RelevanceScore float64 `json:"relevance_score"`
}

type rerankResponseBody struct {
	Results []rerankResponseEntry `json:"results"`
}

// Rerank scores documents against query. On any failure it logs nothing
// itself (callers decide whether to log) and returns (nil, nil).
func (r *HTTPReranker) Rerank(ctx context.Context, query string, documents []string) ([]RerankResult, error) {
	if len(documents) == 0 {
		return nil, nil
	}

	data, err := json.Marshal(rerankRequest{Model: r.model, Query: query, Documents: documents})
	if err != nil {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(data))
	if err != nil {
		return nil, nil
	}
	req.Header.Set("Content-Type", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, nil
	}

	var parsed rerankResponseBody
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, nil
	}

	out := make([]RerankResult, 0, len(parsed.Results))
	for _, entry := range parsed.Results {
		out = append(out, RerankResult{Index: entry.Index, Score: entry.RelevanceScore})
	}
	return out, nil
}

var _ Reranker = (*HTTPReranker)(nil)
