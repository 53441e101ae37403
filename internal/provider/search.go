package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"github.com/sanchay-t/reelfinder/internal/store"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// SearchParams are the ranking hints sent with every query, per
// spec.md §4.3.1. They are documented as ranking-only: non-US results
// may still come back and are filtered later by post-processing.
type SearchParams struct {
	GL       string
	HL       string
	Location string
	Num      int
}

// SearchAdapter implements search_reels_batch against the web-search
// provider (Serper-shaped API).
type SearchAdapter struct {
	cfg    ClientConfig
	params SearchParams
	client *http.Client
	sem    *Semaphore
	lim    *rate.Limiter
}

// NewSearchAdapter builds an adapter with its own client, semaphore, and
// rate limiter sized by cfg.Parallel/cfg.RPS.
func NewSearchAdapter(cfg ClientConfig, params SearchParams) *SearchAdapter {
	return &SearchAdapter{cfg: cfg, params: params, client: cfg.httpClient(), sem: NewSemaphore(cfg.Parallel), lim: cfg.limiter()}
}

type searchBody struct {
	Q        string `json:"q"`
	GL       string `json:"gl"`
	HL       string `json:"hl"`
	Location string `json:"location"`
	Num      int    `json:"num"`
}

// SearchReelsBatch dispatches queries as a single batch POST when the
// provider accepts an array body; the search endpoint used here does,
// so there is no per-query fan-out needed in the common case. Each raw
// query is prefixed/suffixed per spec.md §4.3.1 before being sent.
func (a *SearchAdapter) SearchReelsBatch(ctx context.Context, queries []string) ([]string, error) {
	if err := a.sem.Acquire(ctx); err != nil {
		return nil, err
	}
	defer a.sem.Release()

	bodies := make([]searchBody, len(queries))
	for i, q := range queries {
		bodies[i] = searchBody{
			Q:        fmt.Sprintf("site:instagram.com/reel %s United States", strings.TrimSpace(q)),
			GL:       a.params.GL,
			HL:       a.params.HL,
			Location: a.params.Location,
			Num:      a.params.Num,
		}
	}

	payload, err := json.Marshal(bodies)
	if err != nil {
		return nil, reelerr.WithContext(err, reelerr.ClassInvalidResponse, "search_reels_batch", nil)
	}

	var urls []string
	err = retry.Do(ctx, a.cfg.retryPolicy(), func(ctx context.Context) error {
		if err := a.lim.Wait(ctx); err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "search_reels_batch", nil)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/search", bytes.NewReader(payload))
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "search_reels_batch", nil)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-API-KEY", a.cfg.APIKey)

		resp, err := a.client.Do(req)
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "search_reels_batch", nil)
		}
		defer resp.Body.Close()

		var buf bytes.Buffer
		if _, err := buf.ReadFrom(resp.Body); err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "search_reels_batch", nil)
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return reelerr.WithContext(
				fmt.Errorf("http %d", resp.StatusCode),
				Classify(resp, nil), "search_reels_batch", map[string]any{"status": resp.StatusCode},
			)
		}

		if !gjson.ValidBytes(buf.Bytes()) {
			return reelerr.WithContext(fmt.Errorf("non-JSON search response"), reelerr.ClassInvalidResponse, "search_reels_batch", nil)
		}

		urls = extractReelURLs(buf.Bytes())
		return nil
	})
	if err != nil {
		return nil, err
	}
	return urls, nil
}

// extractReelURLs walks the entire response tree for a field literally
// named "link" whose value starts with the reel URL prefix, at any path
// depth, normalizes and de-duplicates it, per spec.md §4.3.1. A
// recursive walk over gjson's ForEach lets us do this without knowing the provider's
// exact nesting shape in advance, which the adapter must tolerate since
// response shape isn't a stable contract.
func extractReelURLs(body []byte) []string {
	var (
		seen   = map[string]bool{}
		ordered []string
		mu      sync.Mutex
	)

	var walk func(result gjson.Result)
	walk = func(result gjson.Result) {
		if result.IsObject() {
			result.ForEach(func(key, value gjson.Result) bool {
				if key.String() == "link" && value.Type == gjson.String {
					if norm, err := store.NormalizeReelURL(value.String()); err == nil {
						mu.Lock()
						if !seen[norm] {
							seen[norm] = true
							ordered = append(ordered, norm)
						}
						mu.Unlock()
					}
				}
				walk(value)
				return true
			})
			return
		}
		if result.IsArray() {
			result.ForEach(func(_, value gjson.Result) bool {
				walk(value)
				return true
			})
		}
	}

	walk(gjson.ParseBytes(body))
	return ordered
}
