package provider

import (
	"context"
	"net/http"
	"net/url"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"golang.org/x/time/rate"
)

// TranscriptResult is one URL's outcome from batch_transcripts.
type TranscriptResult struct {
	URL        string
	Transcript *string
}

// TranscriptAdapter implements batch_transcripts.
type TranscriptAdapter struct {
	cfg    ClientConfig
	client *http.Client
	sem    *Semaphore
	lim    *rate.Limiter
}

func NewTranscriptAdapter(cfg ClientConfig) *TranscriptAdapter {
	return &TranscriptAdapter{cfg: cfg, client: cfg.httpClient(), sem: NewSemaphore(cfg.Parallel), lim: cfg.limiter()}
}

type transcriptResponse struct {
	Success     bool `json:"success"`
	Transcripts []struct {
		ID        string `json:"id"`
		Shortcode string `json:"shortcode"`
		Text      string `json:"text"`
	} `json:"transcripts"`
}

// BatchTranscripts fetches each URL's transcript. Per-URL failures are
// swallowed into a nil transcript so the batch can progress, per
// spec.md §4.3.3 — this adapter has no error return at all; every
// failure shows up as a nil Transcript for that URL.
func (a *TranscriptAdapter) BatchTranscripts(ctx context.Context, urls []string) []TranscriptResult {
	type indexed struct {
		idx int
		res TranscriptResult
	}
	results := make(chan indexed, len(urls))

	for i, u := range urls {
		go func(idx int, u string) {
			if err := a.sem.Acquire(ctx); err != nil {
				results <- indexed{idx: idx, res: TranscriptResult{URL: u}}
				return
			}
			defer a.sem.Release()
			results <- indexed{idx: idx, res: a.fetchOne(ctx, u)}
		}(i, u)
	}

	out := make([]TranscriptResult, len(urls))
	for range urls {
		r := <-results
		out[r.idx] = r.res
	}
	return out
}

func (a *TranscriptAdapter) fetchOne(ctx context.Context, reelURL string) TranscriptResult {
	endpoint := a.cfg.BaseURL + "/transcript?url=" + url.QueryEscape(reelURL)

	var parsed transcriptResponse
	err := retry.Do(ctx, a.cfg.retryPolicy(), func(ctx context.Context) error {
		if err := a.lim.Wait(ctx); err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_transcripts", map[string]any{"url": reelURL})
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_transcripts", map[string]any{"url": reelURL})
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		parsed = transcriptResponse{}
		return doJSON(a.client, req, "sc_batch_transcripts", &parsed)
	})
	if err != nil {
		// Per-URL failures are swallowed into a nil transcript even after
		// retries are exhausted, per spec.md §4.3.3 — transcripts are
		// supplementary signal, not required for a reel to be usable.
		return TranscriptResult{URL: reelURL}
	}

	if len(parsed.Transcripts) == 0 {
		return TranscriptResult{URL: reelURL}
	}
	// The contract field is literally "text", never "transcript" — see
	// spec.md §4.3.3. Empty strings normalize to nil, same as a missing field.
	text := parsed.Transcripts[0].Text
	if text == "" {
		return TranscriptResult{URL: reelURL}
	}
	return TranscriptResult{URL: reelURL, Transcript: &text}
}
