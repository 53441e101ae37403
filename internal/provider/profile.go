package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"golang.org/x/time/rate"
)

// ProfileBrief is the profile data spec.md §4.3.4 requires.
type ProfileBrief struct {
	Handle              string
	FullName            string
	Biography           string
	BusinessAddressJSON string
	ExternalURL         string
	IsVerified          bool
	Followers           int64
}

// ProfileAdapter implements batch_profiles.
type ProfileAdapter struct {
	cfg    ClientConfig
	client *http.Client
	sem    *Semaphore
	lim    *rate.Limiter
}

func NewProfileAdapter(cfg ClientConfig) *ProfileAdapter {
	return &ProfileAdapter{cfg: cfg, client: cfg.httpClient(), sem: NewSemaphore(cfg.Parallel), lim: cfg.limiter()}
}

type profileResponse struct {
	Data struct {
		User struct {
			Username            string          `json:"username"`
			Biography           string          `json:"biography"`
			BusinessAddressJSON json.RawMessage `json:"business_address_json"`
			ExternalURL         string          `json:"external_url"`
			IsVerified          bool            `json:"is_verified"`
			EdgeFollowedBy      struct {
				Count int64 `json:"count"`
			} `json:"edge_followed_by"`
			FullName string `json:"full_name"`
		} `json:"user"`
	} `json:"data"`
}

// BatchProfiles deduplicates handles and GETs each untrimmed. A
// per-handle failure yields a nil entry rather than aborting the batch.
func (a *ProfileAdapter) BatchProfiles(ctx context.Context, handles []string) []*ProfileBrief {
	unique := dedupe(handles)

	type indexed struct {
		idx int
		res *ProfileBrief
	}
	results := make(chan indexed, len(unique))

	for i, h := range unique {
		go func(idx int, handle string) {
			if err := a.sem.Acquire(ctx); err != nil {
				results <- indexed{idx: idx}
				return
			}
			defer a.sem.Release()
			results <- indexed{idx: idx, res: a.fetchOne(ctx, handle)}
		}(i, h)
	}

	out := make([]*ProfileBrief, len(unique))
	for range unique {
		r := <-results
		out[r.idx] = r.res
	}
	return out
}

func (a *ProfileAdapter) fetchOne(ctx context.Context, handle string) *ProfileBrief {
	endpoint := a.cfg.BaseURL + "/profile?handle=" + url.QueryEscape(handle)

	var parsed profileResponse
	err := retry.Do(ctx, a.cfg.retryPolicy(), func(ctx context.Context) error {
		if err := a.lim.Wait(ctx); err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_profiles", map[string]any{"handle": handle})
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_profiles", map[string]any{"handle": handle})
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		parsed = profileResponse{}
		return doJSON(a.client, req, "sc_batch_profiles", &parsed)
	})
	if err != nil {
		return nil
	}

	u := parsed.Data.User
	return &ProfileBrief{
		Handle:              firstNonEmpty(u.Username, handle),
		FullName:            u.FullName,
		Biography:           u.Biography,
		BusinessAddressJSON: string(u.BusinessAddressJSON),
		ExternalURL:         u.ExternalURL,
		IsVerified:          u.IsVerified,
		Followers:           u.EdgeFollowedBy.Count,
	}
}

func dedupe(in []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
