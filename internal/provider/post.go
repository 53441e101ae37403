package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/retry"
	"golang.org/x/time/rate"
)

// PostBrief is the hydrated post metadata spec.md §4.3.2 requires.
type PostBrief struct {
	URL          string
	Shortcode    string
	Caption      string
	OwnerHandle  string // empty if the provider omitted owner data
	OwnerName    string
	IsVerified   bool
	IsVideo      bool
	ProductType  string
	Views        *int64
	TakenAtISO   string
	Thumbnail    string
	LocationName string
}

// PostAdapter implements batch_posts.
type PostAdapter struct {
	cfg    ClientConfig
	client *http.Client
	sem    *Semaphore
	lim    *rate.Limiter
	logger reellog.Logger
}

func NewPostAdapter(cfg ClientConfig, logger reellog.Logger) *PostAdapter {
	if logger == nil {
		logger = reellog.NoopLogger{}
	}
	return &PostAdapter{cfg: cfg, client: cfg.httpClient(), sem: NewSemaphore(cfg.Parallel), lim: cfg.limiter(), logger: logger}
}

type postResponse struct {
	Data struct {
		XdtShortcodeMedia struct {
			Shortcode string `json:"shortcode"`
			Owner     struct {
				Username   string `json:"username"`
				FullName   string `json:"full_name"`
				IsVerified bool   `json:"is_verified"`
			} `json:"owner"`
			EdgeMediaToCaption struct {
				Edges []struct {
					Node struct {
						Text string `json:"text"`
					} `json:"node"`
				} `json:"edges"`
			} `json:"edge_media_to_caption"`
			IsVideo             bool   `json:"is_video"`
			ProductType         string `json:"product_type"`
			VideoViewCount      *int64 `json:"video_view_count"`
			VideoPlayCount      *int64 `json:"video_play_count"`
			TakenAtTimestamp    *int64 `json:"taken_at_timestamp"`
			ThumbnailSrc        string `json:"thumbnail_src"`
			DisplayURL          string `json:"display_url"`
			Location            *struct {
				Name string `json:"name"`
			} `json:"location"`
		} `json:"xdt_shortcode_media"`
	} `json:"data"`
}

// BatchPosts GETs each URL's post endpoint untrimmed (the trimmed shape
// omits owner data and MUST NOT be requested, per spec.md §4.3.2) and
// fans out across the adapter's semaphore.
func (a *PostAdapter) BatchPosts(ctx context.Context, urls []string) ([]PostBrief, error) {
	type result struct {
		idx   int
		brief PostBrief
		err   error
	}
	results := make(chan result, len(urls))

	for i, u := range urls {
		go func(idx int, u string) {
			if err := a.sem.Acquire(ctx); err != nil {
				results <- result{idx: idx, err: err}
				return
			}
			defer a.sem.Release()
			brief, err := a.fetchOne(ctx, u)
			results <- result{idx: idx, brief: brief, err: err}
		}(i, u)
	}

	out := make([]PostBrief, len(urls))
	var firstErr error
	for range urls {
		r := <-results
		if r.err != nil {
			// auth_failed and out_of_credits are dead ends for every other
			// URL in the batch too, not just this one; out and firstErr
			// still surface what did succeed before the batch aborts.
			if reelerr.ClassOf(r.err).Unrecoverable() && firstErr == nil {
				firstErr = r.err
			}
			continue
		}
		out[r.idx] = r.brief
	}
	if firstErr != nil {
		return out, firstErr
	}
	return out, nil
}

func (a *PostAdapter) fetchOne(ctx context.Context, reelURL string) (PostBrief, error) {
	endpoint := a.cfg.BaseURL + "/post?url=" + url.QueryEscape(reelURL)

	var parsed postResponse
	err := retry.Do(ctx, a.cfg.retryPolicy(), func(ctx context.Context) error {
		if err := a.lim.Wait(ctx); err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_posts", map[string]any{"url": reelURL})
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return reelerr.WithContext(err, reelerr.ClassTransient, "sc_batch_posts", map[string]any{"url": reelURL})
		}
		req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

		parsed = postResponse{}
		return doJSON(a.client, req, "sc_batch_posts", &parsed)
	})
	if err != nil {
		return PostBrief{}, wrapURL(err, reelURL)
	}

	media := parsed.Data.XdtShortcodeMedia
	brief := PostBrief{
		URL:         reelURL,
		Shortcode:   media.Shortcode,
		OwnerHandle: media.Owner.Username,
		OwnerName:   media.Owner.FullName,
		IsVerified:  media.Owner.IsVerified,
		IsVideo:     media.IsVideo,
		ProductType: media.ProductType,
		Thumbnail:   firstNonEmpty(media.ThumbnailSrc, media.DisplayURL),
	}
	if len(media.EdgeMediaToCaption.Edges) > 0 {
		brief.Caption = media.EdgeMediaToCaption.Edges[0].Node.Text
	}
	if media.VideoViewCount != nil {
		brief.Views = media.VideoViewCount
	} else if media.VideoPlayCount != nil {
		brief.Views = media.VideoPlayCount
	}
	if media.TakenAtTimestamp != nil {
		brief.TakenAtISO = timestampToISO(*media.TakenAtTimestamp)
	}
	if media.Location != nil {
		brief.LocationName = media.Location.Name
	}

	if brief.OwnerHandle == "" {
		a.logger.Warn(ctx, "post missing owner username", reellog.F("url", reelURL))
	}
	return brief, nil
}

// timestampToISO converts a post timestamp to UTC ISO-8601. Numbers with
// <=10 digits are seconds; anything longer is milliseconds, per
// spec.md §4.3.2.
func timestampToISO(ts int64) string {
	if numDigits(ts) <= 10 {
		return time.Unix(ts, 0).UTC().Format(time.RFC3339)
	}
	return time.UnixMilli(ts).UTC().Format(time.RFC3339)
}

func numDigits(n int64) int {
	if n < 0 {
		n = -n
	}
	s := strconv.FormatInt(n, 10)
	return len(s)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func wrapURL(err error, url string) error {
	if c, ok := err.(*reelerr.Classified); ok {
		if c.Details == nil {
			c.Details = map[string]any{}
		}
		c.Details["url"] = url
		return c
	}
	return fmt.Errorf("%s: %w", url, err)
}
