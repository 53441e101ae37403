package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/store"
)

type searchArgs struct {
	Queries []string `json:"queries"`
}

type searchResult struct {
	Queries    []string `json:"queries"`
	Found      int      `json:"found"`
	New        int      `json:"new"`
	SampleURLs []string `json:"sample_urls"`
}

// NewSearchTool builds serper_search_reels_batch, per spec.md §4.6 #1:
// validate 1<=|queries|<=12, dispatch to the web-search adapter, append
// discovered URLs to the session log as status=discovered, and return a
// small packet instead of the raw URL list.
func NewSearchTool(sess *store.SessionStore, adapter *provider.SearchAdapter, keyword string, logger reellog.Logger) *Tool {
	return &Tool{
		Name:        "serper_search_reels_batch",
		Description: "Search for Instagram reel URLs matching one or more queries. Returns a count summary, not the raw URL list.",
		Schema: Schema(map[string]any{
			"queries": map[string]any{
				"type":        "array",
				"items":       map[string]any{"type": "string"},
				"minItems":    1,
				"maxItems":    12,
				"description": "Search queries, without the site: prefix or country suffix (added automatically).",
			},
		}, "queries"),
		Handler: func(ctx context.Context, argsJSON string) (string, error) {
			var args searchArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", reelerr.WithContext(err, reelerr.ClassInvalidResponse, "serper_search_reels_batch", nil)
			}
			if len(args.Queries) < 1 || len(args.Queries) > 12 {
				return "", reelerr.WithContext(fmt.Errorf("queries must have 1-12 items, got %d", len(args.Queries)), reelerr.ClassInvalidResponse, "serper_search_reels_batch", nil)
			}

			logger.ToolRequest(ctx, "serper_search_reels_batch", len(args.Queries))

			urls, err := adapter.SearchReelsBatch(ctx, args.Queries)
			if err != nil {
				logger.ToolResponse(ctx, "serper_search_reels_batch", 0, len(args.Queries), "")
				return "", err
			}

			newCount := 0
			for _, u := range urls {
				if sess.Contains(u) {
					continue
				}
				if err := sess.Upsert(store.Reel{URL: u, Keyword: keyword, Status: store.StatusDiscovered}); err != nil {
					logger.Warn(ctx, "failed to persist discovered url", reellog.F("url", u), reellog.F("error", err.Error()))
					continue
				}
				newCount++
			}

			sample := urls
			if len(sample) > 5 {
				sample = sample[:5]
			}
			res := searchResult{Queries: args.Queries, Found: len(urls), New: newCount, SampleURLs: sample}
			logger.ToolResponse(ctx, "serper_search_reels_batch", len(urls), 0, fmt.Sprintf("found %d urls, %d new", len(urls), newCount))

			b, _ := json.Marshal(res)
			return string(b), nil
		},
	}
}
