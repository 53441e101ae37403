package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/smartcontext"
	"github.com/sanchay-t/reelfinder/internal/store"
)

type urlsArgs struct {
	URLs []string `json:"urls"`
}

// NewPostsTool builds sc_batch_posts, per spec.md §4.6 #2: validate
// 1<=|urls|<=60, only hydrate URLs already discovered this session,
// persist full-fidelity post fields to the session row, and return a
// compressed intelligence packet instead of the raw rows.
func NewPostsTool(sess *store.SessionStore, adapter *provider.PostAdapter, keyword string, logger reellog.Logger) *Tool {
	return &Tool{
		Name:        "sc_batch_posts",
		Description: "Hydrate already-discovered reel URLs with post metadata (caption, owner, views, etc). Returns a compressed intelligence packet.",
		Schema: Schema(map[string]any{
			"urls": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": 60,
			},
		}, "urls"),
		Handler: func(ctx context.Context, argsJSON string) (string, error) {
			var args urlsArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", reelerr.WithContext(err, reelerr.ClassInvalidResponse, "sc_batch_posts", nil)
			}
			if len(args.URLs) < 1 || len(args.URLs) > 60 {
				return "", reelerr.WithContext(fmt.Errorf("urls must have 1-60 items, got %d", len(args.URLs)), reelerr.ClassInvalidResponse, "sc_batch_posts", nil)
			}

			var known []string
			for _, u := range args.URLs {
				if sess.Contains(u) {
					known = append(known, u)
				} else {
					logger.Warn(ctx, "sc_batch_posts refused unknown url", reellog.F("url", u))
				}
			}
			if len(known) == 0 {
				return "", reelerr.WithContext(fmt.Errorf("no requested urls were previously discovered"), reelerr.ClassInvalidResponse, "sc_batch_posts", nil)
			}

			logger.ToolRequest(ctx, "sc_batch_posts", len(known))

			briefs, err := adapter.BatchPosts(ctx, known)
			if err != nil && reelerr.ClassOf(err).Unrecoverable() {
				logger.ToolResponse(ctx, "sc_batch_posts", 0, len(known), "")
				return "", err
			}

			records := make([]smartcontext.PostRecord, 0, len(known))
			success, failure := 0, 0
			for i, u := range known {
				brief := briefs[i]
				if brief.URL == "" {
					failure++
					continue
				}
				success++
				reel := store.Reel{
					URL:          u,
					Shortcode:    brief.Shortcode,
					Keyword:      keyword,
					Caption:      brief.Caption,
					IsVideo:      &brief.IsVideo,
					ProductType:  strPtr(brief.ProductType),
					Views:        brief.Views,
					TakenAtISO:   strPtr(brief.TakenAtISO),
					Thumbnail:    strPtr(brief.Thumbnail),
					LocationName: strPtr(brief.LocationName),
					Status:       store.StatusHydrated,
				}
				if brief.OwnerHandle != "" {
					reel.OwnerHandle = strPtr(brief.OwnerHandle)
				}
				if brief.OwnerName != "" {
					reel.OwnerName = strPtr(brief.OwnerName)
				}
				reel.IsVerified = &brief.IsVerified
				if err := sess.Upsert(reel); err != nil {
					logger.Warn(ctx, "failed to persist hydrated post", reellog.F("url", u), reellog.F("error", err.Error()))
					continue
				}
				records = append(records, smartcontext.PostRecord{
					URL: u, OwnerHandle: brief.OwnerHandle, Caption: brief.Caption,
					Views: brief.Views, LocationName: brief.LocationName,
				})
			}

			packet := smartcontext.BuildPostContext(records, keyword)
			logger.ToolResponse(ctx, "sc_batch_posts", success, failure, packet.Recommendation)
			logger.Intelligence(ctx, "sc_batch_posts", packet.Recommendation, reellog.F("total", packet.Total), reellog.F("quality_score", string(packet.QualityScore)))

			b, _ := json.Marshal(packet)
			return string(b), nil
		},
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
