package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/store"
)

type finalizeArgs struct {
	URLs []string `json:"urls"`
}

type finalizeResult struct {
	Accepted int    `json:"accepted"`
	Message  string `json:"message"`
}

// NewFinalizeTool builds finalize, per spec.md §4.6 #5: every URL must
// already be present and hydrated; on success the rows are marked
// analyzed and onFinalize (post-processing + master merge) runs. The
// agent loop treats a successful finalize call as its termination
// signal — the handler itself only validates and hands off.
func NewFinalizeTool(sess *store.SessionStore, logger reellog.Logger, onFinalize func(ctx context.Context, urls []string) (int, error)) *Tool {
	return &Tool{
		Name:        "finalize",
		Description: "Commit the final set of candidate reel URLs. Every URL must already be discovered and hydrated. Ends the run.",
		Schema: Schema(map[string]any{
			"urls": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
			},
		}, "urls"),
		Handler: func(ctx context.Context, argsJSON string) (string, error) {
			var args finalizeArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", reelerr.WithContext(err, reelerr.ClassInvalidResponse, "finalize", nil)
			}
			if len(args.URLs) == 0 {
				return "", reelerr.WithContext(fmt.Errorf("finalize requires at least one url"), reelerr.ClassInvalidResponse, "finalize", nil)
			}

			var unready []string
			for _, u := range args.URLs {
				reel, ok := sess.Get(u)
				if !ok || statusRank(reel.Status) < statusRank(store.StatusHydrated) {
					unready = append(unready, u)
					continue
				}
			}
			if len(unready) > 0 {
				return "", reelerr.WithContext(
					fmt.Errorf("urls not discovered/hydrated: %v", unready),
					reelerr.ClassInvalidResponse, "finalize", map[string]any{"unready": unready},
				)
			}

			logger.ToolRequest(ctx, "finalize", len(args.URLs))
			for _, u := range args.URLs {
				if err := sess.Upsert(store.Reel{URL: u, Status: store.StatusAnalyzed}); err != nil {
					logger.Warn(ctx, "failed to mark row analyzed", reellog.F("url", u), reellog.F("error", err.Error()))
				}
			}

			accepted, err := onFinalize(ctx, args.URLs)
			if err != nil {
				logger.ToolResponse(ctx, "finalize", 0, len(args.URLs), "")
				return "", err
			}

			res := finalizeResult{Accepted: accepted, Message: fmt.Sprintf("finalized with %d accepted of %d candidates", accepted, len(args.URLs))}
			logger.Final(ctx, res.Message, reellog.F("accepted", accepted))
			b, _ := json.Marshal(res)
			return string(b), nil
		},
	}
}

// statusRank exposes store's private ranking via the public
// CanTransitionTo-adjacent comparison the finalize tool needs: is reel
// at least hydrated. Implemented by walking the known lifecycle order
// rather than reaching into store's unexported map.
func statusRank(s store.Status) int {
	switch s {
	case store.StatusDiscovered:
		return 0
	case store.StatusHydrated:
		return 1
	case store.StatusAnalyzed:
		return 2
	case store.StatusAccepted, store.StatusRejected:
		return 3
	default:
		return -1
	}
}
