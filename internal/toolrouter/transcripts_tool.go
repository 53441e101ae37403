package toolrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sanchay-t/reelfinder/internal/provider"
	"github.com/sanchay-t/reelfinder/internal/reelconfig"
	"github.com/sanchay-t/reelfinder/internal/reelerr"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/smartcontext"
	"github.com/sanchay-t/reelfinder/internal/store"
)

// NewTranscriptsTool builds sc_batch_transcripts, per spec.md §4.6 #3:
// same bounds as sc_batch_posts, honoring the TRANSCRIPTS policy: never
// short-circuits to an empty packet, smart only fetches when the
// session's caption keyword match-rate is already low (the threshold
// decided in DESIGN.md), always fetches unconditionally.
func NewTranscriptsTool(sess *store.SessionStore, adapter *provider.TranscriptAdapter, cfg *reelconfig.Config, keyword string, logger reellog.Logger) *Tool {
	return &Tool{
		Name:        "sc_batch_transcripts",
		Description: "Fetch spoken-word transcripts for already-discovered reel URLs. Subject to the configured TRANSCRIPTS policy.",
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
				return "", reelerr.WithContext(err, reelerr.ClassInvalidResponse, "sc_batch_transcripts", nil)
			}
			if len(args.URLs) < 1 || len(args.URLs) > 60 {
				return "", reelerr.WithContext(fmt.Errorf("urls must have 1-60 items, got %d", len(args.URLs)), reelerr.ClassInvalidResponse, "sc_batch_transcripts", nil)
			}

			if cfg.Transcripts == reelconfig.TranscriptsNever {
				empty := smartcontext.TranscriptContext{Recommendation: "Transcripts are disabled by configuration; rely on captions."}
				b, _ := json.Marshal(empty)
				logger.ToolResponse(ctx, "sc_batch_transcripts", 0, 0, empty.Recommendation)
				return string(b), nil
			}

			if cfg.Transcripts == reelconfig.TranscriptsSmart {
				if !captionMatchRateIsLow(sess, keyword) {
					skip := smartcontext.TranscriptContext{Recommendation: "Caption match-rate is already strong; skipping transcripts per the smart policy."}
					b, _ := json.Marshal(skip)
					logger.ToolResponse(ctx, "sc_batch_transcripts", 0, 0, skip.Recommendation)
					return string(b), nil
				}
			}

			var known []string
			for _, u := range args.URLs {
				if sess.Contains(u) {
					known = append(known, u)
				} else {
					logger.Warn(ctx, "sc_batch_transcripts refused unknown url", reellog.F("url", u))
				}
			}
			if len(known) == 0 {
				return "", reelerr.WithContext(fmt.Errorf("no requested urls were previously discovered"), reelerr.ClassInvalidResponse, "sc_batch_transcripts", nil)
			}

			logger.ToolRequest(ctx, "sc_batch_transcripts", len(known))

			results := adapter.BatchTranscripts(ctx, known)

			records := make([]smartcontext.TranscriptRecord, 0, len(results))
			success, failure := 0, 0
			for _, r := range results {
				if r.Transcript != nil {
					success++
				} else {
					failure++
				}
				if err := sess.Upsert(store.Reel{URL: r.URL, Transcript: r.Transcript}); err != nil {
					logger.Warn(ctx, "failed to persist transcript", reellog.F("url", r.URL), reellog.F("error", err.Error()))
					continue
				}
				records = append(records, smartcontext.TranscriptRecord{URL: r.URL, Transcript: r.Transcript})
			}

			packet := smartcontext.BuildTranscriptContext(records, keyword, cfg.MaxTranscriptChars)
			logger.ToolResponse(ctx, "sc_batch_transcripts", success, failure, packet.Recommendation)
			logger.Intelligence(ctx, "sc_batch_transcripts", packet.Recommendation, reellog.F("total", packet.Total), reellog.F("quality_score", string(packet.QualityScore)))

			b, _ := json.Marshal(packet)
			return string(b), nil
		},
	}
}

// captionMatchRateIsLow recomputes the session's caption/keyword match
// rate over every row with a non-empty caption (no captions at all
// counts as low), resolving the TRANSCRIPTS=smart open
// question from spec.md §9.
func captionMatchRateIsLow(sess *store.SessionStore, keyword string) bool {
	reels := sess.All()
	total := 0
	matches := 0
	for _, r := range reels {
		if r.Caption == "" {
			continue
		}
		total++
		if smartcontext.ContainsKeyword(r.Caption, keyword) {
			matches++
		}
	}
	if total == 0 {
		return true
	}
	rate := 100 * float64(matches) / float64(total)
	return rate < smartcontext.LowMatchRateThreshold
}
