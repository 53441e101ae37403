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

type handlesArgs struct {
	Handles []string `json:"handles"`
}

// NewProfilesTool builds sc_batch_profiles, per spec.md §4.6 #4:
// validate 1<=|handles|<=40, dispatch to the profile adapter, and write
// back only a condensed us_decision/us_reason onto every reel row whose
// owner_handle matches — the full profile itself is never persisted.
func NewProfilesTool(sess *store.SessionStore, adapter *provider.ProfileAdapter, logger reellog.Logger) *Tool {
	return &Tool{
		Name:        "sc_batch_profiles",
		Description: "Fetch owner profile signals for a batch of handles and resolve a US or unknown decision per handle. Returns a compressed intelligence packet.",
		Schema: Schema(map[string]any{
			"handles": map[string]any{
				"type":     "array",
				"items":    map[string]any{"type": "string"},
				"minItems": 1,
				"maxItems": 40,
			},
		}, "handles"),
		Handler: func(ctx context.Context, argsJSON string) (string, error) {
			var args handlesArgs
			if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
				return "", reelerr.WithContext(err, reelerr.ClassInvalidResponse, "sc_batch_profiles", nil)
			}
			if len(args.Handles) < 1 || len(args.Handles) > 40 {
				return "", reelerr.WithContext(fmt.Errorf("handles must have 1-40 items, got %d", len(args.Handles)), reelerr.ClassInvalidResponse, "sc_batch_profiles", nil)
			}

			logger.ToolRequest(ctx, "sc_batch_profiles", len(args.Handles))

			briefs := adapter.BatchProfiles(ctx, args.Handles)

			records := make([]smartcontext.ProfileRecord, 0, len(briefs))
			success, failure := 0, 0
			for _, b := range briefs {
				if b == nil {
					failure++
					continue
				}
				success++
				rec := smartcontext.ProfileRecord{
					Handle: b.Handle, Biography: b.Biography,
					BusinessAddressJSON: b.BusinessAddressJSON, ExternalURL: b.ExternalURL,
					IsVerified: b.IsVerified,
				}
				records = append(records, rec)
				decision, reason := resolveUSDecision(rec)
				applyUSDecision(sess, b.Handle, decision, reason)
			}

			packet := smartcontext.BuildProfileContext(records)
			logger.ToolResponse(ctx, "sc_batch_profiles", success, failure, packet.Recommendation)
			logger.Intelligence(ctx, "sc_batch_profiles", packet.Recommendation, reellog.F("total", packet.Total))

			out, _ := json.Marshal(packet)
			return string(out), nil
		},
	}
}

// resolveUSDecision turns a profile's confidence tier into the reel
// row's condensed us_decision/us_reason columns.
func resolveUSDecision(p smartcontext.ProfileRecord) (store.USDecision, string) {
	switch smartcontext.ClassifyForDecision(p) {
	case smartcontext.ConfidenceHigh:
		return store.USPositive, "business address resolves to a US state/ZIP"
	case smartcontext.ConfidenceMedium:
		return store.USPositive, "bio/domain carries a US signal"
	default:
		return store.USUnknown, "no US signal found in profile"
	}
}

// applyUSDecision patches every row owned by handle with the given
// decision, leaving all other fields untouched (SessionStore.Upsert's
// patch semantics already do this for empty fields).
func applyUSDecision(sess *store.SessionStore, handle string, decision store.USDecision, reason string) {
	for _, r := range sess.All() {
		if r.OwnerHandle == nil || *r.OwnerHandle != handle {
			continue
		}
		_ = sess.Upsert(store.Reel{URL: r.URL, USDecision: decision, USReason: reason})
	}
}
