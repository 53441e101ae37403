// Package postprocess implements the four-step pipeline spec.md §4.8
// runs over a finalized URL set: US filter, per-creator cap, deterministic
// shuffle, and slice to MAX_RESULTS. It is the last stage before a run's
// result is committed to the session log and merged into the master log.
package postprocess

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/Knetic/govaluate"
	"github.com/sanchay-t/reelfinder/internal/reellog"
	"github.com/sanchay-t/reelfinder/internal/store"
)

// tieBreakExpr scores a row within a relevance tier so the per-creator
// cap's stable sort (views desc, row_updated_at desc) is a single
// declarative comparison instead of two hand-rolled comparisons chained
// together, grounded on the teacher's math tool's govaluate.evaluate
// (agent/tools/math.go).
const tieBreakExpr = "views*1000000 - age_seconds"

// Candidate is one row under consideration, carrying just the fields the
// pipeline's sort/cap/shuffle steps need.
type candidate struct {
	reel  store.Reel
	score float64
}

// Run applies the four steps to the rows named by finalizedURLs, reading
// current state from sess and writing the accepted/rejected verdict back
// via sess.Upsert. It returns the accepted URLs in final (post-shuffle,
// post-slice) order.
func Run(sess *store.SessionStore, logger reellog.Logger, sessionID string, finalizedURLs []string, perCreatorCap, maxResults int, usUnknownAllowed bool) ([]string, error) {
	rows := collect(sess, finalizedURLs)
	rows = usFilter(rows, usUnknownAllowed)
	rows = scoreAndSort(rows)
	rows = perCreatorCapStep(rows, perCreatorCap)

	shuffled, perfect := deterministicShuffle(rows, sessionID)
	if !perfect {
		logger.Warn(context.Background(), "shuffle could not fully avoid consecutive same-owner rows", reellog.F("total", len(shuffled)))
	}

	accepted := shuffled
	rejectedCandidates := []candidate{}
	if len(accepted) > maxResults {
		rejectedCandidates = append(rejectedCandidates, accepted[maxResults:]...)
		accepted = accepted[:maxResults]
	}

	acceptedURLs := make([]string, 0, len(accepted))
	for _, c := range accepted {
		if err := sess.Upsert(store.Reel{URL: c.reel.URL, Status: store.StatusAccepted}); err != nil {
			return nil, err
		}
		acceptedURLs = append(acceptedURLs, c.reel.URL)
	}
	for _, c := range rejectedCandidates {
		if err := sess.Upsert(store.Reel{URL: c.reel.URL, Status: store.StatusRejected}); err != nil {
			return nil, err
		}
	}
	// rows dropped at the US filter or per-creator cap never reached
	// accepted/rejectedCandidates; mark them rejected too, since
	// "reject" is the default endpoint for anything finalize proposed
	// but the pipeline did not keep.
	kept := map[string]bool{}
	for _, u := range acceptedURLs {
		kept[u] = true
	}
	for _, c := range rejectedCandidates {
		kept[c.reel.URL] = true
	}
	for _, u := range finalizedURLs {
		if norm, ok := sess.Get(u); ok && !kept[norm.URL] {
			if err := sess.Upsert(store.Reel{URL: norm.URL, Status: store.StatusRejected}); err != nil {
				return nil, err
			}
		}
	}

	return acceptedURLs, nil
}

func collect(sess *store.SessionStore, urls []string) []candidate {
	out := make([]candidate, 0, len(urls))
	for _, u := range urls {
		r, ok := sess.Get(u)
		if !ok {
			continue
		}
		out = append(out, candidate{reel: r})
	}
	return out
}

// usFilter keeps US and (if allowed) unknown rows, per spec.md §4.8 step 1.
func usFilter(in []candidate, usUnknownAllowed bool) []candidate {
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		switch c.reel.USDecision {
		case store.USPositive:
			out = append(out, c)
		case store.USUnknown:
			if usUnknownAllowed {
				out = append(out, c)
			}
		case store.USNegative:
			// rejected
		}
	}
	return out
}

func relevanceTier(d store.RelevanceDecision) int {
	switch d {
	case store.RelevanceRelevant:
		return 0
	case store.RelevanceUnknown:
		return 1
	case store.RelevanceIrrelevant:
		return 2
	default:
		return 1
	}
}

// scoreAndSort computes each row's tie-break score via govaluate and
// stable-sorts by (relevance tier asc, score desc), matching spec.md
// §4.8 step 2's "relevant-first, views desc, row_updated_at desc" order.
func scoreAndSort(in []candidate) []candidate {
	expr, err := govaluate.NewEvaluableExpression(tieBreakExpr)
	now := time.Now().UTC()
	for i := range in {
		views := float64(0)
		if in[i].reel.Views != nil {
			views = float64(*in[i].reel.Views)
		}
		ageSeconds := rowAgeSeconds(in[i].reel.RowUpdatedAt, now)
		if err != nil {
			in[i].score = views*1000000 - ageSeconds
			continue
		}
		result, evalErr := expr.Evaluate(map[string]interface{}{"views": views, "age_seconds": ageSeconds})
		if evalErr != nil {
			in[i].score = views*1000000 - ageSeconds
			continue
		}
		if f, ok := result.(float64); ok {
			in[i].score = f
		}
	}

	sort.SliceStable(in, func(i, j int) bool {
		ti, tj := relevanceTier(in[i].reel.RelevanceDecision), relevanceTier(in[j].reel.RelevanceDecision)
		if ti != tj {
			return ti < tj
		}
		return in[i].score > in[j].score
	})
	return in
}

func rowAgeSeconds(iso string, now time.Time) float64 {
	if iso == "" {
		return 0
	}
	t, err := time.Parse(time.RFC3339, iso)
	if err != nil {
		return 0
	}
	return now.Sub(t).Seconds()
}

// perCreatorCapStep keeps at most cap rows per owner_handle, treating a
// null/empty owner as its own bucket of the same size, per spec.md §4.8
// step 2's "reserved null bucket of the same size" rule. Input must
// already be sorted into priority order; this preserves that order.
func perCreatorCapStep(in []candidate, capSize int) []candidate {
	if capSize <= 0 {
		capSize = 1
	}
	counts := map[string]int{}
	out := make([]candidate, 0, len(in))
	for _, c := range in {
		key := ""
		if c.reel.OwnerHandle != nil {
			key = *c.reel.OwnerHandle
		}
		if counts[key] >= capSize {
			continue
		}
		counts[key]++
		out = append(out, c)
	}
	return out
}

// deterministicShuffle interleaves rows so no two consecutive rows share
// an owner_handle whenever that is combinatorially possible (max owner
// count <= total - max owner count + 1), per spec.md §4.8 step 3. The
// source is seeded from an FNV hash of sessionID rather than the global
// math/rand state, so a run can be replayed byte-for-byte against the
// same session.
func deterministicShuffle(in []candidate, sessionID string) ([]candidate, bool) {
	if len(in) <= 1 {
		return in, true
	}
	src := rand.New(rand.NewSource(int64(seedFromSession(sessionID))))

	groups := map[string][]candidate{}
	var keys []string
	for _, c := range in {
		key := ""
		if c.reel.OwnerHandle != nil {
			key = *c.reel.OwnerHandle
		}
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], c)
	}
	for _, k := range keys {
		src.Shuffle(len(groups[k]), func(i, j int) { groups[k][i], groups[k][j] = groups[k][j], groups[k][i] })
	}

	total := len(in)
	maxCount := 0
	for _, k := range keys {
		if len(groups[k]) > maxCount {
			maxCount = len(groups[k])
		}
	}
	possible := maxCount <= total-maxCount+1

	// Largest-remaining-group-first placement: repeatedly take one item
	// from whichever remaining group currently has the most items left,
	// breaking ties by the group's first appearance in the input (the
	// seeded source only shuffles rows within each group), which is the standard
	// construction for "rearrange so no two adjacent share a label" when
	// it's achievable, and still minimizes adjacent runs when it isn't.
	sort.SliceStable(keys, func(i, j int) bool { return len(groups[keys[i]]) > len(groups[keys[j]]) })

	out := make([]candidate, 0, total)
	remaining := map[string][]candidate{}
	for _, k := range keys {
		remaining[k] = groups[k]
	}
	lastKey := ""
	perfect := true
	for len(out) < total {
		order := make([]string, 0, len(keys))
		for _, k := range keys {
			if len(remaining[k]) > 0 {
				order = append(order, k)
			}
		}
		sort.SliceStable(order, func(i, j int) bool { return len(remaining[order[i]]) > len(remaining[order[j]]) })

		chosen := ""
		for _, k := range order {
			if k != lastKey {
				chosen = k
				break
			}
		}
		if chosen == "" {
			// every remaining group equals lastKey: unavoidable repeat.
			chosen = order[0]
			perfect = false
		}
		out = append(out, remaining[chosen][0])
		remaining[chosen] = remaining[chosen][1:]
		lastKey = chosen
	}

	return out, perfect && possible
}

func seedFromSession(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32()
}
