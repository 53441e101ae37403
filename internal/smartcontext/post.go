package smartcontext

// PostRecord is the minimal shape build_post_context needs from a
// hydrated post, decoupled from store.Reel so this package stays
// dependency-free and purely functional.
type PostRecord struct {
	URL          string
	OwnerHandle  string
	Caption      string
	Views        *int64
	LocationName string
}

type KeywordAnalysis struct {
	InCaptions int    `json:"in_captions"`
	MatchRate  string `json:"match_rate"`
}

type PostSample struct {
	URL             string `json:"url"`
	OwnerHandle     string `json:"owner_handle"`
	CaptionPreview  string `json:"caption_preview"`
	Views           *int64 `json:"views,omitempty"`
	LocationName    string `json:"location_name,omitempty"`
	RelevanceHint   string `json:"relevance_hint"`
}

// PostContext is the intelligence packet returned by sc_batch_posts, per
// spec.md §4.5.1.
type PostContext struct {
	Total           int             `json:"total"`
	WithCaptions    int             `json:"with_captions"`
	AvgViews        *float64        `json:"avg_views"`
	UniqueOwners    int             `json:"unique_owners"`
	KeywordAnalysis KeywordAnalysis `json:"keyword_analysis"`
	Diversity       []OwnerCount    `json:"diversity"`
	QualityScore    QualityScore    `json:"quality_score"`
	Samples         []PostSample    `json:"samples"`
	Recommendation  string          `json:"recommendation"`
}

// BuildPostContext compresses posts into a PostContext, matching every
// field and threshold spec.md §4.5.1 defines.
func BuildPostContext(posts []PostRecord, keyword string) PostContext {
	total := len(posts)
	withCaptions := 0
	inCaptions := 0
	ownerCounts := map[string]int{}
	owners := map[string]bool{}
	var viewSum int64
	var viewCount int

	for _, p := range posts {
		if p.Caption != "" {
			withCaptions++
		}
		if containsKeyword(p.Caption, keyword) {
			inCaptions++
		}
		if p.OwnerHandle != "" {
			ownerCounts[p.OwnerHandle]++
			owners[p.OwnerHandle] = true
		}
		if p.Views != nil {
			viewSum += *p.Views
			viewCount++
		}
	}

	var avgViews *float64
	if viewCount > 0 {
		v := float64(viewSum) / float64(viewCount)
		avgViews = &v
	}

	captionCoverage := pct(withCaptions, total)
	matchRate := pct(inCaptions, total)
	quality := scoreFromRates(captionCoverage, matchRate)

	diversity := topN(sortedOwnerCounts(ownerCounts), 3)

	samples := buildPostSamples(posts, keyword, 3)

	return PostContext{
		Total:        total,
		WithCaptions: withCaptions,
		AvgViews:     avgViews,
		UniqueOwners: len(owners),
		KeywordAnalysis: KeywordAnalysis{
			InCaptions: inCaptions,
			MatchRate:  pctString(inCaptions, total),
		},
		Diversity:      diversity,
		QualityScore:   quality,
		Samples:        samples,
		Recommendation: postRecommendation(quality),
	}
}

// buildPostSamples picks up to n posts, preferring diverse owners (no
// repeated owner while an unrepresented one remains available).
func buildPostSamples(posts []PostRecord, keyword string, n int) []PostSample {
	seen := map[string]bool{}
	var out []PostSample

	take := func(p PostRecord) {
		hint := "none"
		if containsKeyword(p.Caption, keyword) {
			hint = "strong"
		} else if p.Caption != "" {
			hint = "weak"
		}
		out = append(out, PostSample{
			URL:            p.URL,
			OwnerHandle:    p.OwnerHandle,
			CaptionPreview: truncate(p.Caption, 100),
			Views:          p.Views,
			LocationName:   p.LocationName,
			RelevanceHint:  hint,
		})
	}

	for _, p := range posts {
		if len(out) >= n {
			break
		}
		if p.OwnerHandle != "" && seen[p.OwnerHandle] {
			continue
		}
		if p.OwnerHandle != "" {
			seen[p.OwnerHandle] = true
		}
		take(p)
	}
	for _, p := range posts {
		if len(out) >= n {
			break
		}
		already := false
		for _, s := range out {
			if s.URL == p.URL {
				already = true
				break
			}
		}
		if !already {
			take(p)
		}
	}
	return out
}

func postRecommendation(q QualityScore) string {
	switch q {
	case QualityExcellent:
		return "Strong batch: captions and keyword match are both high, proceed to hydrate profiles and finalize."
	case QualityGood:
		return "Solid batch: hydrate a few more URLs for diversity before finalizing."
	case QualityFair:
		return "Mixed batch: search with refined queries to find more on-keyword captions."
	default:
		return "Weak batch: captions rarely mention the keyword, fetch transcripts or broaden the search."
	}
}
