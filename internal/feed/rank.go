package feed

import (
	"sort"
	"time"

	"github.com/solai17/bytefeed/internal/db"
)

// Personalized scoring weights. Cold-start users have no reliable category
// signal, so their preference weight is zeroed and the freed mass shifts
// onto content quality.
const (
	warmQualityWeight    = 0.35
	warmPreferenceWeight = 0.25
	coldQualityWeight    = warmQualityWeight + warmPreferenceWeight

	engagementWeight = 0.25
	recencyWeight    = 0.10
	jitterWeight     = 0.05

	// Saturation constant for mapping unbounded engagement scores into [0,1).
	engagementSaturation = 25.0

	// Weight for a category the user has never interacted with.
	neutralPreference = 0.5
)

type scoredCandidate struct {
	db.FeedCandidate
	score float64
}

// normalizeEngagement squashes a raw engagement score into [0,1).
func normalizeEngagement(score float64) float64 {
	if score <= 0 {
		return 0
	}
	return score / (score + engagementSaturation)
}

// recencyFactor decays linearly from 1 at creation to 0 at the window edge.
func recencyFactor(age, window time.Duration) float64 {
	if window <= 0 || age <= 0 {
		return 1
	}
	if age >= window {
		return 0
	}
	return 1 - float64(age)/float64(window)
}

// rankCandidates scores every candidate for one user and returns them in
// descending score order. An empty preference map marks a cold-start user.
func rankCandidates(candidates []db.FeedCandidate, preferences map[string]float64, now time.Time, recencyWindow time.Duration, jitter func() float64) []scoredCandidate {
	coldStart := len(preferences) == 0

	qualityWeight := warmQualityWeight
	preferenceWeight := warmPreferenceWeight
	if coldStart {
		qualityWeight = coldQualityWeight
		preferenceWeight = 0
	}

	scored := make([]scoredCandidate, 0, len(candidates))
	for _, candidate := range candidates {
		preference := neutralPreference
		if weight, ok := preferences[candidate.Category]; ok {
			preference = weight
		}

		score := candidate.QualityScore*qualityWeight +
			normalizeEngagement(candidate.EngagementScore)*engagementWeight +
			preference*preferenceWeight +
			recencyFactor(now.Sub(candidate.CreatedAt), recencyWindow)*recencyWeight +
			jitter()*jitterWeight

		scored = append(scored, scoredCandidate{FeedCandidate: candidate, score: score})
	}

	sort.SliceStable(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	return scored
}

// applyDiversity admits candidates in score order while no source and no
// author exceeds the cap within the page. A page the cap cannot fill is
// backfilled with the remaining highest-scored items.
func applyDiversity(ranked []scoredCandidate, pageSize, cap int) []scoredCandidate {
	if pageSize <= 0 {
		return nil
	}
	if cap <= 0 {
		if len(ranked) > pageSize {
			ranked = ranked[:pageSize]
		}
		return ranked
	}

	page := make([]scoredCandidate, 0, pageSize)
	skipped := make([]scoredCandidate, 0, len(ranked))
	sourceSeen := map[int64]int{}
	authorSeen := map[string]int{}

	for _, candidate := range ranked {
		if len(page) == pageSize {
			break
		}
		author := ""
		if candidate.Author != nil {
			author = *candidate.Author
		}
		if sourceSeen[candidate.SourceID] >= cap || (author != "" && authorSeen[author] >= cap) {
			skipped = append(skipped, candidate)
			continue
		}
		sourceSeen[candidate.SourceID]++
		if author != "" {
			authorSeen[author]++
		}
		page = append(page, candidate)
	}

	for _, candidate := range skipped {
		if len(page) == pageSize {
			break
		}
		page = append(page, candidate)
	}
	return page
}
