package engage

import (
	"math"
	"time"
)

// Counter weights for the derived engagement score.
const (
	upvoteWeight   = 1.0
	downvoteWeight = 0.5
	viewWeight     = 0.01
	saveWeight     = 2.0
	shareWeight    = 3.0
)

// trendingGravity dampens very young bytes so a single early vote does not
// dominate the trending feed.
const trendingGravity = 2.0

// EngagementScore folds a byte's raw counters into one comparable number.
// Downvotes subtract at half an upvote's weight.
func EngagementScore(upvotes, downvotes, views, saves, shares int) float64 {
	return float64(upvotes)*upvoteWeight -
		float64(downvotes)*downvoteWeight +
		float64(views)*viewWeight +
		float64(saves)*saveWeight +
		float64(shares)*shareWeight
}

// TrendingScore decays the engagement score by content age, Hacker News
// style: score / (hours + gravity)^1.5.
func TrendingScore(engagementScore float64, age time.Duration) float64 {
	hours := age.Hours()
	if hours < 0 {
		hours = 0
	}
	return engagementScore / math.Pow(hours+trendingGravity, 1.5)
}
