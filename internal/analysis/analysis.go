// Package analysis rates complaints: how much a report costs the reported
// user and how hard a ban should hit given their history.
package analysis

import (
	"time"

	"anonchat/backend/internal/config"
)

// Weight returns the reputation penalty for a complaint severity. Unknown
// severities report ok == false.
func Weight(severity string) (weight int, ok bool) {
	weight, ok = config.ComplaintWeights[severity]
	return
}

// BanLevel escalates a new ban depending on how recent the previous one was.
// lastBan is a unix timestamp, 0 when the user was never banned.
func BanLevel(lastBan int64, now time.Time) int {
	if lastBan <= 0 {
		return 1
	}
	since := now.Sub(time.Unix(lastBan, 0))
	switch {
	case since < 7*24*time.Hour:
		return 3
	case since < 30*24*time.Hour:
		return 2
	default:
		return 1
	}
}

func BanDuration(level int) time.Duration {
	switch level {
	case 1:
		return config.BanLevel1Duration
	case 2:
		return config.BanLevel2Duration
	default:
		return config.BanLevel3Duration
	}
}

// ShouldBan applies the reputation and frequency thresholds.
func ShouldBan(reputation, recentReports int) bool {
	return reputation < config.BanThresholdReputation || recentReports > config.BanThresholdFrequency
}
