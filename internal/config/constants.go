package config

import "time"

const (
	// Reputation
	InitialReputation       = 1000
	MaxReputation           = 1000
	MinReputation           = 0
	ConfirmedComplaintBonus = 50

	// Ban
	BanThresholdReputation = 500
	BanThresholdFrequency  = 5
	BanFrequencyWindow     = 24 * time.Hour
	BanLevel1Duration      = 30 * time.Minute
	BanLevel2Duration      = 6 * time.Hour
	BanLevel3Duration      = 24 * time.Hour

	// Dialog
	GoodChatMessages = 10

	// Matchmaking
	DefaultPollInterval = 3 * time.Second
	DefaultLeaseTTL     = 5 * time.Second

	// Persistence
	DefaultCheckInterval   = 30 * time.Second
	DefaultRemoteTimeout   = 3 * time.Second
	DefaultIndexRetryDelay = 10 * time.Second
)

var ComplaintWeights = map[string]int{
	"Low":      5,
	"Medium":   50,
	"Critical": 250,
}
