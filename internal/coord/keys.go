package coord

import (
	"strings"
	"time"
)

const (
	HeartbeatPrefix  = "worker_heartbeat:"
	AssignmentPrefix = "user_assignment:"
	LockPrefix       = "lock:"
	UsagePrefix      = "api_usage:"
	PricePrefix      = "price:"
	StrategyPrefix   = "strategy:"
)

const (
	DefaultHeartbeatTTL  = 60 * time.Second
	DefaultAssignmentTTL = 24 * time.Hour
	DefaultLockTTL       = 10 * time.Second
	DefaultPriceTTL      = 60 * time.Second
	DefaultStrategyTTL   = 30 * time.Second
)

func HeartbeatKey(workerID string) string { return HeartbeatPrefix + workerID }

func AssignmentKey(userID string) string { return AssignmentPrefix + userID }

func LockKey(name string) string { return LockPrefix + name }

// UsageKey buckets a credential's counter by UTC calendar day.
func UsageKey(credentialID string, day time.Time) string {
	return UsagePrefix + credentialID + ":" + day.UTC().Format("2006-01-02")
}

func PriceKey(token string) string { return PricePrefix + token }

func StrategyKey(name, key string) string { return StrategyPrefix + name + ":" + key }

// WorkerIDFromHeartbeatKey returns "" when key is not a heartbeat key.
func WorkerIDFromHeartbeatKey(key string) string {
	if !strings.HasPrefix(key, HeartbeatPrefix) {
		return ""
	}
	return strings.TrimPrefix(key, HeartbeatPrefix)
}

// UntilEndOfUTCDay is the ttl that expires a daily counter at the next UTC midnight.
func UntilEndOfUTCDay(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
