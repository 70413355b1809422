// Package store persists mailings, receiver lists, address stats and
// subscription requests in Redis. Records are JSON values under
// prefixed keys; concurrent mutations go through a WATCH-based
// optimistic transaction (see optimistic.go) instead of locks.
package store

// KeyConfig holds the Redis key prefixes used by the repositories. The
// defaults match the original deployment's layout so existing data stays
// readable.
type KeyConfig struct {
	MailingDataPrefix   string
	MailingIDCounterKey string
	ReceiverListPrefix  string
	AddressStatsPrefix  string
	SubscriptionPrefix  string
}

// DefaultKeys returns the standard key layout.
func DefaultKeys() KeyConfig {
	return KeyConfig{
		MailingDataPrefix:   "MAILING_COMMON_DATA_",
		MailingIDCounterKey: "MAILING_ID_COUNTER",
		ReceiverListPrefix:  "MAILING_RECEIVER_LIST_",
		AddressStatsPrefix:  "ADDRESS_STATS_",
		SubscriptionPrefix:  "SUBSCRIPTION_REQUEST_",
	}
}
