package logic

import "errors"

// ErrNilRedisStore is returned when a RedisStore pointer is nil or uninitialized.
var ErrNilRedisStore = errors.New("redis store is nil")

// Compliance failures reported by CheckCompliance.
var (
	ErrCreativeNotApproved = errors.New("creative not approved")
	ErrBlockedKeyword      = errors.New("blocked keyword")
	ErrCreativeTooLong     = errors.New("creative exceeds max ad duration")
)
