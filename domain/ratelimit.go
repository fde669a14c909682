package domain

import "time"

// RateLimitCounter is one sliding-window counter row, keyed by a string
// such as "login:email:bob@example.com". It is created on first hit,
// reset when the window has elapsed and incremented otherwise, all in one
// atomic upsert.
type RateLimitCounter struct {
	Key         string    `bson:"_id" json:"key"`
	WindowStart time.Time `bson:"window_start" json:"window_start"`
	Count       int64     `bson:"count" json:"count"`
}
