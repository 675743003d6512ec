// Package farm defines the farm aggregate consumed by the settlement layer.
package farm

import "time"

// Farm is the funded entity. UsedAmount accumulates the fiat value of every
// confirmed release; the store must apply increments atomically.
type Farm struct {
	ID            string
	OwnerMemberID string
	Name          string
	UsedAmount    int64
	TrustScore    float64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
