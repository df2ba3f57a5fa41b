package model

import "time"

// Trigger requests one reconciliation pass.
type Trigger struct {
	ID          string    // unique id, also used as the pass id in logs
	Reason      string    // "schedule", "api", "cli"
	RequestedAt time.Time // when the trigger was created
}
