package models

import (
	"time"
)

type GateEntryStatus string

const (
	GateEntryPending  GateEntryStatus = "pending"
	GateEntryCurrent  GateEntryStatus = "current"
	GateEntryVerified GateEntryStatus = "verified"
	GateEntryExpired  GateEntryStatus = "expired"
	GateEntryReleased GateEntryStatus = "released"
)

// IsActive reports whether the entry still holds a place in its gate's queue.
func (s GateEntryStatus) IsActive() bool {
	return s == GateEntryPending || s == GateEntryCurrent
}

func (s GateEntryStatus) IsTerminal() bool {
	return s == GateEntryVerified || s == GateEntryExpired || s == GateEntryReleased
}

func (s GateEntryStatus) Valid() bool {
	return s.IsActive() || s.IsTerminal()
}

// CanTransitionTo enforces the entry state machine:
// pending -> current -> verified, and pending|current -> expired|released.
// pending -> verified is allowed as well, the token is the authority.
func (s GateEntryStatus) CanTransitionTo(next GateEntryStatus) bool {
	switch s {
	case GateEntryPending:
		return next == GateEntryCurrent || next == GateEntryVerified ||
			next == GateEntryExpired || next == GateEntryReleased
	case GateEntryCurrent:
		return next == GateEntryVerified || next == GateEntryExpired || next == GateEntryReleased
	}
	return false
}

// GateQueueEntry is one person's reservation at one gate of an event.
// VerifiedAt is set only once the entry is verified.
type GateQueueEntry struct {
	ID                 string          `json:"id"`
	EventID            string          `json:"event_id"`
	GateID             string          `json:"gate_id"`
	UserID             string          `json:"user_id"`
	Status             GateEntryStatus `json:"status"`
	Token              string          `json:"token"`
	TokenRedeemed      bool            `json:"token_redeemed"`
	JoinedAt           time.Time       `json:"joined_at"`
	DeadlineAt         time.Time       `json:"deadline_at"`
	VerifiedAt         *time.Time      `json:"verified_at,omitempty"`
	EstimatedWaitUnits int             `json:"estimated_wait_units"`
}

// Before orders entries by join time, then by id.
func (e *GateQueueEntry) Before(other *GateQueueEntry) bool {
	if !e.JoinedAt.Equal(other.JoinedAt) {
		return e.JoinedAt.Before(other.JoinedAt)
	}
	return e.ID < other.ID
}

// GateKey identifies a single gate queue.
type GateKey struct {
	EventID string
	GateID  string
}

func (k GateKey) String() string {
	return k.EventID + "/" + k.GateID
}

func (e *GateQueueEntry) GateKey() GateKey {
	return GateKey{EventID: e.EventID, GateID: e.GateID}
}

type JoinResult struct {
	EntryID  string          `json:"entry_id"`
	Status   GateEntryStatus `json:"status"`
	Token    string          `json:"token"`
	Position int             `json:"position"`
	Message  string          `json:"message"`
}

type VerifyResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	GateID  string `json:"gate_id,omitempty"`
}

type ReleaseResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// MyEntry is an active entry with its derived queue position.
type MyEntry struct {
	GateQueueEntry
	Position    int `json:"position"`
	PeopleAhead int `json:"people_ahead"`
}

type TrafficLevel string

const (
	TrafficEmpty    TrafficLevel = "empty"
	TrafficLow      TrafficLevel = "low"
	TrafficModerate TrafficLevel = "moderate"
	TrafficBusy     TrafficLevel = "busy"
)

type GateTraffic struct {
	PendingCount  int          `json:"pending"`
	CurrentCount  int          `json:"current"`
	VerifiedCount int          `json:"verified"`
	Level         TrafficLevel `json:"level"`
}

// TrafficLevelFor buckets the number of active entries at a gate.
func TrafficLevelFor(active int) TrafficLevel {
	switch {
	case active <= 0:
		return TrafficEmpty
	case active <= 3:
		return TrafficLow
	case active <= 7:
		return TrafficModerate
	default:
		return TrafficBusy
	}
}
