package services

import (
	"context"
	"slices"
	"time"

	"gate-admission/internal/status"
	"gate-admission/models"
)

// QueueStore persists gate queue entries. Entries are never deleted, terminal
// entries stay for audit and metrics.
//
// Insert enforces the one active entry per (user, event) rule and token
// uniqueness. Patch is atomic per entry and honours the guards carried by the
// patch, so callers can use it as a compare-and-set.
type QueueStore interface {
	Insert(ctx context.Context, entry *models.GateQueueEntry) error
	Get(ctx context.Context, id string) (*models.GateQueueEntry, error)
	GetByToken(ctx context.Context, token string) (*models.GateQueueEntry, error)
	// GetActiveForUser returns nil and no error when the user has no active entry.
	GetActiveForUser(ctx context.Context, userID, eventID string) (*models.GateQueueEntry, error)
	// ListByStatus is unordered.
	ListByStatus(ctx context.Context, eventID, gateID string, st models.GateEntryStatus) ([]*models.GateQueueEntry, error)
	// ListActive returns every pending or current entry across all gates.
	ListActive(ctx context.Context) ([]*models.GateQueueEntry, error)
	Patch(ctx context.Context, id string, patch EntryPatch) (*models.GateQueueEntry, error)
}

// EntryPatch sets the mutable fields of an entry. Nil fields are left alone.
type EntryPatch struct {
	Status             *models.GateEntryStatus
	DeadlineAt         *time.Time
	VerifiedAt         *time.Time
	TokenRedeemed      *bool
	EstimatedWaitUnits *int

	// Guards. The patch fails with ErrConflict when the stored entry does
	// not satisfy them.
	IfStatus          []models.GateEntryStatus
	IfTokenUnredeemed bool
}

func (p EntryPatch) check(e *models.GateQueueEntry) error {
	if len(p.IfStatus) > 0 && !slices.Contains(p.IfStatus, e.Status) {
		return status.ErrConflict
	}
	if p.IfTokenUnredeemed && e.TokenRedeemed {
		return status.ErrConflict
	}
	if p.Status != nil && *p.Status != e.Status && !e.Status.CanTransitionTo(*p.Status) {
		return status.ErrInvalidTransition
	}
	return nil
}

func (p EntryPatch) apply(e *models.GateQueueEntry) {
	if p.Status != nil {
		e.Status = *p.Status
	}
	if p.DeadlineAt != nil {
		e.DeadlineAt = *p.DeadlineAt
	}
	if p.VerifiedAt != nil {
		verifiedAt := *p.VerifiedAt
		e.VerifiedAt = &verifiedAt
	}
	if p.TokenRedeemed != nil {
		e.TokenRedeemed = *p.TokenRedeemed
	}
	if p.EstimatedWaitUnits != nil {
		e.EstimatedWaitUnits = *p.EstimatedWaitUnits
	}
}

// fromStatuses lists the statuses an entry may be in for the patch's status
// change to be a legal transition. Nil means the patch does not change status.
func (p EntryPatch) fromStatuses() []models.GateEntryStatus {
	if p.Status == nil {
		return nil
	}
	from := []models.GateEntryStatus{*p.Status}
	for _, s := range []models.GateEntryStatus{models.GateEntryPending, models.GateEntryCurrent} {
		if s != *p.Status && s.CanTransitionTo(*p.Status) {
			from = append(from, s)
		}
	}
	return from
}

var activeStatuses = []models.GateEntryStatus{models.GateEntryPending, models.GateEntryCurrent}

func statusPtr(s models.GateEntryStatus) *models.GateEntryStatus { return &s }
func timePtr(t time.Time) *time.Time                             { return &t }
func boolPtr(b bool) *bool                                       { return &b }
func intPtr(i int) *int                                          { return &i }

func cloneEntry(e *models.GateQueueEntry) *models.GateQueueEntry {
	c := *e
	if e.VerifiedAt != nil {
		verifiedAt := *e.VerifiedAt
		c.VerifiedAt = &verifiedAt
	}
	return &c
}
