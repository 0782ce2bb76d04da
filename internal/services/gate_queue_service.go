package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gate-admission/config"
	"gate-admission/internal/status"
	"gate-admission/models"
	"gate-admission/utils"

	"github.com/google/uuid"
)

// QueuePolicy holds the timing rules of a gate queue.
type QueuePolicy struct {
	PendingTimeout  time.Duration
	CurrentTimeout  time.Duration
	WaitUnitMinutes int
}

func PolicyFromConfig(cfg *config.Config) QueuePolicy {
	return QueuePolicy{
		PendingTimeout:  cfg.PendingTimeout,
		CurrentTimeout:  cfg.CurrentTimeout,
		WaitUnitMinutes: cfg.WaitUnitMinutes,
	}
}

func (p QueuePolicy) Validate() error {
	if p.PendingTimeout <= 0 || p.CurrentTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", status.ErrInvalidPolicy)
	}
	if p.CurrentTimeout >= p.PendingTimeout {
		return fmt.Errorf("%w: current timeout %s must be shorter than pending timeout %s",
			status.ErrInvalidPolicy, p.CurrentTimeout, p.PendingTimeout)
	}
	if p.WaitUnitMinutes < 0 {
		return fmt.Errorf("%w: wait unit must not be negative", status.ErrInvalidPolicy)
	}
	return nil
}

// QueueObserver receives operational measurements, monitoring.Monitor
// implements it with Prometheus collectors.
type QueueObserver interface {
	ObserveOperation(operation, outcome string)
	ObserveTraffic(eventID, gateID string, traffic models.GateTraffic)
	ObserveAdmission(eventID, gateID string, waited time.Duration)
}

type noopObserver struct{}

func (noopObserver) ObserveOperation(string, string)                   {}
func (noopObserver) ObserveTraffic(string, string, models.GateTraffic) {}
func (noopObserver) ObserveAdmission(string, string, time.Duration)    {}

type GateQueueOption func(*GateQueueService)

func WithClock(clock utils.Clock) GateQueueOption {
	return func(s *GateQueueService) { s.clock = clock }
}

func WithScheduler(scheduler Scheduler) GateQueueOption {
	return func(s *GateQueueService) { s.scheduler = scheduler }
}

func WithNotifier(notifier Notifier) GateQueueOption {
	return func(s *GateQueueService) { s.notifier = notifier }
}

func WithMetricsRecorder(recorder MetricsRecorder) GateQueueOption {
	return func(s *GateQueueService) { s.metrics = recorder }
}

func WithObserver(observer QueueObserver) GateQueueOption {
	return func(s *GateQueueService) { s.observer = observer }
}

func WithTokenGenerator(newToken func() (string, error)) GateQueueOption {
	return func(s *GateQueueService) { s.newToken = newToken }
}

func WithIDGenerator(newID func() string) GateQueueOption {
	return func(s *GateQueueService) { s.newID = newID }
}

// GateQueueService admits people through the gates of an event one at a
// time. Every change to a gate's queue happens under that gate's lock;
// notifications and metrics are sent after the lock is released.
type GateQueueService struct {
	store     QueueStore
	events    EventDirectory
	policy    QueuePolicy
	clock     utils.Clock
	scheduler Scheduler
	notifier  Notifier
	metrics   MetricsRecorder
	observer  QueueObserver
	newToken  func() (string, error)
	newID     func() string

	locks gateLocks
}

func NewGateQueueService(store QueueStore, events EventDirectory, policy QueuePolicy, opts ...GateQueueOption) (*GateQueueService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	s := &GateQueueService{
		store:    store,
		events:   events,
		policy:   policy,
		clock:    utils.RealClock{},
		notifier: NoopNotifier{},
		observer: noopObserver{},
		newToken: utils.GenerateGateToken,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.scheduler == nil {
		s.scheduler = NewDeadlineScheduler(s.clock)
	}
	return s, nil
}

type gateLocks struct {
	mu    sync.Mutex
	gates map[models.GateKey]*sync.Mutex
}

func (l *gateLocks) lock(key models.GateKey) (unlock func()) {
	l.mu.Lock()
	if l.gates == nil {
		l.gates = make(map[models.GateKey]*sync.Mutex)
	}
	m, ok := l.gates[key]
	if !ok {
		m = &sync.Mutex{}
		l.gates[key] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// outbox collects side effects produced under a gate lock.
type outbox struct {
	notifications []GateNotification
	verifications []models.VerificationRecord
}

func (o *outbox) notify(entry *models.GateQueueEntry, kind string, position int, message string) {
	o.notifications = append(o.notifications, GateNotification{
		Type:               kind,
		UserID:             entry.UserID,
		EventID:            entry.EventID,
		GateID:             entry.GateID,
		EntryID:            entry.ID,
		Status:             entry.Status,
		Position:           position,
		EstimatedWaitUnits: entry.EstimatedWaitUnits,
		Message:            message,
	})
}

func (s *GateQueueService) dispatch(ctx context.Context, out *outbox) {
	for _, record := range out.verifications {
		if s.metrics == nil {
			break
		}
		if err := s.metrics.RecordVerification(ctx, record); err != nil {
			slog.Error("failed to record verification", "entry_id", record.EntryID, "event_id", record.EventID, "error", err)
		}
	}
	for _, notification := range out.notifications {
		if err := s.notifier.Notify(ctx, notification); err != nil {
			slog.Warn("failed to publish gate notification", "type", notification.Type, "user_id", notification.UserID, "error", err)
		}
	}
}

func (s *GateQueueService) ListGates(ctx context.Context, eventID string) ([]string, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return event.Gates, nil
}

// Join puts userID in the queue of gateID. An empty gate makes the new entry
// current straight away.
func (s *GateQueueService) Join(ctx context.Context, eventID, gateID, userID string) (result *models.JoinResult, err error) {
	defer func() { s.observer.ObserveOperation("join", status.Code(err)) }()

	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if !event.HasGate(gateID) {
		return nil, status.ErrInvalidGate
	}

	key := models.GateKey{EventID: eventID, GateID: gateID}
	var out outbox
	unlock := s.locks.lock(key)
	result, err = s.joinLocked(ctx, key, userID, &out)
	unlock()

	s.dispatch(ctx, &out)
	return result, err
}

func (s *GateQueueService) joinLocked(ctx context.Context, key models.GateKey, userID string, out *outbox) (*models.JoinResult, error) {
	existing, err := s.store.GetActiveForUser(ctx, userID, key.EventID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, status.ErrAlreadyQueued
	}

	active, err := s.activeEntries(ctx, key)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entry := &models.GateQueueEntry{
		ID:       s.newID(),
		EventID:  key.EventID,
		GateID:   key.GateID,
		UserID:   userID,
		JoinedAt: now,
	}
	if len(active) == 0 {
		entry.Status = models.GateEntryCurrent
		entry.DeadlineAt = now.Add(s.policy.CurrentTimeout)
	} else {
		entry.Status = models.GateEntryPending
		entry.DeadlineAt = now.Add(s.policy.PendingTimeout)
		entry.EstimatedWaitUnits = EstimatedWait(len(active), s.policy.WaitUnitMinutes)
	}

	if err := s.insertWithFreshToken(ctx, entry); err != nil {
		if errors.Is(err, status.ErrDuplicateActiveEntry) {
			return nil, status.ErrAlreadyQueued
		}
		return nil, err
	}
	s.scheduler.Arm(entry.ID, entry.DeadlineAt)

	slog.Info("joined gate queue",
		"entry_id", entry.ID, "event_id", key.EventID, "gate_id", key.GateID,
		"user_id", userID, "status", entry.Status)

	if entry.Status == models.GateEntryPending {
		if err := s.recomputeLocked(ctx, key, out); err != nil {
			slog.Warn("failed to recompute wait estimates", "gate", key.String(), "error", err)
		}
	}

	position := len(active) + 1
	return &models.JoinResult{
		EntryID:  entry.ID,
		Status:   entry.Status,
		Token:    entry.Token,
		Position: position,
		Message:  s.joinMessage(entry, position),
	}, nil
}

func (s *GateQueueService) insertWithFreshToken(ctx context.Context, entry *models.GateQueueEntry) error {
	const attempts = 3
	for i := 0; i < attempts; i++ {
		token, err := s.newToken()
		if err != nil {
			return fmt.Errorf("mint token: %w", err)
		}
		entry.Token = token

		err = s.store.Insert(ctx, entry)
		if !errors.Is(err, status.ErrDuplicateToken) {
			return err
		}
	}
	return fmt.Errorf("mint token after %d attempts: %w", attempts, status.ErrDuplicateToken)
}

func (s *GateQueueService) joinMessage(entry *models.GateQueueEntry, position int) string {
	if entry.Status == models.GateEntryCurrent {
		return fmt.Sprintf("You're up! Present your token for verification within %s.", formatMinutes(s.policy.CurrentTimeout))
	}
	ahead := position - 1
	noun := "people"
	if ahead == 1 {
		noun = "person"
	}
	return fmt.Sprintf("Joined %s queue. %d %s ahead of you.", entry.GateID, ahead, noun)
}

func formatMinutes(d time.Duration) string {
	minutes := int(d.Round(time.Minute) / time.Minute)
	switch {
	case minutes < 1:
		return fmt.Sprintf("%d seconds", int(d/time.Second))
	case minutes == 1:
		return "1 minute"
	}
	return fmt.Sprintf("%d minutes", minutes)
}

// verifyPrecondition reports why a token can no longer verify its entry.
// The checks run in a fixed order, the first failing one wins.
func verifyPrecondition(entry *models.GateQueueEntry) error {
	switch {
	case entry.TokenRedeemed:
		return status.ErrAlreadyUsed
	case entry.Status == models.GateEntryExpired:
		return status.ErrEntryExpired
	case entry.Status == models.GateEntryReleased:
		return status.ErrEntryReleased
	case entry.Status == models.GateEntryVerified:
		return status.ErrAlreadyVerified
	}
	return nil
}

// Verify redeems token. Pending entries may be verified out of turn, the
// token alone is the authority at the gate.
func (s *GateQueueService) Verify(ctx context.Context, token string) (result *models.VerifyResult, err error) {
	defer func() { s.observer.ObserveOperation("verify", status.Code(err)) }()

	entry, err := s.store.GetByToken(ctx, token)
	if errors.Is(err, status.ErrNotFound) {
		return nil, status.ErrInvalidToken
	} else if err != nil {
		return nil, err
	}
	if err := verifyPrecondition(entry); err != nil {
		return nil, err
	}

	key := entry.GateKey()
	var out outbox
	unlock := s.locks.lock(key)
	verified, err := s.verifyLocked(ctx, entry, &out)
	unlock()

	s.dispatch(ctx, &out)
	if err != nil {
		return nil, err
	}
	return &models.VerifyResult{
		Success: true,
		Message: fmt.Sprintf("Verified. Welcome through %s.", verified.GateID),
		GateID:  verified.GateID,
	}, nil
}

func (s *GateQueueService) verifyLocked(ctx context.Context, entry *models.GateQueueEntry, out *outbox) (*models.GateQueueEntry, error) {
	now := s.clock.Now()
	verified, err := s.store.Patch(ctx, entry.ID, EntryPatch{
		Status:            statusPtr(models.GateEntryVerified),
		TokenRedeemed:     boolPtr(true),
		VerifiedAt:        timePtr(now),
		IfStatus:          activeStatuses,
		IfTokenUnredeemed: true,
	})
	if errors.Is(err, status.ErrConflict) || errors.Is(err, status.ErrInvalidTransition) {
		// Someone else resolved the entry first, report what they did.
		latest, getErr := s.store.Get(ctx, entry.ID)
		if getErr != nil {
			return nil, getErr
		}
		if preErr := verifyPrecondition(latest); preErr != nil {
			return nil, preErr
		}
		return nil, status.ErrInvalidState
	}
	if err != nil {
		return nil, err
	}

	slog.Info("gate token verified",
		"entry_id", verified.ID, "event_id", verified.EventID, "gate_id", verified.GateID,
		"user_id", verified.UserID)

	out.verifications = append(out.verifications, models.VerificationRecord{
		EntryID:    verified.ID,
		EventID:    verified.EventID,
		GateID:     verified.GateID,
		UserID:     verified.UserID,
		VerifiedAt: now,
	})
	out.notify(verified, NotificationStatus, 0, "Verified. Welcome!")
	s.observer.ObserveAdmission(verified.EventID, verified.GateID, now.Sub(verified.JoinedAt))

	s.advanceLocked(ctx, verified.GateKey(), out)
	return verified, nil
}

// Release lets the owner of an active entry leave the queue.
func (s *GateQueueService) Release(ctx context.Context, entryID, requesterID string) (result *models.ReleaseResult, err error) {
	defer func() { s.observer.ObserveOperation("release", status.Code(err)) }()

	entry, err := s.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != requesterID {
		return nil, status.ErrNotEntryOwner
	}
	if !entry.Status.IsActive() {
		return nil, status.ErrInvalidState
	}

	key := entry.GateKey()
	var out outbox
	unlock := s.locks.lock(key)
	err = s.releaseLocked(ctx, entry, &out)
	unlock()

	s.dispatch(ctx, &out)
	if err != nil {
		return nil, err
	}
	return &models.ReleaseResult{Success: true, Message: "You have left the queue"}, nil
}

func (s *GateQueueService) releaseLocked(ctx context.Context, entry *models.GateQueueEntry, out *outbox) error {
	released, err := s.store.Patch(ctx, entry.ID, EntryPatch{
		Status:   statusPtr(models.GateEntryReleased),
		IfStatus: activeStatuses,
	})
	if errors.Is(err, status.ErrConflict) || errors.Is(err, status.ErrInvalidTransition) {
		return status.ErrInvalidState
	}
	if err != nil {
		return err
	}

	slog.Info("gate queue entry released",
		"entry_id", released.ID, "event_id", released.EventID, "gate_id", released.GateID,
		"user_id", released.UserID)

	s.advanceLocked(ctx, released.GateKey(), out)
	return nil
}

// ExpireEntry expires an entry whose deadline has passed. It is a no-op for
// entries that were resolved in the meantime or whose deadline was pushed
// back by a promotion.
func (s *GateQueueService) ExpireEntry(ctx context.Context, entryID string) error {
	_, err := s.expire(ctx, entryID)
	return err
}

func (s *GateQueueService) expire(ctx context.Context, entryID string) (expired bool, err error) {
	defer func() {
		outcome := status.Code(err)
		if err == nil && !expired {
			outcome = "noop"
		}
		s.observer.ObserveOperation("expire", outcome)
	}()

	entry, err := s.store.Get(ctx, entryID)
	if err != nil {
		return false, err
	}
	if !entry.Status.IsActive() {
		return false, nil
	}

	key := entry.GateKey()
	var out outbox
	unlock := s.locks.lock(key)
	expired, err = s.expireLocked(ctx, entryID, &out)
	unlock()

	s.dispatch(ctx, &out)
	return expired, err
}

func (s *GateQueueService) expireLocked(ctx context.Context, entryID string, out *outbox) (bool, error) {
	entry, err := s.store.Get(ctx, entryID)
	if err != nil {
		return false, err
	}
	if !entry.Status.IsActive() || s.clock.Now().Before(entry.DeadlineAt) {
		return false, nil
	}

	expired, err := s.store.Patch(ctx, entryID, EntryPatch{
		Status:   statusPtr(models.GateEntryExpired),
		IfStatus: []models.GateEntryStatus{entry.Status},
	})
	if errors.Is(err, status.ErrConflict) || errors.Is(err, status.ErrInvalidTransition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	slog.Info("gate queue entry expired",
		"entry_id", expired.ID, "event_id", expired.EventID, "gate_id", expired.GateID,
		"user_id", expired.UserID, "was", entry.Status)

	out.notify(expired, NotificationStatus, 0, "Your queue entry has expired. Please rejoin the queue.")
	s.advanceLocked(ctx, expired.GateKey(), out)
	return true, nil
}

// advanceLocked runs after an entry leaves the active set: fill the current
// slot if it is free, then refresh the wait estimates. Failures are logged,
// the reconciler repairs gates left without a current entry.
func (s *GateQueueService) advanceLocked(ctx context.Context, key models.GateKey, out *outbox) {
	if _, err := s.promoteNextLocked(ctx, key, out); err != nil {
		slog.Error("failed to promote next entry", "gate", key.String(), "error", err)
	}
	if err := s.recomputeLocked(ctx, key, out); err != nil {
		slog.Warn("failed to recompute wait estimates", "gate", key.String(), "error", err)
	}
}

// PromoteNext makes the earliest pending entry of the gate current, unless
// the gate already has a current entry. It returns the promoted entry, or
// nil when nothing changed.
func (s *GateQueueService) PromoteNext(ctx context.Context, eventID, gateID string) (*models.GateQueueEntry, error) {
	key := models.GateKey{EventID: eventID, GateID: gateID}
	var out outbox
	unlock := s.locks.lock(key)
	promoted, err := s.promoteNextLocked(ctx, key, &out)
	if err == nil && promoted != nil {
		err = s.recomputeLocked(ctx, key, &out)
	}
	unlock()

	s.dispatch(ctx, &out)
	return promoted, err
}

func (s *GateQueueService) promoteNextLocked(ctx context.Context, key models.GateKey, out *outbox) (*models.GateQueueEntry, error) {
	current, err := s.store.ListByStatus(ctx, key.EventID, key.GateID, models.GateEntryCurrent)
	if err != nil {
		return nil, err
	}
	if len(current) > 0 {
		return nil, nil
	}

	pending, err := s.store.ListByStatus(ctx, key.EventID, key.GateID, models.GateEntryPending)
	if err != nil {
		return nil, err
	}
	SortByJoinOrder(pending)

	now := s.clock.Now()
	for _, candidate := range pending {
		promoted, err := s.store.Patch(ctx, candidate.ID, EntryPatch{
			Status:             statusPtr(models.GateEntryCurrent),
			DeadlineAt:         timePtr(now.Add(s.policy.CurrentTimeout)),
			EstimatedWaitUnits: intPtr(0),
			IfStatus:           []models.GateEntryStatus{models.GateEntryPending},
		})
		if errors.Is(err, status.ErrConflict) {
			// Resolved on another node since the listing, try the next one.
			continue
		}
		if err != nil {
			return nil, err
		}

		s.scheduler.Arm(promoted.ID, promoted.DeadlineAt)
		slog.Info("promoted gate queue entry",
			"entry_id", promoted.ID, "event_id", key.EventID, "gate_id", key.GateID,
			"user_id", promoted.UserID, "deadline_at", promoted.DeadlineAt)

		out.notify(promoted, NotificationStatus, 1,
			fmt.Sprintf("You're up! Present your token for verification within %s.", formatMinutes(s.policy.CurrentTimeout)))
		return promoted, nil
	}
	return nil, nil
}

// Recompute rewrites the wait estimate of every pending entry of the gate.
func (s *GateQueueService) Recompute(ctx context.Context, eventID, gateID string) error {
	key := models.GateKey{EventID: eventID, GateID: gateID}
	var out outbox
	unlock := s.locks.lock(key)
	err := s.recomputeLocked(ctx, key, &out)
	unlock()

	s.dispatch(ctx, &out)
	return err
}

func (s *GateQueueService) recomputeLocked(ctx context.Context, key models.GateKey, out *outbox) error {
	pending, err := s.store.ListByStatus(ctx, key.EventID, key.GateID, models.GateEntryPending)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	current, err := s.store.ListByStatus(ctx, key.EventID, key.GateID, models.GateEntryCurrent)
	if err != nil {
		return err
	}

	ranks := RankPending(pending, s.policy.WaitUnitMinutes)
	SortByJoinOrder(pending)
	for i, entry := range pending {
		want := ranks[entry.ID]
		if entry.EstimatedWaitUnits == want {
			continue
		}

		updated, err := s.store.Patch(ctx, entry.ID, EntryPatch{
			EstimatedWaitUnits: intPtr(want),
			IfStatus:           []models.GateEntryStatus{models.GateEntryPending},
		})
		if errors.Is(err, status.ErrConflict) {
			continue
		}
		if err != nil {
			return err
		}
		out.notify(updated, NotificationPosition, len(current)+i+1, "")
	}
	return nil
}

// GetMyEntry returns the user's active entry for the event with its queue
// position, or nil when the user is not queued.
func (s *GateQueueService) GetMyEntry(ctx context.Context, eventID, userID string) (*models.MyEntry, error) {
	if _, err := s.events.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}

	entry, err := s.store.GetActiveForUser(ctx, userID, eventID)
	if err != nil || entry == nil {
		return nil, err
	}

	active, err := s.activeEntries(ctx, entry.GateKey())
	if err != nil {
		return nil, err
	}
	ahead := PeopleAhead(entry, active)
	return &models.MyEntry{
		GateQueueEntry: *entry,
		Position:       ahead + 1,
		PeopleAhead:    ahead,
	}, nil
}

// GetEntry returns one of requesterID's own entries, in any status.
func (s *GateQueueService) GetEntry(ctx context.Context, entryID, requesterID string) (*models.GateQueueEntry, error) {
	entry, err := s.store.Get(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.UserID != requesterID {
		return nil, status.ErrNotEntryOwner
	}
	return entry, nil
}

// GetGateTraffic counts entries per status for every gate of the event.
func (s *GateQueueService) GetGateTraffic(ctx context.Context, eventID string) (map[string]models.GateTraffic, error) {
	event, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}

	traffic := make(map[string]models.GateTraffic, len(event.Gates))
	for _, gateID := range event.Gates {
		var counts [3]int
		for i, st := range []models.GateEntryStatus{models.GateEntryPending, models.GateEntryCurrent, models.GateEntryVerified} {
			entries, err := s.store.ListByStatus(ctx, eventID, gateID, st)
			if err != nil {
				return nil, err
			}
			counts[i] = len(entries)
		}

		gate := models.GateTraffic{
			PendingCount:  counts[0],
			CurrentCount:  counts[1],
			VerifiedCount: counts[2],
			Level:         models.TrafficLevelFor(counts[0] + counts[1]),
		}
		traffic[gateID] = gate
		s.observer.ObserveTraffic(eventID, gateID, gate)
	}
	return traffic, nil
}

func (s *GateQueueService) activeEntries(ctx context.Context, key models.GateKey) ([]*models.GateQueueEntry, error) {
	var active []*models.GateQueueEntry
	for _, st := range activeStatuses {
		entries, err := s.store.ListByStatus(ctx, key.EventID, key.GateID, st)
		if err != nil {
			return nil, err
		}
		active = append(active, entries...)
	}
	return active, nil
}

// Restore re-arms the deadline of every active entry after a restart and
// fills gates whose current slot was left empty.
func (s *GateQueueService) Restore(ctx context.Context) (int, error) {
	active, err := s.store.ListActive(ctx)
	if err != nil {
		return 0, err
	}

	gates := make(map[models.GateKey]struct{})
	for _, entry := range active {
		s.scheduler.Arm(entry.ID, entry.DeadlineAt)
		gates[entry.GateKey()] = struct{}{}
	}
	for key := range gates {
		if _, err := s.PromoteNext(ctx, key.EventID, key.GateID); err != nil {
			slog.Warn("failed to promote while restoring", "gate", key.String(), "error", err)
		}
	}

	slog.Info("restored gate queue deadlines", "entries", len(active), "gates", len(gates))
	return len(active), nil
}

// ReconcileResult reports what a reconcile pass changed.
type ReconcileResult struct {
	Expired  int
	Promoted int
}

// Reconcile expires active entries whose deadline has passed and promotes
// into gates that have pending entries but no current one. It backs up the
// in-process scheduler, which loses its timers when the process dies.
func (s *GateQueueService) Reconcile(ctx context.Context) (ReconcileResult, error) {
	var result ReconcileResult

	active, err := s.store.ListActive(ctx)
	if err != nil {
		return result, err
	}

	now := s.clock.Now()
	gates := make(map[models.GateKey]struct{})
	events := make(map[string]struct{})
	for _, entry := range active {
		gates[entry.GateKey()] = struct{}{}
		events[entry.EventID] = struct{}{}
		if now.Before(entry.DeadlineAt) {
			continue
		}
		expired, err := s.expire(ctx, entry.ID)
		if err != nil {
			slog.Warn("failed to expire overdue entry", "entry_id", entry.ID, "error", err)
			continue
		}
		if expired {
			result.Expired++
		}
	}

	for key := range gates {
		promoted, err := s.PromoteNext(ctx, key.EventID, key.GateID)
		if err != nil {
			slog.Warn("failed to promote during reconcile", "gate", key.String(), "error", err)
			continue
		}
		if promoted != nil {
			result.Promoted++
		}
	}

	for eventID := range events {
		if _, err := s.GetGateTraffic(ctx, eventID); err != nil {
			slog.Warn("failed to refresh gate traffic", "event_id", eventID, "error", err)
		}
	}
	return result, nil
}

// RunScheduler fires expirations until ctx is done.
func (s *GateQueueService) RunScheduler(ctx context.Context) {
	s.scheduler.Run(ctx, s.fireDeadline)
}

// ExpireDue fires every deadline that has passed and returns how many fired.
func (s *GateQueueService) ExpireDue(ctx context.Context) int {
	return s.scheduler.RunDue(ctx, s.fireDeadline)
}

func (s *GateQueueService) fireDeadline(ctx context.Context, entryID string) {
	if err := s.ExpireEntry(ctx, entryID); err != nil {
		slog.Error("failed to expire gate queue entry", "entry_id", entryID, "error", err)
	}
}
