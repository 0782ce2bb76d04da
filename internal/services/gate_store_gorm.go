package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gate-admission/internal/status"
	"gate-admission/models"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// gateQueueEntryRecord is the postgres row for a GateQueueEntry. The partial
// unique index keeps one active entry per (user, event) even across nodes.
type gateQueueEntryRecord struct {
	ID                 string    `gorm:"primaryKey;size:64"`
	EventID            string    `gorm:"size:64;not null;index:idx_gate_queue_lookup,priority:1;uniqueIndex:idx_gate_queue_active_user,priority:1,where:status IN ('pending','current')"`
	GateID             string    `gorm:"size:128;not null;index:idx_gate_queue_lookup,priority:2"`
	UserID             string    `gorm:"size:64;not null;uniqueIndex:idx_gate_queue_active_user,priority:2"`
	Status             string    `gorm:"size:16;not null;index:idx_gate_queue_lookup,priority:3"`
	Token              string    `gorm:"size:64;not null;uniqueIndex"`
	TokenRedeemed      bool      `gorm:"not null"`
	JoinedAt           time.Time `gorm:"not null;index:idx_gate_queue_lookup,priority:4"`
	DeadlineAt         time.Time `gorm:"not null"`
	VerifiedAt         *time.Time
	EstimatedWaitUnits int `gorm:"not null"`
}

func (gateQueueEntryRecord) TableName() string { return "gate_queue_entries" }

func recordFromEntry(e *models.GateQueueEntry) *gateQueueEntryRecord {
	return &gateQueueEntryRecord{
		ID:                 e.ID,
		EventID:            e.EventID,
		GateID:             e.GateID,
		UserID:             e.UserID,
		Status:             string(e.Status),
		Token:              e.Token,
		TokenRedeemed:      e.TokenRedeemed,
		JoinedAt:           e.JoinedAt,
		DeadlineAt:         e.DeadlineAt,
		VerifiedAt:         e.VerifiedAt,
		EstimatedWaitUnits: e.EstimatedWaitUnits,
	}
}

func (r *gateQueueEntryRecord) toEntry() *models.GateQueueEntry {
	return &models.GateQueueEntry{
		ID:                 r.ID,
		EventID:            r.EventID,
		GateID:             r.GateID,
		UserID:             r.UserID,
		Status:             models.GateEntryStatus(r.Status),
		Token:              r.Token,
		TokenRedeemed:      r.TokenRedeemed,
		JoinedAt:           r.JoinedAt,
		DeadlineAt:         r.DeadlineAt,
		VerifiedAt:         r.VerifiedAt,
		EstimatedWaitUnits: r.EstimatedWaitUnits,
	}
}

// GormQueueStore keeps entries in postgres. Guarded patches become a single
// conditional UPDATE so concurrent writers on other nodes cannot both win.
type GormQueueStore struct {
	DB *gorm.DB
}

func NewGormQueueStore(db *gorm.DB) *GormQueueStore {
	return &GormQueueStore{DB: db}
}

// OpenPostgres connects to dsn with error translation on, so unique
// violations surface as gorm.ErrDuplicatedKey.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	return gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError:         true,
		SkipDefaultTransaction: true,
	})
}

func (s *GormQueueStore) AutoMigrate() error {
	return s.DB.AutoMigrate(&gateQueueEntryRecord{})
}

func (s *GormQueueStore) Insert(ctx context.Context, entry *models.GateQueueEntry) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.Status.IsActive() {
			var active int64
			err := tx.Model(&gateQueueEntryRecord{}).
				Where("user_id = ? AND event_id = ? AND status IN ?", entry.UserID, entry.EventID, activeStatuses).
				Count(&active).Error
			if err != nil {
				return fmt.Errorf("count active entries: %w", err)
			}
			if active > 0 {
				return status.ErrDuplicateActiveEntry
			}
		}

		err := tx.Create(recordFromEntry(entry)).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// Lost the race against a concurrent join on another node.
			return status.ErrDuplicateActiveEntry
		}
		if err != nil {
			return fmt.Errorf("insert entry %s: %w", entry.ID, err)
		}
		return nil
	})
}

func (s *GormQueueStore) Get(ctx context.Context, id string) (*models.GateQueueEntry, error) {
	return s.first(ctx, "id = ?", id)
}

func (s *GormQueueStore) GetByToken(ctx context.Context, token string) (*models.GateQueueEntry, error) {
	return s.first(ctx, "token = ?", token)
}

func (s *GormQueueStore) GetActiveForUser(ctx context.Context, userID, eventID string) (*models.GateQueueEntry, error) {
	entry, err := s.first(ctx, "user_id = ? AND event_id = ? AND status IN ?", userID, eventID, activeStatuses)
	if errors.Is(err, status.ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

func (s *GormQueueStore) ListByStatus(ctx context.Context, eventID, gateID string, st models.GateEntryStatus) ([]*models.GateQueueEntry, error) {
	var records []gateQueueEntryRecord
	err := s.DB.WithContext(ctx).
		Where("event_id = ? AND gate_id = ? AND status = ?", eventID, gateID, string(st)).
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list %s entries for %s/%s: %w", st, eventID, gateID, err)
	}
	return toEntries(records), nil
}

func (s *GormQueueStore) ListActive(ctx context.Context) ([]*models.GateQueueEntry, error) {
	var records []gateQueueEntryRecord
	err := s.DB.WithContext(ctx).Where("status IN ?", activeStatuses).Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("list active entries: %w", err)
	}
	return toEntries(records), nil
}

func (s *GormQueueStore) Patch(ctx context.Context, id string, patch EntryPatch) (*models.GateQueueEntry, error) {
	updates := map[string]any{}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.DeadlineAt != nil {
		updates["deadline_at"] = *patch.DeadlineAt
	}
	if patch.VerifiedAt != nil {
		updates["verified_at"] = *patch.VerifiedAt
	}
	if patch.TokenRedeemed != nil {
		updates["token_redeemed"] = *patch.TokenRedeemed
	}
	if patch.EstimatedWaitUnits != nil {
		updates["estimated_wait_units"] = *patch.EstimatedWaitUnits
	}
	if len(updates) == 0 {
		return s.Get(ctx, id)
	}

	query := s.DB.WithContext(ctx).Model(&gateQueueEntryRecord{}).Where("id = ?", id)
	if len(patch.IfStatus) > 0 {
		query = query.Where("status IN ?", patch.IfStatus)
	}
	if from := patch.fromStatuses(); from != nil {
		query = query.Where("status IN ?", from)
	}
	if patch.IfTokenUnredeemed {
		query = query.Where("token_redeemed = ?", false)
	}

	result := query.Updates(updates)
	if result.Error != nil {
		return nil, fmt.Errorf("patch entry %s: %w", id, result.Error)
	}

	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		// Work out which guard rejected the update.
		if err := patch.check(entry); err != nil {
			return nil, err
		}
		return nil, status.ErrConflict
	}
	return entry, nil
}

func (s *GormQueueStore) first(ctx context.Context, query string, args ...any) (*models.GateQueueEntry, error) {
	var record gateQueueEntryRecord
	err := s.DB.WithContext(ctx).Where(query, args...).First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, status.ErrNotFound
	} else if err != nil {
		return nil, err
	}
	return record.toEntry(), nil
}

func toEntries(records []gateQueueEntryRecord) []*models.GateQueueEntry {
	entries := make([]*models.GateQueueEntry, 0, len(records))
	for i := range records {
		entries = append(entries, records[i].toEntry())
	}
	return entries
}
