package usage

import (
	"errors"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations for the usage ledger and its
// materialized ticket-state projection.
type Repository interface {
	// AppendEvent inserts a ledger event and updates the projection in one
	// transaction. projectedState may be empty for events that do not move
	// the ticket (unknown actions).
	AppendEvent(event *models.UsageEvent, projectedState string) error
	CountStates(subscriptionID uint) (StateCounts, error)
	EventsBetween(subscriptionID uint, from, to time.Time) ([]models.UsageEvent, error)
	ListEvents(subscriptionID uint) ([]models.UsageEvent, error)
	UpsertSummary(summary *models.UsageSummary) error
	GetSummary(subscriptionID uint, period string) (*models.UsageSummary, error)
	SubscriptionIDsWithEvents() ([]uint, error)
	ReplaceProjection(subscriptionID uint, states []models.TicketState) error
}

// StateCounts are raw projection tallies per lifecycle state.
type StateCounts struct {
	Active    int
	Completed int
	Archived  int
	Deleted   int
}

// Total is the number of distinct tickets ever created minus permanently
// deleted ones.
func (c StateCounts) Total() int {
	return c.Active + c.Completed + c.Archived
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a usage repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) AppendEvent(event *models.UsageEvent, projectedState string) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		if projectedState == "" {
			return nil
		}
		state := &models.TicketState{
			SubscriptionID: event.SubscriptionID,
			TicketID:       event.TicketID,
			State:          projectedState,
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "subscription_id"},
				{Name: "ticket_id"},
			},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).Create(state).Error
	})
}

func (r *gormRepository) CountStates(subscriptionID uint) (StateCounts, error) {
	type row struct {
		State string
		N     int
	}
	var rows []row
	err := r.db.Model(&models.TicketState{}).
		Select("state, COUNT(*) AS n").
		Where("subscription_id = ?", subscriptionID).
		Group("state").
		Scan(&rows).Error
	if err != nil {
		return StateCounts{}, err
	}

	var out StateCounts
	for _, rw := range rows {
		switch rw.State {
		case models.TicketStateActive:
			out.Active = rw.N
		case models.TicketStateCompleted:
			out.Completed = rw.N
		case models.TicketStateArchived:
			out.Archived = rw.N
		case models.TicketStateDeleted:
			out.Deleted = rw.N
		}
	}
	return out, nil
}

func (r *gormRepository) EventsBetween(subscriptionID uint, from, to time.Time) ([]models.UsageEvent, error) {
	var out []models.UsageEvent
	err := r.db.Where("subscription_id = ? AND created_at >= ? AND created_at < ?", subscriptionID, from, to).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) ListEvents(subscriptionID uint) ([]models.UsageEvent, error) {
	var out []models.UsageEvent
	err := r.db.Where("subscription_id = ?", subscriptionID).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

func (r *gormRepository) UpsertSummary(summary *models.UsageSummary) error {
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "subscription_id"},
			{Name: "period"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"active_tickets",
			"completed_tickets",
			"archived_tickets",
			"total_tickets",
			"refreshed_at",
		}),
	}).Create(summary).Error
}

func (r *gormRepository) GetSummary(subscriptionID uint, period string) (*models.UsageSummary, error) {
	var s models.UsageSummary
	err := r.db.Where("subscription_id = ? AND period = ?", subscriptionID, period).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *gormRepository) SubscriptionIDsWithEvents() ([]uint, error) {
	var ids []uint
	err := r.db.Model(&models.UsageEvent{}).
		Distinct("subscription_id").
		Pluck("subscription_id", &ids).Error
	return ids, err
}

func (r *gormRepository) ReplaceProjection(subscriptionID uint, states []models.TicketState) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("subscription_id = ?", subscriptionID).
			Delete(&models.TicketState{}).Error; err != nil {
			return err
		}
		if len(states) == 0 {
			return nil
		}
		return tx.Create(&states).Error
	})
}
