package subscriptions

import (
	"errors"
	"time"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"gorm.io/gorm"
)

// Repository provides DB operations on subscription records. It also
// implements lifecycle.Store so the state machine can drive status writes.
type Repository interface {
	GetSubscription(id uint) (*models.Subscription, error)
	GetActiveByUserID(userID uint) (*models.Subscription, error)
	GetByProcessorSubscriptionID(externalID string) (*models.Subscription, error)
	ListNonCancelled() ([]models.Subscription, error)
	ExpiredTrials(now time.Time, limit int) ([]models.Subscription, error)
	Create(sub *models.Subscription) error
	CreateWithTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error
	Save(sub *models.Subscription) error
	ApplyTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error
	AppendTransition(tr *models.SubscriptionTransition) error
	ListTransitions(subscriptionID uint) ([]models.SubscriptionTransition, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a subscription repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscription(id uint) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.First(&sub, id).Error; err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) GetActiveByUserID(userID uint) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("user_id = ? AND status <> ?", userID, models.SubscriptionStatusCancelled).
		Order("id DESC").
		First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) GetByProcessorSubscriptionID(externalID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.Where("processor_subscription_id = ?", externalID).First(&sub).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sub, nil
}

func (r *gormRepository) ListNonCancelled() ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.db.Where("status <> ?", models.SubscriptionStatusCancelled).Find(&out).Error
	return out, err
}

func (r *gormRepository) ExpiredTrials(now time.Time, limit int) ([]models.Subscription, error) {
	var out []models.Subscription
	err := r.db.
		Where("status = ? AND trial_end IS NOT NULL AND trial_end < ?", models.SubscriptionStatusTrial, now).
		Order("trial_end ASC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

func (r *gormRepository) Create(sub *models.Subscription) error {
	return r.db.Create(sub).Error
}

// CreateWithTransition provisions a subscription and its signup audit row
// in one transaction so a failure leaves no orphaned record behind.
func (r *gormRepository) CreateWithTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(sub).Error; err != nil {
			return err
		}
		tr.SubscriptionID = sub.ID
		return tx.Create(tr).Error
	})
}

func (r *gormRepository) Save(sub *models.Subscription) error {
	return r.db.Save(sub).Error
}

// ApplyTransition persists the mutated subscription and its audit row in a
// single transaction so no partial status write is observable.
func (r *gormRepository) ApplyTransition(sub *models.Subscription, tr *models.SubscriptionTransition) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(sub).Error; err != nil {
			return err
		}
		return tx.Create(tr).Error
	})
}

func (r *gormRepository) AppendTransition(tr *models.SubscriptionTransition) error {
	return r.db.Create(tr).Error
}

func (r *gormRepository) ListTransitions(subscriptionID uint) ([]models.SubscriptionTransition, error) {
	var out []models.SubscriptionTransition
	err := r.db.Where("subscription_id = ?", subscriptionID).Order("id ASC").Find(&out).Error
	return out, err
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return err
}
