package plans

import (
	"errors"

	"github.com/JanKoller/TicketHive/app/models"
	"github.com/JanKoller/TicketHive/internal/pkg/apperrors"
	"gorm.io/gorm"
)

// Repository provides DB operations on the plan catalog.
type Repository interface {
	GetByID(id uint) (*models.Plan, error)
	GetBySlug(slug string) (*models.Plan, error)
	ListActive() ([]models.Plan, error)
	FreePlan() (*models.Plan, error)
	Save(plan *models.Plan) error
	Deactivate(id uint) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a plan repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetByID(id uint) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.First(&p, id).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormRepository) GetBySlug(slug string) (*models.Plan, error) {
	var p models.Plan
	if err := r.db.Where("slug = ?", slug).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormRepository) ListActive() ([]models.Plan, error) {
	var out []models.Plan
	err := r.db.Where("is_active = ?", true).Order("sort_rank ASC").Find(&out).Error
	return out, err
}

func (r *gormRepository) FreePlan() (*models.Plan, error) {
	var p models.Plan
	err := r.db.Where("is_active = ? AND price_cents = 0", true).
		Order("sort_rank ASC").First(&p).Error
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *gormRepository) Save(plan *models.Plan) error {
	return r.db.Save(plan).Error
}

func (r *gormRepository) Deactivate(id uint) error {
	res := r.db.Model(&models.Plan{}).Where("id = ?", id).Update("is_active", false)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperrors.ErrNotFound
	}
	return res.Error
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperrors.ErrNotFound
	}
	return err
}
