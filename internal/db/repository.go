package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/stakecast/stakecast/internal/models"
)

// Repository provides database access methods
type Repository struct {
	db *gorm.DB
}

// NewRepository creates a new repository
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// CastRepository provides cast-related database operations
type CastRepository struct {
	*Repository
}

// NewCastRepository creates a new cast repository
func NewCastRepository(repo *Repository) *CastRepository {
	return &CastRepository{Repository: repo}
}

// GetByHash retrieves a cast by its normalized content hash
func (r *CastRepository) GetByHash(ctx context.Context, hash string) (*models.Cast, error) {
	var cast models.Cast
	if err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&cast).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &cast, nil
}

// GetByHashes retrieves multiple casts by hash
func (r *CastRepository) GetByHashes(ctx context.Context, hashes []string) ([]*models.Cast, error) {
	var casts []*models.Cast
	if len(hashes) == 0 {
		return casts, nil
	}
	if err := r.db.WithContext(ctx).Where("hash IN ?", hashes).Find(&casts).Error; err != nil {
		return nil, err
	}
	return casts, nil
}

// ListAll retrieves every cast entry
func (r *CastRepository) ListAll(ctx context.Context) ([]*models.Cast, error) {
	var casts []*models.Cast
	if err := r.db.WithContext(ctx).Find(&casts).Error; err != nil {
		return nil, err
	}
	return casts, nil
}

// ListActiveByRank retrieves ACTIVE casts ordered by rank ascending
func (r *CastRepository) ListActiveByRank(ctx context.Context, limit int) ([]*models.Cast, error) {
	var casts []*models.Cast
	q := r.db.WithContext(ctx).
		Where("status = ?", models.StatusActive).
		Order("rank ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&casts).Error; err != nil {
		return nil, err
	}
	return casts, nil
}

// Upsert creates or updates a cast entry. Display fields never regress
// from a non-empty stored value to an empty incoming one; stake slices
// and derived fields always take the incoming value.
func (r *CastRepository) Upsert(ctx context.Context, cast *models.Cast) error {
	existing, err := r.GetByHash(ctx, cast.Hash)
	if err != nil {
		return err
	}
	if existing == nil {
		return r.db.WithContext(ctx).Create(cast).Error
	}

	mergeDisplayFields(cast, existing)
	cast.CreatedAt = existing.CreatedAt
	return r.db.WithContext(ctx).Save(cast).Error
}

// mergeDisplayFields keeps stored non-empty denormalized values when
// the incoming entry would blank them
func mergeDisplayFields(incoming, existing *models.Cast) {
	if incoming.Username == "" && existing.Username != "" {
		incoming.Username = existing.Username
	}
	if incoming.DisplayName == "" && existing.DisplayName != "" {
		incoming.DisplayName = existing.DisplayName
	}
	if incoming.AvatarURL == "" && existing.AvatarURL != "" {
		incoming.AvatarURL = existing.AvatarURL
	}
	if incoming.Text == "" && existing.Text != "" {
		incoming.Text = existing.Text
	}
	if incoming.Description == "" && existing.Description != "" {
		incoming.Description = existing.Description
	}
	if incoming.AuthorFID == 0 && existing.AuthorFID != 0 {
		incoming.AuthorFID = existing.AuthorFID
	}
}
