package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/weiawesome/friendlychat/internal/domain"
)

var unsettledStates = []string{domain.UploadPending, domain.UploadUploading}

// GormMessageRepository implements MessageRepository using GORM.
type GormMessageRepository struct {
	db    *gorm.DB
	clock *MonotonicClock
}

// NewGormMessageRepository creates a new GORM-based message repository.
// The clock is seeded from the newest stored message.
func NewGormMessageRepository(ctx context.Context, db *gorm.DB) (*GormMessageRepository, error) {
	r := &GormMessageRepository{db: db, clock: NewMonotonicClock()}

	var newest domain.MessageModel
	err := db.WithContext(ctx).Order("timestamp_ms DESC").Limit(1).Take(&newest).Error
	switch {
	case err == nil:
		r.clock.Observe(newest.Timestamp)
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return r, nil
}

// Create creates a new message.
func (r *GormMessageRepository) Create(ctx context.Context, msg *domain.Message) error {
	msg.ID = uuid.New().String()
	msg.Timestamp = r.clock.Next()
	msg.Revision = 0

	model := domain.MessageToModel(msg)
	return r.db.WithContext(ctx).Create(model).Error
}

// Get retrieves a message by ID.
func (r *GormMessageRepository) Get(ctx context.Context, id string) (*domain.Message, error) {
	var model domain.MessageModel
	result := r.db.WithContext(ctx).First(&model, "id = ?", id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, result.Error
	}
	return model.ToDomain(), nil
}

// UpdateImage updates the image fields of an unsettled message.
func (r *GormMessageRepository) UpdateImage(ctx context.Context, id string, u ImageUpdate) (*domain.Message, error) {
	var out *domain.Message
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := map[string]interface{}{
			"upload_state": u.State,
			"revision":     gorm.Expr("revision + 1"),
		}
		if u.ImageURL != "" {
			updates["image_url"] = u.ImageURL
		}
		if u.StorageURI != "" {
			updates["storage_uri"] = u.StorageURI
		}

		result := tx.Model(&domain.MessageModel{}).
			Where("id = ? AND upload_state IN ?", id, unsettledStates).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}

		var model domain.MessageModel
		if err := tx.First(&model, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMessageNotFound
			}
			return err
		}
		if result.RowsAffected == 0 {
			return ErrMessageSettled
		}

		out = model.ToDomain()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a message.
func (r *GormMessageRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Delete(&domain.MessageModel{}, "id = ?", id)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrMessageNotFound
	}
	return nil
}

// Latest returns the newest messages, newest first.
func (r *GormMessageRepository) Latest(ctx context.Context, limit int) ([]domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Order("timestamp_ms DESC").
		Order("id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

// FindStaleUploads returns in-flight image messages older than before.
func (r *GormMessageRepository) FindStaleUploads(ctx context.Context, before int64, limit int) ([]domain.Message, error) {
	var models []domain.MessageModel
	err := r.db.WithContext(ctx).
		Where("upload_state IN ? AND timestamp_ms < ?", unsettledStates, before).
		Order("timestamp_ms ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	return toDomain(models), nil
}

func toDomain(models []domain.MessageModel) []domain.Message {
	out := make([]domain.Message, 0, len(models))
	for i := range models {
		out = append(out, *models[i].ToDomain())
	}
	return out
}
