package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"clowdy/pkg/models"
)

// ListEnvVars returns a project's environment variables ordered by key.
// Values are the real ones; masking is the handler's concern.
func (d *Database) ListEnvVars(ctx context.Context, projectID string) ([]models.EnvVar, error) {
	var vars []models.EnvVar
	err := d.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("key ASC").
		Find(&vars).Error
	if err != nil {
		return nil, err
	}
	return vars, nil
}

// SetEnvVar upserts one variable. An existing key keeps its row: same id,
// created_at untouched, value and is_secret replaced.
func (d *Database) SetEnvVar(ctx context.Context, projectID, key, value string, isSecret bool) (*models.EnvVar, error) {
	var out models.EnvVar
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.EnvVar
		err := tx.Where("project_id = ? AND key = ?", projectID, key).First(&existing).Error
		switch {
		case err == nil:
			if err := tx.Model(&existing).Updates(map[string]interface{}{
				"value":     value,
				"is_secret": isSecret,
			}).Error; err != nil {
				return err
			}
			return tx.First(&out, "id = ?", existing.ID).Error
		case errors.Is(err, gorm.ErrRecordNotFound):
			out = models.EnvVar{ProjectID: projectID, Key: key, Value: value, IsSecret: isSecret}
			return tx.Create(&out).Error
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteEnvVar removes one variable by key.
func (d *Database) DeleteEnvVar(ctx context.Context, projectID, key string) error {
	res := d.DB.WithContext(ctx).
		Where("project_id = ? AND key = ?", projectID, key).
		Delete(&models.EnvVar{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
