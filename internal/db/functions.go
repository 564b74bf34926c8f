package db

import (
	"context"

	"gorm.io/gorm"

	"clowdy/pkg/models"
)

// CreateFunction inserts a function.
func (d *Database) CreateFunction(ctx context.Context, fn *models.Function) error {
	return d.DB.WithContext(ctx).Create(fn).Error
}

// SaveFunction writes back every field of a loaded function.
func (d *Database) SaveFunction(ctx context.Context, fn *models.Function) error {
	return d.DB.WithContext(ctx).Save(fn).Error
}

// ListFunctions returns an owner's functions, newest first.
func (d *Database) ListFunctions(ctx context.Context, ownerID string) ([]models.Function, error) {
	var fns []models.Function
	err := d.DB.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC, id DESC").
		Find(&fns).Error
	if err != nil {
		return nil, err
	}
	return fns, nil
}

// ListProjectFunctions returns a project's functions, newest first.
func (d *Database) ListProjectFunctions(ctx context.Context, projectID string) ([]models.Function, error) {
	var fns []models.Function
	err := d.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at DESC, id DESC").
		Find(&fns).Error
	if err != nil {
		return nil, err
	}
	return fns, nil
}

// FunctionNameTaken reports whether another function already uses name in
// the same scope: the project when projectID is set, otherwise the owner's
// project-less functions. excludeID skips the function being renamed.
func (d *Database) FunctionNameTaken(ctx context.Context, projectID *string, ownerID, name, excludeID string) (bool, error) {
	q := d.DB.WithContext(ctx).Model(&models.Function{}).Where("name = ?", name)
	if projectID != nil {
		q = q.Where("project_id = ?", *projectID)
	} else {
		q = q.Where("project_id IS NULL AND owner_id = ?", ownerID)
	}
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}
	var n int64
	err := q.Count(&n).Error
	return n > 0, err
}

// DeleteFunction removes a function together with its invocation history
// and any routes pointing at it.
func (d *Database) DeleteFunction(ctx context.Context, id string) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("function_id = ?", id).Delete(&models.Invocation{}).Error; err != nil {
			return err
		}
		if err := tx.Where("function_id = ?", id).Delete(&models.Route{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Function{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}
