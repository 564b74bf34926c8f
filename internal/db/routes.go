package db

import (
	"context"

	"clowdy/pkg/models"
)

// CreateRoute inserts a route.
func (d *Database) CreateRoute(ctx context.Context, route *models.Route) error {
	return d.DB.WithContext(ctx).Create(route).Error
}

// RouteExists reports whether the project already maps (method, pattern).
func (d *Database) RouteExists(ctx context.Context, projectID, method, pattern string) (bool, error) {
	var n int64
	err := d.DB.WithContext(ctx).Model(&models.Route{}).
		Where("project_id = ? AND method = ? AND path_pattern = ?", projectID, method, pattern).
		Count(&n).Error
	return n > 0, err
}

// DeleteRoute removes one route, scoped to its project.
func (d *Database) DeleteRoute(ctx context.Context, projectID, routeID string) error {
	res := d.DB.WithContext(ctx).
		Where("project_id = ? AND id = ?", projectID, routeID).
		Delete(&models.Route{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
