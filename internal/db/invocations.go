package db

import (
	"context"

	"gorm.io/gorm"

	"clowdy/pkg/models"
)

// DefaultInvocationLimit caps invocation listings.
const DefaultInvocationLimit = 50

// AppendInvocation writes one invocation record. Records are never updated
// afterwards.
func (d *Database) AppendInvocation(ctx context.Context, inv *models.Invocation) error {
	return d.DB.WithContext(ctx).Create(inv).Error
}

// ListInvocations returns a function's invocations, newest first. A limit
// of 0 (or anything out of range) falls back to DefaultInvocationLimit.
func (d *Database) ListInvocations(ctx context.Context, functionID string, limit int) ([]models.Invocation, error) {
	if limit <= 0 || limit > DefaultInvocationLimit {
		limit = DefaultInvocationLimit
	}
	var invocations []models.Invocation
	err := d.DB.WithContext(ctx).
		Where("function_id = ?", functionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&invocations).Error
	if err != nil {
		return nil, err
	}
	return invocations, nil
}

// OwnerStats is the aggregate view for the dashboard stats endpoint.
type OwnerStats struct {
	TotalFunctions   int64   `json:"total_functions"`
	TotalInvocations int64   `json:"total_invocations"`
	SuccessRate      float64 `json:"success_rate"`
	AvgDurationMS    float64 `json:"avg_duration_ms"`
}

// AggregateStats computes invocation statistics across every function the
// owner has. Success rate is a 0–100 percentage; both rate and average are
// 0 when the owner has no invocations yet.
func (d *Database) AggregateStats(ctx context.Context, ownerID string) (*OwnerStats, error) {
	stats := &OwnerStats{}

	err := d.DB.WithContext(ctx).Model(&models.Function{}).
		Where("owner_id = ?", ownerID).
		Count(&stats.TotalFunctions).Error
	if err != nil {
		return nil, err
	}

	ownerInvocations := func() *gorm.DB {
		return d.DB.WithContext(ctx).Model(&models.Invocation{}).
			Joins("JOIN functions ON functions.id = invocations.function_id").
			Where("functions.owner_id = ?", ownerID)
	}

	if err := ownerInvocations().Count(&stats.TotalInvocations).Error; err != nil {
		return nil, err
	}
	if stats.TotalInvocations == 0 {
		return stats, nil
	}

	var succeeded int64
	err = ownerInvocations().
		Where("invocations.status = ?", models.InvocationSuccess).
		Count(&succeeded).Error
	if err != nil {
		return nil, err
	}
	stats.SuccessRate = float64(succeeded) / float64(stats.TotalInvocations) * 100

	var avg *float64
	err = ownerInvocations().
		Select("AVG(invocations.duration_ms)").
		Scan(&avg).Error
	if err != nil {
		return nil, err
	}
	if avg != nil {
		stats.AvgDurationMS = *avg
	}
	return stats, nil
}
