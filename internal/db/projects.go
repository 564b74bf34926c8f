package db

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"clowdy/pkg/models"
)

// ErrNotFound is returned by lookups when no row matches.
var ErrNotFound = errors.New("record not found")

// CreateProject inserts a project.
func (d *Database) CreateProject(ctx context.Context, project *models.Project) error {
	return d.DB.WithContext(ctx).Create(project).Error
}

// SaveProject writes back every field of a loaded project.
func (d *Database) SaveProject(ctx context.Context, project *models.Project) error {
	return d.DB.WithContext(ctx).Save(project).Error
}

// ProjectWithCount pairs a project with its function count for listings.
type ProjectWithCount struct {
	models.Project
	FunctionCount int64 `json:"function_count"`
}

// ListProjects returns an owner's projects with function counts, newest
// first.
func (d *Database) ListProjects(ctx context.Context, ownerID string) ([]ProjectWithCount, error) {
	var projects []ProjectWithCount
	err := d.DB.WithContext(ctx).Model(&models.Project{}).
		Select("projects.*, (SELECT COUNT(*) FROM functions WHERE functions.project_id = projects.id) AS function_count").
		Where("projects.owner_id = ?", ownerID).
		Order("projects.created_at DESC, projects.id DESC").
		Find(&projects).Error
	if err != nil {
		return nil, err
	}
	return projects, nil
}

// CountProjectFunctions returns how many functions a project has.
func (d *Database) CountProjectFunctions(ctx context.Context, projectID string) (int64, error) {
	var n int64
	err := d.DB.WithContext(ctx).Model(&models.Function{}).
		Where("project_id = ?", projectID).
		Count(&n).Error
	return n, err
}

// SlugTaken reports whether any project already uses slug.
func (d *Database) SlugTaken(ctx context.Context, slug string) (bool, error) {
	var n int64
	err := d.DB.WithContext(ctx).Model(&models.Project{}).
		Where("slug = ?", slug).
		Count(&n).Error
	return n > 0, err
}

// DeleteProject removes a project and everything under it: functions,
// their invocations, env vars and routes. Children are deleted explicitly
// so the cascade does not depend on backend foreign-key enforcement.
func (d *Database) DeleteProject(ctx context.Context, id string) error {
	return d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var functionIDs []string
		if err := tx.Model(&models.Function{}).Where("project_id = ?", id).
			Pluck("id", &functionIDs).Error; err != nil {
			return err
		}
		if len(functionIDs) > 0 {
			if err := tx.Where("function_id IN ?", functionIDs).Delete(&models.Invocation{}).Error; err != nil {
				return err
			}
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Route{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.EnvVar{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", id).Delete(&models.Function{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&models.Project{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ProjectByID loads one project.
func (d *Database) ProjectByID(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := d.DB.WithContext(ctx).First(&project, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// ProjectBySlug loads one project by its gateway slug.
func (d *Database) ProjectBySlug(ctx context.Context, slug string) (*models.Project, error) {
	var project models.Project
	err := d.DB.WithContext(ctx).First(&project, "slug = ?", slug).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &project, nil
}

// FunctionByID loads one function.
func (d *Database) FunctionByID(ctx context.Context, id string) (*models.Function, error) {
	var fn models.Function
	err := d.DB.WithContext(ctx).First(&fn, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &fn, nil
}

// EnvMap returns the project's environment variables as a key→value map
// with the real (unmasked) values, ready for injection.
func (d *Database) EnvMap(ctx context.Context, projectID string) (map[string]string, error) {
	var vars []models.EnvVar
	if err := d.DB.WithContext(ctx).Where("project_id = ?", projectID).Find(&vars).Error; err != nil {
		return nil, err
	}
	env := make(map[string]string, len(vars))
	for _, v := range vars {
		env[v.Key] = v.Value
	}
	return env, nil
}

// RoutesForProject returns the project's routes in insertion order, which
// the route compiler relies on as its final tie-break.
func (d *Database) RoutesForProject(ctx context.Context, projectID string) ([]models.Route, error) {
	var routes []models.Route
	err := d.DB.WithContext(ctx).
		Where("project_id = ?", projectID).
		Order("created_at ASC, id ASC").
		Find(&routes).Error
	if err != nil {
		return nil, err
	}
	return routes, nil
}

// MarkImageBuilding transitions a project into the building state.
func (d *Database) MarkImageBuilding(ctx context.Context, id string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Update("image_build_status", models.BuildStatusBuilding).Error
}

// MarkImageReady records a successful build: hash, tag, status and a
// cleared error, in one statement.
func (d *Database) MarkImageReady(ctx context.Context, id, hash, tag string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"requirements_hash":  hash,
			"runtime_image_tag":  tag,
			"image_build_status": models.BuildStatusReady,
			"image_build_error":  "",
		}).Error
}

// MarkImageFailed records a failed build. The previous runtime_image_tag is
// left in place so existing invocations keep working.
func (d *Database) MarkImageFailed(ctx context.Context, id, hash, message string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"requirements_hash":  hash,
			"image_build_status": models.BuildStatusFailed,
			"image_build_error":  message,
		}).Error
}

// SetRequirementsText persists a canonicalized manifest. Hash and build
// state are written separately by the build path.
func (d *Database) SetRequirementsText(ctx context.Context, id, canonical string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Update("requirements_text", canonical).Error
}

// ClearProjectImage reverts a project to the shared base runtime: empty
// manifest, no hash, no tag, build state none.
func (d *Database) ClearProjectImage(ctx context.Context, id string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"requirements_text":  "",
			"requirements_hash":  "",
			"runtime_image_tag":  "",
			"image_build_status": models.BuildStatusNone,
			"image_build_error":  "",
		}).Error
}

// SetProjectDatabase stores a provisioned database on the project.
func (d *Database) SetProjectDatabase(ctx context.Context, id, providerID, connectionURI string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"db_provider_id": providerID,
			"database_url":   connectionURI,
		}).Error
}

// ClearProjectDatabase removes the managed database from the project.
func (d *Database) ClearProjectDatabase(ctx context.Context, id string) error {
	return d.DB.WithContext(ctx).Model(&models.Project{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"db_provider_id": "",
			"database_url":   "",
		}).Error
}
