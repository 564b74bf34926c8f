package cache

import (
	"context"
	"time"

	"clowdy/internal/metrics"
)

// projectTTL bounds how stale a slug resolution can be. Project deletion
// invalidates eagerly, so the TTL only covers out-of-band changes.
const projectTTL = 30 * time.Second

// CachedProject is the slice of a project the gateway needs to dispatch.
// Connection strings and build state stay out of the cache; the engine
// reads those fresh per invocation.
type CachedProject struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"owner_id"`
	Name     string    `json:"name"`
	Slug     string    `json:"slug"`
	Status   string    `json:"status"`
	CachedAt time.Time `json:"cached_at"`
}

// ProjectCache resolves project slugs with a short TTL so gateway dispatch
// does not hit the record store on every request.
type ProjectCache struct {
	cache *Cache
	ttl   time.Duration
}

// NewProjectCache wraps the shared cache with project lookup semantics.
func NewProjectCache(cache *Cache) *ProjectCache {
	return &ProjectCache{cache: cache, ttl: projectTTL}
}

// GetBySlug returns the cached resolution for slug, or ErrMiss.
func (pc *ProjectCache) GetBySlug(ctx context.Context, slug string) (*CachedProject, error) {
	var project CachedProject
	if err := pc.cache.GetJSON(ctx, ProjectSlugKey(slug), &project); err != nil {
		return nil, err
	}
	return &project, nil
}

// SetBySlug caches a slug resolution.
func (pc *ProjectCache) SetBySlug(ctx context.Context, project *CachedProject) error {
	project.CachedAt = time.Now()
	return pc.cache.SetJSON(ctx, ProjectSlugKey(project.Slug), project, pc.ttl)
}

// GetOrLoad resolves a slug through the cache, calling loader on miss and
// caching what it returns. Cache write failures are ignored; the loaded
// value is still returned.
func (pc *ProjectCache) GetOrLoad(ctx context.Context, slug string, loader func() (*CachedProject, error)) (*CachedProject, error) {
	cached, err := pc.GetBySlug(ctx, slug)
	if err == nil {
		metrics.Get().RecordCacheOperation("project_slug", true)
		return cached, nil
	}
	metrics.Get().RecordCacheOperation("project_slug", false)

	project, err := loader()
	if err != nil {
		return nil, err
	}
	_ = pc.SetBySlug(ctx, project)
	return project, nil
}

// Invalidate drops the cached resolution for slug.
func (pc *ProjectCache) Invalidate(ctx context.Context, slug string) {
	pc.cache.Delete(ctx, ProjectSlugKey(slug))
}
