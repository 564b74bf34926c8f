// Package images manages per-project runtime images: canonicalizing
// dependency manifests, hashing them into cache keys, and building images
// on demand with one build at a time per project.
package images

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"clowdy/internal/db"
	"clowdy/internal/docker"
	"clowdy/internal/logging"
	"clowdy/internal/metrics"
	"clowdy/pkg/models"
)

// TagPrefix starts every per-project image reference.
const TagPrefix = "clowdy-project-"

// tagHashLen is how many hash characters the tag carries. Twelve hex chars
// keep the reference short while making tag collisions between distinct
// manifests a non-concern.
const tagHashLen = 12

// Host is the slice of the container engine the manager needs.
type Host interface {
	ImageExists(ctx context.Context, imageName string) (bool, error)
	BuildImage(ctx context.Context, files map[string][]byte, tag string) error
	ImageTags(ctx context.Context, refPattern string) ([]string, error)
	RemoveImage(ctx context.Context, imageName string) error
}

// Manager resolves a project's dependency manifest to a runtime image tag,
// building and caching images keyed by the manifest hash.
type Manager struct {
	host  Host
	store *db.Database
	base  string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager returns a Manager that builds on host, records build state in
// store, and extends baseImage.
func NewManager(host Host, store *db.Database, baseImage string) *Manager {
	return &Manager{
		host:  host,
		store: store,
		base:  baseImage,
		locks: make(map[string]*sync.Mutex),
	}
}

// BaseImage returns the shared base runtime image tag.
func (m *Manager) BaseImage() string {
	return m.base
}

// Canonicalize normalizes a raw dependency manifest: lines are trimmed,
// blanks and # comments dropped, the rest sorted lexicographically and
// rejoined with single newlines. The canonical form is what gets persisted
// and hashed, so reordering or reformatting a manifest never rebuilds.
func Canonicalize(raw string) string {
	var lines []string
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		lines = append(lines, trimmed)
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Hash returns the hex SHA-256 of a canonical manifest.
func Hash(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Tag returns the image reference for a project and manifest hash.
func Tag(projectID, hash string) string {
	if len(hash) > tagHashLen {
		hash = hash[:tagHashLen]
	}
	return TagPrefix + projectID + "-" + hash
}

// EnsureProjectImage returns the image tag whose runtime satisfies the
// project's manifest, building it on cache miss. An empty manifest means
// the shared base image and never builds.
//
// Concurrent callers for the same project serialize on a per-project lock:
// the first builds, the rest wait and observe the result. A manifest whose
// last build failed is not retried here; the caller gets the previous
// ready tag (or the base image) plus the stored failure. Only an explicit
// manifest update retries a failed build.
func (m *Manager) EnsureProjectImage(ctx context.Context, project *models.Project) (string, error) {
	canonical := Canonicalize(project.RequirementsText)
	if canonical == "" {
		return m.base, nil
	}
	hash := Hash(canonical)
	tag := Tag(project.ID, hash)

	if m.isReady(ctx, project, hash, tag) {
		return tag, nil
	}

	lock := m.projectLock(project.ID)
	lock.Lock()
	defer lock.Unlock()

	// Re-read under the lock: a concurrent holder may have just finished
	// this exact build.
	if fresh, err := m.store.ProjectByID(ctx, project.ID); err == nil {
		project = fresh
	}
	if m.isReady(ctx, project, hash, tag) {
		return tag, nil
	}
	if project.ImageBuildStatus == models.BuildStatusFailed && project.RequirementsHash == hash {
		return m.fallbackTag(project), fmt.Errorf("image build previously failed: %s", project.ImageBuildError)
	}

	return m.build(ctx, project, canonical, hash, tag)
}

// Rebuild forces a build for the given raw manifest, used by the manifest
// update endpoint. Unlike EnsureProjectImage it retries known-failed
// manifests; like it, it skips when the image is already built and present.
func (m *Manager) Rebuild(ctx context.Context, project *models.Project, raw string) (string, error) {
	canonical := Canonicalize(raw)
	if canonical == "" {
		return m.base, nil
	}
	hash := Hash(canonical)
	tag := Tag(project.ID, hash)

	lock := m.projectLock(project.ID)
	lock.Lock()
	defer lock.Unlock()

	if fresh, err := m.store.ProjectByID(ctx, project.ID); err == nil {
		project = fresh
	}
	if m.isReady(ctx, project, hash, tag) {
		return tag, nil
	}
	return m.build(ctx, project, canonical, hash, tag)
}

// isReady reports whether the stored build state already satisfies the
// hash and the image is still present locally (images can vanish behind
// our back through an engine prune).
func (m *Manager) isReady(ctx context.Context, project *models.Project, hash, tag string) bool {
	if project.ImageBuildStatus != models.BuildStatusReady || project.RequirementsHash != hash {
		return false
	}
	exists, err := m.host.ImageExists(ctx, tag)
	if err != nil {
		logging.S().Warnw("image existence check failed", "tag", tag, "error", err)
		return false
	}
	return exists
}

// build runs one image build under the caller-held project lock and
// records the state transition.
func (m *Manager) build(ctx context.Context, project *models.Project, canonical, hash, tag string) (string, error) {
	if err := m.store.MarkImageBuilding(ctx, project.ID); err != nil {
		logging.S().Warnw("marking build start failed", "project", project.ID, "error", err)
	}
	logging.S().Infow("building project image", "project", project.ID, "tag", tag)

	start := time.Now()
	buildErr := m.host.BuildImage(ctx, BuildContext(m.base, canonical), tag)
	elapsed := time.Since(start)

	if buildErr != nil {
		metrics.Get().RecordImageBuild("failed", elapsed)
		detail := buildErr.Error()
		var be *docker.BuildError
		if errors.As(buildErr, &be) {
			detail = be.Detail()
		}
		if err := m.store.MarkImageFailed(ctx, project.ID, hash, detail); err != nil {
			logging.S().Errorw("recording build failure failed", "project", project.ID, "error", err)
		}
		logging.S().Warnw("project image build failed", "project", project.ID, "tag", tag, "error", buildErr)
		return m.fallbackTag(project), buildErr
	}

	metrics.Get().RecordImageBuild("success", elapsed)
	if err := m.store.MarkImageReady(ctx, project.ID, hash, tag); err != nil {
		logging.S().Errorw("recording build success failed", "project", project.ID, "error", err)
	}
	logging.S().Infow("project image ready", "project", project.ID, "tag", tag, "duration", elapsed)

	m.CleanupOldImages(project.ID, tag)
	return tag, nil
}

// fallbackTag is what invocations run on when the current manifest has no
// ready image: the previous ready tag if one survives, else the base.
func (m *Manager) fallbackTag(project *models.Project) string {
	if project.RuntimeImageTag != "" {
		return project.RuntimeImageTag
	}
	return m.base
}

// projectLock returns the lazily created build lock for a project. Locks
// are kept for the life of the process; their count is bounded by the
// number of projects.
func (m *Manager) projectLock(projectID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[projectID] = lock
	}
	return lock
}

// BuildContext assembles the in-memory build context for a per-project
// image: a descriptor extending the base runtime plus the canonical
// manifest it installs.
func BuildContext(baseImage, canonical string) map[string][]byte {
	dockerfile := "FROM " + baseImage + "\n" +
		"COPY requirements.txt /tmp/requirements.txt\n" +
		"RUN pip install --no-cache-dir -r /tmp/requirements.txt && rm /tmp/requirements.txt\n"
	return map[string][]byte{
		"Dockerfile":       []byte(dockerfile),
		"requirements.txt": []byte(canonical + "\n"),
	}
}

// CleanupOldImages removes superseded image tags for a project, keeping
// keep. Best-effort: a failed removal just leaves garbage for a later
// sweep.
func (m *Manager) CleanupOldImages(projectID, keep string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	tags, err := m.host.ImageTags(ctx, TagPrefix+projectID+"-*")
	if err != nil {
		logging.S().Warnw("listing project images failed", "project", projectID, "error", err)
		return
	}
	for _, tag := range tags {
		// Bare references come back from the engine as name:latest.
		name := strings.TrimSuffix(tag, ":latest")
		if name == keep {
			continue
		}
		if err := m.host.RemoveImage(ctx, tag); err != nil {
			logging.S().Warnw("removing stale project image failed", "tag", tag, "error", err)
			continue
		}
		logging.S().Debugw("removed stale project image", "tag", tag)
	}
}
