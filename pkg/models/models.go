package models

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// NewID returns a short opaque identifier: the first 12 hex characters of a
// random UUID. Short enough for image tags and URLs, random enough that the
// public invoke/gateway endpoints can rely on unguessability.
func NewID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])[:12]
}

// Project status values.
const (
	ProjectStatusActive   = "active"
	ProjectStatusArchived = "archived"
)

// Image build status values, in lifecycle order.
const (
	BuildStatusNone     = "none"
	BuildStatusBuilding = "building"
	BuildStatusReady    = "ready"
	BuildStatusFailed   = "failed"
)

// Project groups functions and carries their shared runtime configuration:
// environment variables, the dependency manifest, the per-project runtime
// image and the gateway route table.
type Project struct {
	ID        string    `json:"id" gorm:"primarykey;size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	OwnerID     string `json:"owner_id" gorm:"size:64;index;not null"`
	Name        string `json:"name" gorm:"not null"`
	Slug        string `json:"slug" gorm:"uniqueIndex;not null"`
	Description string `json:"description"`
	Status      string `json:"status" gorm:"default:'active'"`

	// Managed database, provisioned through the external API. The raw
	// connection string is never serialized; handlers expose it masked.
	DatabaseURL  string `json:"-"`
	DBProviderID string `json:"-" gorm:"size:64"`

	// Dependency manifest and the image built from it. RequirementsText is
	// stored canonicalized; RequirementsHash is its SHA-256 and the cache
	// key for RuntimeImageTag.
	RequirementsText string `json:"requirements_text" gorm:"type:text"`
	RequirementsHash string `json:"requirements_hash" gorm:"size:64"`
	RuntimeImageTag  string `json:"runtime_image_tag"`
	ImageBuildStatus string `json:"image_build_status" gorm:"default:'none'"`
	ImageBuildError  string `json:"image_build_error" gorm:"type:text"`

	Functions []Function `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	EnvVars   []EnvVar   `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
	Routes    []Route    `json:"-" gorm:"foreignKey:ProjectID;constraint:OnDelete:CASCADE"`
}

// HasDatabase reports whether a managed database is provisioned.
func (p *Project) HasDatabase() bool {
	return p.DatabaseURL != ""
}

// HasCustomImage reports whether the project has a ready per-project image.
func (p *Project) HasCustomImage() bool {
	return p.RuntimeImageTag != "" && p.ImageBuildStatus == BuildStatusReady
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = NewID()
	}
	return nil
}

// Function status values.
const (
	FunctionStatusActive   = "active"
	FunctionStatusDisabled = "disabled"
)

// DefaultRuntime is the only runtime currently defined.
const DefaultRuntime = "python3.11"

// Function is a stored code snippet executed on demand. ProjectID is
// nullable: functions created before projects existed live directly under
// their owner.
type Function struct {
	ID        string    `json:"id" gorm:"primarykey;size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID   *string `json:"project_id" gorm:"size:32;index"`
	OwnerID     string  `json:"owner_id" gorm:"size:64;index;not null"`
	Name        string  `json:"name" gorm:"not null"`
	Description string  `json:"description"`
	Code        string  `json:"code" gorm:"type:text;not null"`
	Runtime     string  `json:"runtime" gorm:"default:'python3.11'"`
	Status      string  `json:"status" gorm:"default:'active'"`

	Invocations []Invocation `json:"-" gorm:"foreignKey:FunctionID;constraint:OnDelete:CASCADE"`
}

func (f *Function) BeforeCreate(tx *gorm.DB) error {
	if f.ID == "" {
		f.ID = NewID()
	}
	if f.Runtime == "" {
		f.Runtime = DefaultRuntime
	}
	return nil
}

// EnvVar is a per-project environment variable injected into every
// invocation of the project's functions. IsSecret only affects how the
// value is rendered in API responses; injection always uses the real value.
type EnvVar struct {
	ID        string    `json:"id" gorm:"primarykey;size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID string `json:"project_id" gorm:"size:32;uniqueIndex:idx_project_key;not null"`
	Key       string `json:"key" gorm:"uniqueIndex:idx_project_key;not null"`
	Value     string `json:"value" gorm:"type:text"`
	IsSecret  bool   `json:"is_secret" gorm:"default:false"`
}

func (e *EnvVar) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = NewID()
	}
	return nil
}

// Route HTTP methods accepted by the gateway. MethodAny matches any method
// at lower priority than an exact match.
const MethodAny = "ANY"

// ValidRouteMethods is the accepted set for Route.Method.
var ValidRouteMethods = map[string]bool{
	"GET": true, "POST": true, "PUT": true, "PATCH": true, "DELETE": true, MethodAny: true,
}

// Route maps an HTTP method and path pattern to a function within the same
// project. Patterns use `:name` segments for path parameters.
type Route struct {
	ID        string    `json:"id" gorm:"primarykey;size:32"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ProjectID   string `json:"project_id" gorm:"size:32;uniqueIndex:idx_project_route;not null"`
	FunctionID  string `json:"function_id" gorm:"size:32;index;not null"`
	Method      string `json:"method" gorm:"uniqueIndex:idx_project_route;not null"`
	PathPattern string `json:"path" gorm:"column:path_pattern;uniqueIndex:idx_project_route;not null"`
	Description string `json:"description"`
}

func (r *Route) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = NewID()
	}
	return nil
}

// Invocation statuses as classified by the engine.
const (
	InvocationSuccess = "success"
	InvocationError   = "error"
	InvocationTimeout = "timeout"
)

// Invocation sources.
const (
	SourceDirect  = "direct"
	SourceGateway = "gateway"
)

// Invocation is the append-only record of one function execution: the exact
// input the engine saw, the exact output it produced, and how it went.
// Rows are never updated.
type Invocation struct {
	ID        string    `json:"id" gorm:"primarykey;size:32"`
	CreatedAt time.Time `json:"created_at" gorm:"index"`

	FunctionID string `json:"function_id" gorm:"size:32;index;not null"`
	InputJSON  string `json:"-" gorm:"type:text"`
	OutputJSON string `json:"-" gorm:"type:text"`
	Status     string `json:"status" gorm:"index;not null"`
	DurationMS int64  `json:"duration_ms"`

	// Source is "direct" or "gateway"; method and path are only set for
	// gateway invocations.
	Source     string  `json:"source" gorm:"default:'direct'"`
	HTTPMethod *string `json:"http_method"`
	HTTPPath   *string `json:"http_path"`
}

func (i *Invocation) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = NewID()
	}
	return nil
}

// AllModels is the AutoMigrate list, ordered parents first.
func AllModels() []interface{} {
	return []interface{}{
		&Project{},
		&Function{},
		&EnvVar{},
		&Route{},
		&Invocation{},
	}
}
