// Package execution runs function invocations inside short-lived
// containers and turns whatever happens in there into a classified,
// recorded result. One invocation is one container: created from the
// project's runtime image, loaded with the function's code, started,
// waited on, read, removed. The engine never returns transport errors
// to callers; every failure mode becomes a Result with status "error"
// or "timeout" and lands in the invocation log.
package execution

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"clowdy/internal/db"
	"clowdy/internal/docker"
	"clowdy/internal/images"
	"clowdy/internal/logging"
	"clowdy/internal/metrics"
	"clowdy/pkg/models"
)

// DefaultTimeout is the wall-clock limit for a single invocation when the
// configuration does not say otherwise.
const DefaultTimeout = 30 * time.Second

// codeFileName is where the runtime bootstrap expects the function's code,
// relative to the container workdir.
const codeFileName = "function.py"

// logsTailBytes caps the stderr excerpt attached to error outputs. Full
// capture is still bounded separately by the engine's log limit.
const logsTailBytes = 4096

// Host is the container surface the engine runs on, implemented by
// docker.Client.
type Host interface {
	CreateContainer(ctx context.Context, imageName, name string, env map[string]string) (string, error)
	PutArchive(ctx context.Context, containerID, path string, archive io.Reader) error
	StartAndWait(ctx context.Context, containerID string, timeout time.Duration) (exitCode int64, timedOut bool, err error)
	Logs(ctx context.Context, containerID string, limit int64) (stdout, stderr []byte, err error)
	RemoveContainer(containerID string) error
}

// Request describes one invocation: the function to run, the already
// decoded input value, and where the call came from. Method and Path are
// only meaningful for gateway traffic.
type Request struct {
	Function *models.Function
	Input    any
	Source   string
	Method   string
	Path     string
}

// Result is the engine's classification of one finished invocation.
type Result struct {
	InvocationID string `json:"invocation_id"`
	Status       string `json:"status"`
	Output       any    `json:"output"`
	DurationMS   int64  `json:"duration_ms"`
}

// Success reports whether the function returned a value.
func (r *Result) Success() bool {
	return r.Status == models.InvocationSuccess
}

// ErrorMessage extracts the user-facing message from an error or timeout
// output.
func (r *Result) ErrorMessage() string {
	if out, ok := r.Output.(map[string]any); ok {
		if msg, ok := out["error"].(string); ok && msg != "" {
			return msg
		}
	}
	return "invocation failed"
}

// EngineUnavailable reports whether the failure was the container engine's,
// not the function's. These surface as 500s instead of a function result.
func (r *Result) EngineUnavailable() bool {
	return r.Status == models.InvocationError && r.ErrorMessage() == engineUnavailableMessage
}

// Engine executes functions. Safe for concurrent use; each invocation is
// fully independent.
type Engine struct {
	host    Host
	images  *images.Manager
	store   *db.Database
	timeout time.Duration
	logCap  int64
}

// NewEngine wires an engine over a container host, the image manager that
// resolves per-project runtime images, and the store that receives
// invocation records.
func NewEngine(host Host, imgs *images.Manager, store *db.Database, timeout time.Duration, logCap int64) *Engine {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logCap <= 0 {
		logCap = 256 * 1024
	}
	return &Engine{host: host, images: imgs, store: store, timeout: timeout, logCap: logCap}
}

// Invoke runs one invocation start to finish: image resolution,
// environment assembly, the container round trip, output classification,
// and the invocation record. It never returns an error; callers always
// get a Result, and exactly one record is written per call.
//
// The container lifecycle is detached from ctx's cancellation. A client
// that disconnects mid-run does not stop the container; the invocation
// completes and is recorded, only the response goes nowhere.
func (e *Engine) Invoke(ctx context.Context, req Request) *Result {
	runCtx := context.WithoutCancel(ctx)
	invocationID := models.NewID()

	project := e.loadProject(runCtx, req.Function)
	imageTag := e.resolveImage(runCtx, project)
	env := e.assembleEnv(runCtx, project)

	inputJSON, err := json.Marshal(req.Input)
	if err != nil {
		inputJSON = []byte("null")
	}
	env["INPUT_JSON"] = string(inputJSON)
	env["FUNCTION_ID"] = req.Function.ID
	env["INVOCATION_ID"] = invocationID

	m := metrics.Get()
	m.InvocationsInFlight.Inc()
	status, output, duration := e.run(runCtx, req.Function, invocationID, imageTag, env)
	m.InvocationsInFlight.Dec()
	m.RecordInvocation(status, req.Source, duration)

	res := &Result{
		InvocationID: invocationID,
		Status:       status,
		Output:       output,
		DurationMS:   duration.Milliseconds(),
	}
	e.record(runCtx, req, res, string(inputJSON))
	return res
}

// run does the container round trip and classifies what came out. The
// container is removed before run returns, so the invocation record is
// always written after cleanup.
func (e *Engine) run(ctx context.Context, fn *models.Function, invocationID, imageTag string, env map[string]string) (status string, output any, duration time.Duration) {
	containerID, err := e.host.CreateContainer(ctx, imageTag, "clowdy-run-"+invocationID, env)
	if err != nil {
		logging.S().Errorw("container create failed", "function", fn.ID, "image", imageTag, "error", err)
		return models.InvocationError, engineUnavailable(), 0
	}
	defer e.remove(containerID)

	archive, err := docker.TarFile(codeFileName, []byte(fn.Code))
	if err != nil {
		logging.S().Errorw("code archive failed", "function", fn.ID, "error", err)
		return models.InvocationError, engineUnavailable(), 0
	}
	if err := e.host.PutArchive(ctx, containerID, docker.WorkDir, archive); err != nil {
		logging.S().Errorw("code injection failed", "function", fn.ID, "container", containerID, "error", err)
		return models.InvocationError, engineUnavailable(), 0
	}

	start := time.Now()
	exitCode, timedOut, err := e.host.StartAndWait(ctx, containerID, e.timeout)
	if err != nil {
		logging.S().Errorw("container run failed", "function", fn.ID, "container", containerID, "error", err)
		return models.InvocationError, engineUnavailable(), time.Since(start)
	}

	stdout, stderr, logErr := e.host.Logs(ctx, containerID, e.logCap)
	duration = time.Since(start)
	if logErr != nil {
		logging.S().Warnw("log retrieval failed", "container", containerID, "error", logErr)
	}

	// A timed-out container may still have printed something; the partial
	// output is not a result.
	if timedOut {
		return models.InvocationTimeout, map[string]any{"error": "execution timeout"}, duration
	}

	status, output = classifyOutput(exitCode, stdout, stderr)
	return status, output, duration
}

func (e *Engine) remove(containerID string) {
	if err := e.host.RemoveContainer(containerID); err != nil {
		logging.S().Warnw("container removal failed", "container", containerID, "error", err)
	}
}

// loadProject resolves the function's project, or nil for project-less
// functions.
func (e *Engine) loadProject(ctx context.Context, fn *models.Function) *models.Project {
	if fn.ProjectID == nil || *fn.ProjectID == "" {
		return nil
	}
	project, err := e.store.ProjectByID(ctx, *fn.ProjectID)
	if err != nil {
		if !errors.Is(err, db.ErrNotFound) {
			logging.S().Warnw("project lookup failed", "project", *fn.ProjectID, "error", err)
		}
		return nil
	}
	return project
}

// resolveImage picks the runtime image for this invocation. A manifest
// whose build fails does not fail the invocation: the engine logs it and
// runs on whatever tag the image manager fell back to.
func (e *Engine) resolveImage(ctx context.Context, project *models.Project) string {
	if project == nil {
		return e.images.BaseImage()
	}
	tag, err := e.images.EnsureProjectImage(ctx, project)
	if err != nil {
		logging.S().Warnw("project image unavailable, running on fallback",
			"project", project.ID, "image", tag, "error", err)
	}
	return tag
}

// assembleEnv collects the container environment: the project's variables
// first, then DATABASE_URL from the provisioned database, which always
// wins over a user variable of the same name.
func (e *Engine) assembleEnv(ctx context.Context, project *models.Project) map[string]string {
	env := make(map[string]string)
	if project == nil {
		return env
	}
	vars, err := e.store.EnvMap(ctx, project.ID)
	if err != nil {
		logging.S().Warnw("env lookup failed", "project", project.ID, "error", err)
	}
	for k, v := range vars {
		env[k] = v
	}
	if project.HasDatabase() {
		env["DATABASE_URL"] = project.DatabaseURL
	}
	return env
}

// record appends the invocation row. A write failure is logged and
// swallowed; the invocation already happened and the caller still gets
// its result.
func (e *Engine) record(ctx context.Context, req Request, res *Result, inputJSON string) {
	outputJSON, err := json.Marshal(res.Output)
	if err != nil {
		outputJSON = []byte("null")
	}
	inv := &models.Invocation{
		ID:         res.InvocationID,
		FunctionID: req.Function.ID,
		InputJSON:  inputJSON,
		OutputJSON: string(outputJSON),
		Status:     res.Status,
		DurationMS: res.DurationMS,
		Source:     req.Source,
	}
	if req.Source == models.SourceGateway {
		method, path := req.Method, req.Path
		inv.HTTPMethod = &method
		inv.HTTPPath = &path
	}
	if err := e.store.AppendInvocation(ctx, inv); err != nil {
		logging.S().Errorw("invocation record write failed",
			"invocation", res.InvocationID, "function", req.Function.ID, "error", err)
	}
}
