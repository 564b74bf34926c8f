// Package docker wraps the Docker Engine API with the narrow capability set
// the platform needs: build images from in-memory contexts, run one-shot
// locked-down containers, stream code archives into them, and read their
// demultiplexed output.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"

	"clowdy/internal/logging"
)

// Fixed isolation floor for every function container. These are not
// configuration: user code always runs with at most this much.
const (
	MemoryLimitBytes = 128 * 1024 * 1024
	CPUNanoLimit     = 500_000_000
	PidsLimit        = int64(128)
	TmpfsSpec        = "rw,noexec,nosuid,size=64m"
	WorkDir          = "/app"
)

// stopGrace is how long a timed-out container gets to exit on SIGTERM
// before the hard kill.
const stopGrace = 2 // seconds

// Client wraps the Docker SDK client with platform-specific operations.
type Client struct {
	cli *client.Client
	log *zap.Logger
}

// New connects to the container engine. Discovery order: the explicit host
// override, a well-known per-user socket (Colima), then the SDK's default
// environment discovery. The engine is a hard dependency; New fails if it
// cannot be reached.
func New(host string) (*Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	switch {
	case host != "":
		opts = append(opts, client.WithHost(host))
	case os.Getenv("DOCKER_HOST") == "":
		if sock := colimaSocket(); sock != "" {
			opts = append(opts, client.WithHost(sock))
		}
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("docker client init failed: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		return nil, fmt.Errorf("container engine unreachable: %w", err)
	}

	return &Client{cli: cli, log: logging.L()}, nil
}

// colimaSocket returns the Colima docker socket when present, for hosts
// where the engine runs in a VM and the default socket path does not exist.
func colimaSocket() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	sock := filepath.Join(home, ".colima", "default", "docker.sock")
	if _, err := os.Stat(sock); err != nil {
		return ""
	}
	return "unix://" + sock
}

// Close releases the underlying SDK client.
func (c *Client) Close() error {
	return c.cli.Close()
}

// Ping checks engine reachability, for the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.cli.Ping(ctx)
	return err
}

// CreateContainer creates a stopped container for one invocation. Limits,
// network isolation and the read-only rootfs are fixed here and cannot be
// widened by callers.
func (c *Client) CreateContainer(ctx context.Context, imageName, name string, env map[string]string) (string, error) {
	created, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:           imageName,
		WorkingDir:      WorkDir,
		Env:             flattenEnv(env),
		AttachStdout:    true,
		AttachStderr:    true,
		Tty:             false,
		NetworkDisabled: true,
	}, runtimeHostConfig(), &network.NetworkingConfig{}, nil, name)
	if err != nil {
		return "", fmt.Errorf("docker container create failed: %w", err)
	}
	return created.ID, nil
}

// runtimeHostConfig is the host-side half of the isolation floor: no
// network, dropped capabilities, read-only rootfs with a small private
// /tmp, memory/CPU/pids caps, swap off.
func runtimeHostConfig() *container.HostConfig {
	pids := PidsLimit
	return &container.HostConfig{
		AutoRemove:     false,
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges:true"},
		CapDrop:        []string{"ALL"},
		NetworkMode:    "none",
		Tmpfs:          map[string]string{"/tmp": TmpfsSpec},
		Resources: container.Resources{
			Memory:     MemoryLimitBytes,
			MemorySwap: MemoryLimitBytes,
			NanoCPUs:   CPUNanoLimit,
			PidsLimit:  &pids,
		},
	}
}

// PutArchive streams a tar archive into a stopped container's filesystem.
// This is the only way code reaches a container; there are no host mounts.
func (c *Client) PutArchive(ctx context.Context, containerID, path string, archive io.Reader) error {
	if err := c.cli.CopyToContainer(ctx, containerID, path, archive, container.CopyToContainerOptions{}); err != nil {
		return fmt.Errorf("docker copy to container failed: %w", err)
	}
	return nil
}

// StartAndWait starts the container and waits at most timeout for it to
// exit. On expiry it issues a graceful stop followed by a hard kill and
// reports timedOut regardless of how the process ended.
func (c *Client) StartAndWait(ctx context.Context, containerID string, timeout time.Duration) (exitCode int64, timedOut bool, err error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := c.cli.ContainerStart(execCtx, containerID, container.StartOptions{}); err != nil {
		return 0, false, fmt.Errorf("docker container start failed: %w", err)
	}

	waitCh, errCh := c.cli.ContainerWait(execCtx, containerID, container.WaitConditionNotRunning)
	select {
	case <-execCtx.Done():
		if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
			grace := stopGrace
			_ = c.cli.ContainerStop(context.Background(), containerID, container.StopOptions{Timeout: &grace})
			_ = c.cli.ContainerKill(context.Background(), containerID, "SIGKILL")
			return 0, true, nil
		}
		return 0, false, execCtx.Err()
	case resp := <-waitCh:
		return resp.StatusCode, false, nil
	case err := <-errCh:
		return 0, false, fmt.Errorf("docker container wait failed: %w", err)
	}
}

// Logs retrieves the container's stdout and stderr, demultiplexed and
// capped at limit bytes per stream (0 means uncapped).
func (c *Client) Logs(ctx context.Context, containerID string, limit int64) (stdout, stderr []byte, err error) {
	rc, err := c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("docker logs failed: %w", err)
	}
	defer rc.Close()

	var outBuf, errBuf bytes.Buffer
	_, copyErr := stdcopy.StdCopy(
		&limitedWriter{w: &outBuf, limit: limit},
		&limitedWriter{w: &errBuf, limit: limit},
		rc,
	)
	if copyErr != nil {
		return outBuf.Bytes(), errBuf.Bytes(), copyErr
	}
	return outBuf.Bytes(), errBuf.Bytes(), nil
}

// RemoveContainer force-removes a container. Callers treat failures as
// log-only; a leaked container is the engine's garbage, not the user's.
func (c *Client) RemoveContainer(containerID string) error {
	return c.cli.ContainerRemove(context.Background(), containerID, container.RemoveOptions{Force: true})
}

// ImageExists reports whether an image is present locally.
func (c *Client) ImageExists(ctx context.Context, imageName string) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return true, nil
	}
	if client.IsErrNotFound(err) {
		return false, nil
	}
	return false, err
}

// EnsureImage pulls an image if it is not already present. Used for a
// registry-hosted base runtime; locally built tags simply pass the inspect.
func (c *Client) EnsureImage(ctx context.Context, imageName string) error {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		return nil
	}
	rc, pullErr := c.cli.ImagePull(ctx, imageName, image.PullOptions{})
	if pullErr != nil {
		return fmt.Errorf("pull image %s: %w", imageName, pullErr)
	}
	defer rc.Close()
	_, _ = io.Copy(io.Discard, rc)
	return nil
}

// RemoveImage removes an image tag, pruning dangling parents.
func (c *Client) RemoveImage(ctx context.Context, imageName string) error {
	_, err := c.cli.ImageRemove(ctx, imageName, image.RemoveOptions{PruneChildren: true})
	return err
}

// ImageTags lists local image references matching a reference pattern,
// e.g. "clowdy-project-abc123-*" for the per-project GC sweep.
func (c *Client) ImageTags(ctx context.Context, refPattern string) ([]string, error) {
	summaries, err := c.cli.ImageList(ctx, image.ListOptions{
		Filters: referenceFilter(refPattern),
	})
	if err != nil {
		return nil, err
	}
	var tags []string
	for _, s := range summaries {
		tags = append(tags, s.RepoTags...)
	}
	return tags, nil
}

func flattenEnv(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

// limitedWriter caps how much of a stream is kept while still draining the
// rest, so huge container output cannot balloon memory.
type limitedWriter struct {
	w       io.Writer
	limit   int64
	written int64
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	consumed := len(p)
	if lw.limit <= 0 {
		return lw.w.Write(p)
	}
	if lw.written >= lw.limit {
		return consumed, nil
	}
	if remaining := lw.limit - lw.written; int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := lw.w.Write(p)
	lw.written += int64(n)
	if err != nil {
		return n, err
	}
	// Report the full slice as consumed so the demuxer keeps draining
	// past the cap instead of stopping on a short write.
	return consumed, nil
}
