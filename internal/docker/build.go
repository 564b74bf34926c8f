package docker

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
)

// buildErrorLines is how many trailing build-output lines a BuildError
// keeps. Enough to show the actual package-manager failure instead of a
// bare exit code.
const buildErrorLines = 10

// BuildError is returned when an image build fails. Output holds the tail
// of the build log so the real failure reaches the user.
type BuildError struct {
	Tag     string
	Message string
	Output  []string
}

func (e *BuildError) Error() string {
	if len(e.Output) == 0 {
		return fmt.Sprintf("image build failed for %s: %s", e.Tag, e.Message)
	}
	return fmt.Sprintf("image build failed for %s: %s\n%s", e.Tag, e.Message, strings.Join(e.Output, "\n"))
}

// Detail returns the user-facing build failure text: the tail of the build
// log when available, the engine message otherwise.
func (e *BuildError) Detail() string {
	if len(e.Output) > 0 {
		return strings.Join(e.Output, "\n")
	}
	return e.Message
}

// BuildImage builds an image from an in-memory context of (path, bytes)
// entries and tags it. The context must contain a Dockerfile entry. On
// failure the returned error is a *BuildError carrying the log tail.
func (c *Client) BuildImage(ctx context.Context, files map[string][]byte, tag string) error {
	buildContext, err := TarArchive(files)
	if err != nil {
		return fmt.Errorf("assemble build context: %w", err)
	}

	resp, err := c.cli.ImageBuild(ctx, buildContext, types.ImageBuildOptions{
		Tags:        []string{tag},
		Dockerfile:  "Dockerfile",
		Remove:      true,
		ForceRemove: true,
	})
	if err != nil {
		return &BuildError{Tag: tag, Message: err.Error()}
	}
	defer resp.Body.Close()

	// The build stream is a sequence of JSON messages; an "error" entry
	// means the build failed and the preceding "stream" entries hold the
	// package manager's own output.
	var lines []string
	decoder := json.NewDecoder(resp.Body)
	for {
		var msg struct {
			Stream string `json:"stream"`
			Error  string `json:"error"`
		}
		if err := decoder.Decode(&msg); err != nil {
			if err == io.EOF {
				break
			}
			return &BuildError{Tag: tag, Message: fmt.Sprintf("reading build output: %v", err), Output: tailLines(lines, buildErrorLines)}
		}
		if msg.Error != "" {
			return &BuildError{Tag: tag, Message: msg.Error, Output: tailLines(lines, buildErrorLines)}
		}
		if msg.Stream != "" {
			for _, line := range strings.Split(msg.Stream, "\n") {
				if trimmed := strings.TrimSpace(line); trimmed != "" {
					lines = append(lines, trimmed)
				}
			}
		}
	}
	return nil
}

// tailLines returns the last n entries of lines.
func tailLines(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}

func referenceFilter(refPattern string) filters.Args {
	return filters.NewArgs(filters.Arg("reference", refPattern))
}
