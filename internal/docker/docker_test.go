package docker

import (
	"archive/tar"
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTarArchive(t *testing.T) {
	files := map[string][]byte{
		"function.py":      []byte("def handler(input):\n    return input\n"),
		"requirements.txt": []byte("requests==2.31.0\n"),
	}

	buf, err := TarArchive(files)
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	seen := map[string]string{}
	var order []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(tr)
		require.NoError(t, err)
		seen[hdr.Name] = string(content)
		order = append(order, hdr.Name)
		assert.EqualValues(t, 0o644, hdr.Mode)
	}

	assert.Equal(t, string(files["function.py"]), seen["function.py"])
	assert.Equal(t, string(files["requirements.txt"]), seen["requirements.txt"])
	assert.Equal(t, []string{"function.py", "requirements.txt"}, order, "entries should be path-sorted")
}

func TestTarFileRoundTrip(t *testing.T) {
	buf, err := TarFile("function.py", []byte("print('hi')"))
	require.NoError(t, err)

	tr := tar.NewReader(bytes.NewReader(buf.Bytes()))
	hdr, err := tr.Next()
	require.NoError(t, err)
	assert.Equal(t, "function.py", hdr.Name)
	content, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", string(content))

	_, err = tr.Next()
	assert.Equal(t, io.EOF, err)
}

func TestLimitedWriter(t *testing.T) {
	tests := []struct {
		name      string
		limit     int64
		writes    []string
		wantKept  string
		wantTotal int
	}{
		{
			name:      "under limit keeps everything",
			limit:     100,
			writes:    []string{"hello ", "world"},
			wantKept:  "hello world",
			wantTotal: 11,
		},
		{
			name:      "over limit truncates but keeps draining",
			limit:     5,
			writes:    []string{"hello", " world"},
			wantKept:  "hello",
			wantTotal: 11,
		},
		{
			name:      "limit mid-write truncates the write",
			limit:     8,
			writes:    []string{"hello world"},
			wantKept:  "hello wo",
			wantTotal: 11,
		},
		{
			name:      "zero limit means uncapped",
			limit:     0,
			writes:    []string{"hello world"},
			wantKept:  "hello world",
			wantTotal: 11,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			lw := &limitedWriter{w: &buf, limit: tt.limit}
			total := 0
			for _, w := range tt.writes {
				n, err := lw.Write([]byte(w))
				require.NoError(t, err)
				total += n
			}
			assert.Equal(t, tt.wantKept, buf.String())
			assert.Equal(t, tt.wantTotal, total, "writer must report full consumption")
		})
	}
}

func TestRuntimeHostConfigIsolationFloor(t *testing.T) {
	cfg := runtimeHostConfig()

	assert.EqualValues(t, MemoryLimitBytes, cfg.Resources.Memory)
	assert.EqualValues(t, MemoryLimitBytes, cfg.Resources.MemorySwap, "swap must not extend the memory cap")
	assert.EqualValues(t, CPUNanoLimit, cfg.Resources.NanoCPUs)
	require.NotNil(t, cfg.Resources.PidsLimit)
	assert.EqualValues(t, PidsLimit, *cfg.Resources.PidsLimit)

	assert.True(t, cfg.ReadonlyRootfs)
	assert.EqualValues(t, "none", cfg.NetworkMode)
	assert.Contains(t, cfg.SecurityOpt, "no-new-privileges:true")
	assert.Contains(t, cfg.CapDrop, "ALL")
	assert.Contains(t, cfg.Tmpfs, "/tmp")
	assert.Empty(t, cfg.Mounts, "no host paths may be mounted")
	assert.Empty(t, cfg.Binds, "no host paths may be mounted")
}

func TestFlattenEnv(t *testing.T) {
	assert.Nil(t, flattenEnv(nil))
	assert.Nil(t, flattenEnv(map[string]string{}))

	out := flattenEnv(map[string]string{"A": "1", "B": "two"})
	assert.Len(t, out, 2)
	assert.Contains(t, out, "A=1")
	assert.Contains(t, out, "B=two")
}

func TestTailLines(t *testing.T) {
	lines := []string{"a", "b", "c", "d"}
	assert.Equal(t, lines, tailLines(lines, 10))
	assert.Equal(t, []string{"c", "d"}, tailLines(lines, 2))
	assert.Empty(t, tailLines(nil, 3))
}

func TestBuildErrorDetail(t *testing.T) {
	withOutput := &BuildError{
		Tag:     "clowdy-project-abc-def",
		Message: "The command '/bin/sh -c pip install ...' returned a non-zero code: 1",
		Output:  []string{"ERROR: No matching distribution found for nonexistent-xyz==1.0"},
	}
	assert.Equal(t, "ERROR: No matching distribution found for nonexistent-xyz==1.0", withOutput.Detail())
	assert.Contains(t, withOutput.Error(), "clowdy-project-abc-def")

	bare := &BuildError{Tag: "t", Message: "daemon gone"}
	assert.Equal(t, "daemon gone", bare.Detail())
}
