package docker

import (
	"archive/tar"
	"bytes"
	"fmt"
	"sort"
)

// TarArchive builds an in-memory tar from (path, bytes) entries, sorted by
// path for a deterministic archive. Used both for build contexts and for
// injecting user code via PutArchive.
func TarArchive(files map[string][]byte) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		content := files[path]
		header := &tar.Header{
			Name: path,
			Mode: 0o644,
			Size: int64(len(content)),
		}
		if err := tw.WriteHeader(header); err != nil {
			return nil, fmt.Errorf("writing tar header for %s: %w", path, err)
		}
		if _, err := tw.Write(content); err != nil {
			return nil, fmt.Errorf("writing %s to tar: %w", path, err)
		}
	}

	if err := tw.Close(); err != nil {
		return nil, fmt.Errorf("closing tar writer: %w", err)
	}
	return &buf, nil
}

// TarFile builds a single-file tar archive.
func TarFile(path string, content []byte) (*bytes.Buffer, error) {
	return TarArchive(map[string][]byte{path: content})
}
