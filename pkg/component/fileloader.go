package component

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golem-io/worker-executor/pkg/types"
)

// FileLoader stages a worker's declared initial files from the component
// object store into a per-worker scratch directory, which the host's WASI
// preopen surface (pkg/host) serves read-only (or read-write, per
// InitialFile.ReadOnly).
type FileLoader struct {
	baseDir string
	service *Service
}

func NewFileLoader(baseDir string, service *Service) *FileLoader {
	return &FileLoader{baseDir: baseDir, service: service}
}

// WorkerRoot returns the path of a worker's scratch directory; it does not
// create the directory (Stage does).
func (l *FileLoader) WorkerRoot(workerID types.WorkerId) string {
	return filepath.Join(l.baseDir, workerID.ComponentId.String(), workerID.WorkerName)
}

// Stage resolves the initial files declared for (componentID, version) and
// writes them under the worker's scratch directory, returning the combined
// content hash recorded as the Create oplog entry's initial_files_hash.
func (l *FileLoader) Stage(ctx context.Context, workerID types.WorkerId, componentID types.ComponentId, version types.ComponentVersion) (string, error) {
	files, err := l.service.Files(ctx, componentID, version)
	if err != nil {
		return "", fmt.Errorf("resolving initial files: %w", err)
	}

	root := l.WorkerRoot(workerID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("creating worker scratch dir %s: %w", root, err)
	}

	combined := make([]byte, 0, 32*len(files))
	for _, f := range files {
		dest := filepath.Join(root, filepath.Clean("/"+f.Path))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return "", fmt.Errorf("staging %s: %w", f.Path, err)
		}
		mode := os.FileMode(0o644)
		if f.ReadOnly {
			mode = 0o444
		}
		if err := os.WriteFile(dest, f.Data, mode); err != nil {
			return "", fmt.Errorf("writing staged file %s: %w", f.Path, err)
		}
		combined = append(combined, f.Hash()...)
	}
	return combinedHash(combined), nil
}

func combinedHash(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
