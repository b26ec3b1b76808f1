// Package file provides file-based persistence for run records. It is meant
// for single-process development setups.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dukex/flowrun/pkg/persistence"
)

// Persistence implements the persistence.Persistence interface using the file system.
type Persistence struct {
	root string
	mu   sync.Mutex

	executionRepo     *ExecutionRepository
	nodeExecutionRepo *NodeExecutionRepository
	deadLetterRepo    *DeadLetterRepository
	auditLogRepo      *AuditLogRepository
	usageRepo         *UsageRepository
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	p := &Persistence{root: cleanRoot}
	p.executionRepo = &ExecutionRepository{p: p}
	p.nodeExecutionRepo = &NodeExecutionRepository{p: p}
	p.deadLetterRepo = &DeadLetterRepository{p: p}
	p.auditLogRepo = &AuditLogRepository{p: p}
	p.usageRepo = &UsageRepository{p: p}

	return p
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck checks if the file persistence layer is healthy by verifying the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

func (fp *Persistence) Executions() persistence.ExecutionRepository {
	return fp.executionRepo
}

func (fp *Persistence) NodeExecutions() persistence.NodeExecutionRepository {
	return fp.nodeExecutionRepo
}

func (fp *Persistence) DeadLetters() persistence.DeadLetterRepository {
	return fp.deadLetterRepo
}

func (fp *Persistence) AuditLogs() persistence.AuditLogRepository {
	return fp.auditLogRepo
}

func (fp *Persistence) Usage() persistence.UsageRepository {
	return fp.usageRepo
}

// validateID validates that an identifier is safe for file operations.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%s ID cannot be empty", kind)
	}

	// Check for path traversal attempts
	if strings.Contains(id, "..") || strings.Contains(id, "/") || strings.Contains(id, "\\") {
		return fmt.Errorf("%s ID contains invalid characters", kind)
	}

	return nil
}

// writeJSON atomically replaces dir/name with the JSON encoding of v.
func (fp *Persistence) writeJSON(dir, name string, v any) error {
	dirPath := filepath.Join(fp.root, dir)

	err := os.MkdirAll(dirPath, 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}

	tmp, err := os.CreateTemp(dirPath, "."+name+".*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for %s: %w", name, err)
	}

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())

		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	if err := os.Rename(tmp.Name(), filepath.Join(dirPath, name)); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}

	return nil
}

// readJSON decodes dir/name into v. It reports false when the file does not exist.
func (fp *Persistence) readJSON(dir, name string, v any) (bool, error) {
	data, err := os.ReadFile(filepath.Join(fp.root, dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to read %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", name, err)
	}

	return true, nil
}

// listJSON returns the names of the JSON files in dir.
func (fp *Persistence) listJSON(dir string) ([]string, error) {
	files, err := fs.Glob(os.DirFS(filepath.Join(fp.root, dir)), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	return files, nil
}
