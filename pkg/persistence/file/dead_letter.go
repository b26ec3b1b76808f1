package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const deadLettersDir = "dead_letters"

// DeadLetterRepository writes one failed_{execution_id}.json file per failed run.
type DeadLetterRepository struct {
	p *Persistence
}

func deadLetterFile(executionID string) string {
	return "failed_" + executionID + ".json"
}

func (dr *DeadLetterRepository) Save(_ context.Context, deadLetter *models.DeadLetter) error {
	if err := validateID("execution", deadLetter.ExecutionID); err != nil {
		return err
	}

	dr.p.mu.Lock()
	defer dr.p.mu.Unlock()

	return dr.p.writeJSON(deadLettersDir, deadLetterFile(deadLetter.ExecutionID), deadLetter)
}

func (dr *DeadLetterRepository) GetByExecutionID(_ context.Context, executionID string) (*models.DeadLetter, error) {
	if err := validateID("execution", executionID); err != nil {
		return nil, err
	}

	dr.p.mu.Lock()
	defer dr.p.mu.Unlock()

	var deadLetter models.DeadLetter

	found, err := dr.p.readJSON(deadLettersDir, deadLetterFile(executionID), &deadLetter)
	if err != nil {
		return nil, err
	}

	if !found {
		return nil, persistence.NewDeadLetterError("GetByExecutionID", executionID, persistence.ErrDeadLetterNotFound)
	}

	return &deadLetter, nil
}

func (dr *DeadLetterRepository) List(_ context.Context, limit int) ([]*models.DeadLetter, error) {
	dr.p.mu.Lock()
	defer dr.p.mu.Unlock()

	files, err := dr.p.listJSON(deadLettersDir)
	if err != nil {
		return nil, err
	}

	deadLetters := make([]*models.DeadLetter, 0, len(files))

	for _, file := range files {
		var deadLetter models.DeadLetter

		if _, err := dr.p.readJSON(deadLettersDir, file, &deadLetter); err != nil {
			return nil, err
		}

		deadLetters = append(deadLetters, &deadLetter)
	}

	sort.Slice(deadLetters, func(i, j int) bool {
		return deadLetters[i].CreatedAt.After(deadLetters[j].CreatedAt)
	})

	if limit = persistence.NormalizeLimit(limit); len(deadLetters) > limit {
		deadLetters = deadLetters[:limit]
	}

	return deadLetters, nil
}

func (dr *DeadLetterRepository) Delete(_ context.Context, executionID string) error {
	if err := validateID("execution", executionID); err != nil {
		return err
	}

	dr.p.mu.Lock()
	defer dr.p.mu.Unlock()

	err := os.Remove(filepath.Join(dr.p.root, deadLettersDir, deadLetterFile(executionID)))
	if errors.Is(err, fs.ErrNotExist) {
		return persistence.NewDeadLetterError("Delete", executionID, persistence.ErrDeadLetterNotFound)
	}

	if err != nil {
		return fmt.Errorf("failed to delete dead letter %s: %w", executionID, err)
	}

	return nil
}
