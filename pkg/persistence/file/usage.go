package file

import (
	"context"
	"time"

	"github.com/dukex/flowrun/pkg/models"
)

const usageDir = "usage"

type UsageRepository struct {
	p *Persistence
}

func usageFile(workspaceID, period string) string {
	return workspaceID + "_" + period + ".json"
}

func (ur *UsageRepository) Add(_ context.Context, workspaceID, period string, tasks, tokens int64) error {
	if err := validateID("workspace", workspaceID); err != nil {
		return err
	}

	ur.p.mu.Lock()
	defer ur.p.mu.Unlock()

	record := models.UsageRecord{WorkspaceID: workspaceID, Period: period}

	if _, err := ur.p.readJSON(usageDir, usageFile(workspaceID, period), &record); err != nil {
		return err
	}

	record.Tasks += tasks
	record.Tokens += tokens
	record.UpdatedAt = time.Now().UTC()

	return ur.p.writeJSON(usageDir, usageFile(workspaceID, period), &record)
}

func (ur *UsageRepository) Get(_ context.Context, workspaceID, period string) (*models.UsageRecord, error) {
	if err := validateID("workspace", workspaceID); err != nil {
		return nil, err
	}

	ur.p.mu.Lock()
	defer ur.p.mu.Unlock()

	record := models.UsageRecord{WorkspaceID: workspaceID, Period: period}

	if _, err := ur.p.readJSON(usageDir, usageFile(workspaceID, period), &record); err != nil {
		return nil, err
	}

	return &record, nil
}
