package file

import (
	"context"
	"sort"

	"github.com/dukex/flowrun/pkg/models"
	"github.com/dukex/flowrun/pkg/persistence"
)

const auditLogsDir = "audit_logs"

type AuditLogRepository struct {
	p *Persistence
}

func (ar *AuditLogRepository) Append(_ context.Context, entry *models.AuditLog) error {
	if err := validateID("audit log", entry.ID); err != nil {
		return err
	}

	ar.p.mu.Lock()
	defer ar.p.mu.Unlock()

	return ar.p.writeJSON(auditLogsDir, entry.ID+".json", entry)
}

func (ar *AuditLogRepository) List(_ context.Context, filter persistence.AuditFilter) ([]*models.AuditLog, error) {
	ar.p.mu.Lock()
	defer ar.p.mu.Unlock()

	files, err := ar.p.listJSON(auditLogsDir)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.AuditLog, 0)

	for _, file := range files {
		var entry models.AuditLog

		if _, err := ar.p.readJSON(auditLogsDir, file, &entry); err != nil {
			return nil, err
		}

		if filter.UserID != "" && entry.UserID != filter.UserID {
			continue
		}

		if filter.WorkspaceID != "" && entry.WorkspaceID != filter.WorkspaceID {
			continue
		}

		if filter.Action != "" && entry.Action != filter.Action {
			continue
		}

		entries = append(entries, &entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if limit := persistence.NormalizeLimit(filter.Limit); len(entries) > limit {
		entries = entries[:limit]
	}

	return entries, nil
}
