// internal/services/history_recorder.go
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/javajoker/export-registry/internal/models"
	"github.com/javajoker/export-registry/internal/repository"
)

// HistoryRecorder writes the case audit trail. It offers no way to edit or
// remove an entry.
type HistoryRecorder struct {
	store repository.HistoryRepository
	now   func() time.Time
}

// NewHistoryRecorder stamps entries with now, or time.Now when now is nil.
func NewHistoryRecorder(store repository.HistoryRepository, now func() time.Time) *HistoryRecorder {
	if now == nil {
		now = time.Now
	}
	return &HistoryRecorder{store: store, now: now}
}

// Record appends one entry through tx, which must be the store of the
// transaction that commits the transition itself.
func (r *HistoryRecorder) Record(ctx context.Context, tx repository.HistoryRepository, caseID uuid.UUID, from, to models.CaseStatus, action models.HistoryAction, comment string, actorID uuid.UUID) (*models.CaseHistoryEntry, error) {
	entry := &models.CaseHistoryEntry{
		CaseID:    caseID,
		OldStatus: from,
		NewStatus: to,
		Action:    action,
		Comment:   comment,
		ActorID:   actorID,
		CreatedAt: r.now().UTC(),
	}
	if err := tx.AppendHistory(ctx, entry); err != nil {
		return nil, fmt.Errorf("append %s history: %w", action, err)
	}
	return entry, nil
}

// List returns the trail newest first.
func (r *HistoryRecorder) List(ctx context.Context, caseID uuid.UUID) ([]models.CaseHistoryEntry, error) {
	return r.store.ListHistory(ctx, caseID)
}
