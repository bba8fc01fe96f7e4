package revisions

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

const (
	opCleanupOrphans = "revisions.cleanup_orphans"

	orphanScanBatchSize = 50
)

// NoteIDsWithRevisions pages ascending over note ids that hold at least one
// revision, resuming after afterNoteID. The maintenance sweep iterates this
// instead of the notes table.
func (service *Service) NoteIDsWithRevisions(ctx context.Context, afterNoteID string, limit int) ([]string, error) {
	noteIDs, err := store{db: service.db.WithContext(ctx)}.distinctNoteIDsAfter(afterNoteID, limit)
	if err != nil {
		return nil, newServiceError(opCleanupOrphans, reasonQueryFailed, err)
	}
	return noteIDs, nil
}

// CleanupOrphans deletes revisions and retention marks whose note no longer
// exists in the notes store at all. This is a safety net for notes removed
// through a path that skipped the normal tombstone cascade.
func (service *Service) CleanupOrphans(ctx context.Context) (int64, error) {
	var removed int64

	cursor := ""
	for {
		noteIDs, err := service.NoteIDsWithRevisions(ctx, cursor, orphanScanBatchSize)
		if err != nil {
			return removed, err
		}
		if len(noteIDs) == 0 {
			return removed, nil
		}

		existing, err := service.notes.ExistingNoteIDs(service.db.WithContext(ctx), noteIDs)
		if err != nil {
			service.logError(opCleanupOrphans, reasonQueryFailed, err)
			return removed, newServiceError(opCleanupOrphans, reasonQueryFailed, err)
		}
		known := make(map[string]bool, len(existing))
		for _, noteID := range existing {
			known[noteID] = true
		}

		var orphans []string
		for _, noteID := range noteIDs {
			if !known[noteID] {
				orphans = append(orphans, noteID)
			}
		}

		if len(orphans) > 0 {
			var batchRemoved int64
			transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
				st := store{db: transaction}
				batchRemoved = 0
				for _, noteID := range orphans {
					deleted, err := st.deleteAllForNote(noteID)
					if err != nil {
						return fmt.Errorf("delete orphan revisions for %s: %w", noteID, err)
					}
					batchRemoved += deleted
				}
				return st.deleteBookmarks(orphans)
			})
			if transactionError != nil {
				service.logError(opCleanupOrphans, "delete_failed", transactionError)
				return removed, newServiceError(opCleanupOrphans, "delete_failed", transactionError)
			}
			removed += batchRemoved
		}

		if len(noteIDs) < orphanScanBatchSize {
			return removed, nil
		}
		cursor = noteIDs[len(noteIDs)-1]
	}
}
