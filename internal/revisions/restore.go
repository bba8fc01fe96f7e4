package revisions

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opRestore = "revisions.restore"

	reasonNoteLookupFailed     = "note_lookup_failed"
	reasonRevisionLookupFailed = "revision_lookup_failed"
	reasonSafetyCaptureFailed  = "safety_capture_failed"
	reasonNoteUpdateFailed     = "note_update_failed"
)

// RestoreResult reports the note state after a successful restore and the
// safety snapshot taken right before it.
type RestoreResult struct {
	Note                 NoteRecord
	PreRestoreRevisionID RevisionID
}

// RestoreRevision swaps the live note content for a past revision's content
// in one transaction. A pre-restore snapshot of the current state is always
// written first, even when it duplicates the latest revision, because it
// marks a distinct event. expectedUpdatedAt, when supplied, is an optimistic
// concurrency precondition against the live note's updated_at.
//
// The restored-from revision is untouched: restoring only adds rows and
// rewrites the live note.
func (service *Service) RestoreRevision(ctx context.Context, noteID NoteID, revisionID RevisionID, expectedUpdatedAt *int64) (RestoreResult, error) {
	var result RestoreResult

	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		note, found, err := service.notes.GetNote(transaction, noteID.String())
		if err != nil {
			service.logError(opRestore, reasonNoteLookupFailed, err, zap.String(fieldNoteID, noteID.String()))
			return newServiceError(opRestore, reasonNoteLookupFailed, err)
		}
		if !found {
			return fmt.Errorf("%w: note %s", ErrNotFound, noteID.String())
		}

		if expectedUpdatedAt != nil && *expectedUpdatedAt != note.UpdatedAtSeconds {
			return fmt.Errorf("%w: note %s changed at %d, expected %d",
				ErrVersionConflict, noteID.String(), note.UpdatedAtSeconds, *expectedUpdatedAt)
		}

		st := store{db: transaction}
		target, found, err := st.get(noteID.String(), revisionID.String())
		if err != nil {
			service.logError(opRestore, reasonRevisionLookupFailed, err,
				zap.String(fieldNoteID, noteID.String()),
				zap.String(fieldRevisionID, revisionID.String()))
			return newServiceError(opRestore, reasonRevisionLookupFailed, err)
		}
		if !found {
			return fmt.Errorf("%w: revision %s", ErrNotFound, revisionID.String())
		}

		restoredContent, err := decodeContent(target.ContentGZ)
		if err != nil {
			return err
		}

		currentEncoded, err := encodeContent(note.Content)
		if err != nil {
			service.logError(opRestore, reasonSafetyCaptureFailed, err, zap.String(fieldNoteID, noteID.String()))
			return newServiceError(opRestore, reasonSafetyCaptureFailed, err)
		}
		safety, err := service.captureInTx(transaction, noteID, note.Title, currentEncoded, RevisionKindPreRestore, captureOptions{
			skipDuplicateCheck: true,
		})
		if err != nil {
			return err
		}

		note.Title = target.Title
		note.Content = restoredContent
		note.UpdatedAtSeconds = service.clock().UTC().Unix()
		if err := service.notes.UpdateNote(transaction, note); err != nil {
			service.logError(opRestore, reasonNoteUpdateFailed, err, zap.String(fieldNoteID, noteID.String()))
			return newServiceError(opRestore, reasonNoteUpdateFailed, err)
		}

		result = RestoreResult{
			Note:                 note,
			PreRestoreRevisionID: safety.RevisionID,
		}
		return nil
	})
	if transactionError != nil {
		return RestoreResult{}, transactionError
	}

	if service.notifier != nil {
		service.notifier.NotifyRevisionRestored(service.tenantID, noteID.String())
	}
	return result, nil
}
