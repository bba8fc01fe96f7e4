package revisions

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opCapture = "revisions.capture"

	reasonEncodeFailed       = "encode_failed"
	reasonLatestLookupFailed = "latest_lookup_failed"
	reasonThrottleFailed     = "throttle_lookup_failed"
	reasonIDGenerationFailed = "id_generation_failed"
	reasonInsertFailed       = "insert_failed"
	reasonRetentionFailed    = "retention_failed"

	// autoThrottleWindow bounds how often transport-driven captures can write
	// for one note, independent of content dedup.
	autoThrottleWindow = 5 * time.Minute
)

// Capture persists one snapshot of a note unless the duplicate check or the
// auto-capture throttle suppresses it. A successful insert also runs a
// retention pass inline when the cooldown gate says one is due, inside the
// same transaction, so storage growth stays bounded without relying on the
// background sweep.
func (service *Service) Capture(ctx context.Context, request CaptureRequest) (CaptureOutcome, error) {
	kind, err := NewRevisionKind(request.Kind.String())
	if err != nil {
		return CaptureOutcome{}, err
	}

	encoded, err := encodeContent(normalizeContent(request.Content))
	if err != nil {
		service.logError(opCapture, reasonEncodeFailed, err, zap.String(fieldNoteID, request.NoteID.String()))
		return CaptureOutcome{}, newServiceError(opCapture, reasonEncodeFailed, err)
	}

	var outcome CaptureOutcome
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		decided, err := service.captureInTx(transaction, request.NoteID, request.Title, encoded, kind, captureOptions{
			skipDuplicateCheck: request.SkipDuplicateCheck,
			enforceThrottle:    request.EnforceThrottle,
		})
		if err != nil {
			return err
		}
		outcome = decided
		return nil
	})
	if transactionError != nil {
		return CaptureOutcome{}, transactionError
	}
	return outcome, nil
}

type captureOptions struct {
	skipDuplicateCheck bool
	enforceThrottle    bool
}

// captureInTx applies the capture policy on an open transaction. The restore
// coordinator reuses it so pre-restore snapshots share the restore's
// transaction boundary.
func (service *Service) captureInTx(transaction *gorm.DB, noteID NoteID, title *string, encoded encodedContent, kind RevisionKind, options captureOptions) (CaptureOutcome, error) {
	st := store{db: transaction}
	now := service.clock().UTC()

	if !options.skipDuplicateCheck {
		latest, found, err := st.latest(noteID.String())
		if err != nil {
			service.logError(opCapture, reasonLatestLookupFailed, err, zap.String(fieldNoteID, noteID.String()))
			return CaptureOutcome{}, newServiceError(opCapture, reasonLatestLookupFailed, err)
		}
		if found && latest.ContentHash == encoded.hash && titlesEqual(latest.Title, title) {
			return CaptureOutcome{Status: CaptureStatusSkippedDuplicate}, nil
		}
	}

	if options.enforceThrottle && kind == RevisionKindAuto {
		since := now.Add(-autoThrottleWindow).Unix()
		throttled, err := st.autoRevisionSince(noteID.String(), since)
		if err != nil {
			service.logError(opCapture, reasonThrottleFailed, err, zap.String(fieldNoteID, noteID.String()))
			return CaptureOutcome{}, newServiceError(opCapture, reasonThrottleFailed, err)
		}
		if throttled {
			return CaptureOutcome{Status: CaptureStatusSkippedThrottled}, nil
		}
	}

	revisionID, err := service.idProvider.NewID()
	if err != nil {
		service.logError(opCapture, reasonIDGenerationFailed, err, zap.String(fieldNoteID, noteID.String()))
		return CaptureOutcome{}, newServiceError(opCapture, reasonIDGenerationFailed, err)
	}

	row := Revision{
		RevisionID:       revisionID,
		NoteID:           noteID.String(),
		Title:            title,
		ContentGZ:        encoded.compressed,
		ContentHash:      encoded.hash,
		Kind:             kind,
		RawSize:          encoded.rawSize,
		StoredSize:       encoded.storedSize,
		CreatedAtSeconds: now.Unix(),
	}
	if err := st.insert(&row); err != nil {
		service.logError(opCapture, reasonInsertFailed, err, zap.String(fieldNoteID, noteID.String()))
		return CaptureOutcome{}, newServiceError(opCapture, reasonInsertFailed, err)
	}

	outcome := CaptureOutcome{
		Status:     CaptureStatusCreated,
		RevisionID: RevisionID(revisionID),
	}

	due, err := service.retentionDue(st, noteID.String(), now)
	if err != nil {
		service.logError(opCapture, reasonRetentionFailed, err, zap.String(fieldNoteID, noteID.String()))
		return CaptureOutcome{}, newServiceError(opCapture, reasonRetentionFailed, err)
	}
	if due {
		pruned, err := service.pruneInTx(st, noteID.String(), now)
		if err != nil {
			service.logError(opCapture, reasonRetentionFailed, err, zap.String(fieldNoteID, noteID.String()))
			return CaptureOutcome{}, newServiceError(opCapture, reasonRetentionFailed, err)
		}
		outcome.PrunedRows = pruned
	}

	return outcome, nil
}

// DeleteNoteHistory removes every revision and the retention mark for a note.
// Used for tombstone cascades and as the orphan-cleanup primitive.
func (service *Service) DeleteNoteHistory(ctx context.Context, noteID NoteID) (int64, error) {
	const op = "revisions.delete_note_history"

	var removed int64
	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		st := store{db: transaction}
		deleted, err := st.deleteAllForNote(noteID.String())
		if err != nil {
			return fmt.Errorf("delete revisions: %w", err)
		}
		if err := st.deleteBookmark(noteID.String()); err != nil {
			return fmt.Errorf("delete bookmark: %w", err)
		}
		removed = deleted
		return nil
	})
	if transactionError != nil {
		service.logError(op, "delete_failed", transactionError, zap.String(fieldNoteID, noteID.String()))
		return 0, newServiceError(op, "delete_failed", transactionError)
	}
	return removed, nil
}
