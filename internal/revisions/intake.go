package revisions

import (
	"context"

	"go.uber.org/zap"
)

const opApplyMutations = "revisions.apply_mutations"

// MutationField names a note field touched by a replication event.
type MutationField string

const (
	// MutationFieldTitle marks a title change.
	MutationFieldTitle MutationField = "title"
	// MutationFieldContent marks a body change.
	MutationFieldContent MutationField = "content"
)

// MutationEvent is one entry of a merged sync round reported by the
// replication transport after it has written the notes store.
type MutationEvent struct {
	NoteID    NoteID
	Field     MutationField
	Value     string
	Tombstone bool
}

// IntakeOutcome reports what happened for one note of a mutation batch.
type IntakeOutcome struct {
	NoteID     NoteID
	Tombstoned bool
	Capture    *CaptureOutcome
	Err        error
}

// pendingMutation folds a batch's events for one note: last value wins per
// field, and a tombstone anywhere in the batch wins over field changes.
type pendingMutation struct {
	tombstoned bool
	title      *string
	content    *string
}

// ApplyMutations consumes one sync round's batch. Tombstoned notes get their
// history cascaded away; touched notes get an auto capture with the throttle
// enforced, merging the batch's last-known field values with the stored
// note's untouched fields. One note's failure never blocks the rest of the
// batch; per-note errors ride back in the outcomes.
func (service *Service) ApplyMutations(ctx context.Context, batch []MutationEvent) []IntakeOutcome {
	pendingByNote := make(map[NoteID]*pendingMutation, len(batch))
	order := make([]NoteID, 0, len(batch))

	for _, event := range batch {
		pending, seen := pendingByNote[event.NoteID]
		if !seen {
			pending = &pendingMutation{}
			pendingByNote[event.NoteID] = pending
			order = append(order, event.NoteID)
		}
		if event.Tombstone {
			pending.tombstoned = true
			continue
		}
		value := event.Value
		switch event.Field {
		case MutationFieldTitle:
			pending.title = &value
		case MutationFieldContent:
			pending.content = &value
		}
	}

	outcomes := make([]IntakeOutcome, 0, len(order))
	for _, noteID := range order {
		outcome := service.applyNoteMutation(ctx, noteID, pendingByNote[noteID])
		if outcome.Err != nil {
			service.logError(opApplyMutations, "note_mutation_failed", outcome.Err,
				zap.String(fieldNoteID, noteID.String()))
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes
}

func (service *Service) applyNoteMutation(ctx context.Context, noteID NoteID, pending *pendingMutation) IntakeOutcome {
	if pending.tombstoned {
		if _, err := service.DeleteNoteHistory(ctx, noteID); err != nil {
			return IntakeOutcome{NoteID: noteID, Tombstoned: true, Err: err}
		}
		return IntakeOutcome{NoteID: noteID, Tombstoned: true}
	}

	if pending.title == nil && pending.content == nil {
		return IntakeOutcome{NoteID: noteID}
	}

	title := pending.title
	content := pending.content
	if title == nil || content == nil {
		// Fill untouched fields from the stored note so a title-only change
		// still snapshots the current body.
		stored, found, err := service.notes.GetNote(service.db.WithContext(ctx), noteID.String())
		if err != nil {
			return IntakeOutcome{NoteID: noteID, Err: newServiceError(opApplyMutations, reasonQueryFailed, err)}
		}
		if found {
			if title == nil {
				title = stored.Title
			}
			if content == nil {
				content = &stored.Content
			}
		}
	}

	capture, err := service.Capture(ctx, CaptureRequest{
		NoteID:          noteID,
		Title:           title,
		Content:         content,
		Kind:            RevisionKindAuto,
		EnforceThrottle: true,
	})
	if err != nil {
		return IntakeOutcome{NoteID: noteID, Err: err}
	}
	return IntakeOutcome{NoteID: noteID, Capture: &capture}
}
