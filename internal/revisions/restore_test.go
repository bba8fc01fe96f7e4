package revisions

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRestoreRevisionRoundTrip(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now().Unix()

	harness.seedNote(t, noteID, pointerTo("Title B"), "content B")
	harness.seedRevision(t, "rev-a", noteID, pointerTo("Title A"), "content A", RevisionKindAuto, base-120)

	result, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-a"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Note.Content != "content A" {
		t.Fatalf("expected restored content, got %q", result.Note.Content)
	}
	if result.Note.Title == nil || *result.Note.Title != "Title A" {
		t.Fatalf("expected restored title, got %v", result.Note.Title)
	}
	if result.PreRestoreRevisionID == "" {
		t.Fatalf("expected a pre-restore revision id")
	}

	if got := harness.noteContent(t, noteID); got != "content A" {
		t.Fatalf("live note not rewritten, got %q", got)
	}

	// The safety snapshot preserves the pre-restore state.
	safety, err := harness.service.GetRevision(context.Background(), mustNoteID(t, noteID), result.PreRestoreRevisionID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if safety.Content != "content B" {
		t.Fatalf("expected safety snapshot of old content, got %q", safety.Content)
	}
	if safety.Kind != RevisionKindPreRestore {
		t.Fatalf("expected pre-restore kind, got %s", safety.Kind)
	}

	// The restored-from revision is untouched.
	original, err := harness.service.GetRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-a"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if original.Content != "content A" {
		t.Fatalf("restored-from revision mutated: %q", original.Content)
	}

	events := harness.notifier.recorded()
	if len(events) != 1 || events[0].noteID != noteID {
		t.Fatalf("expected one refresh event for %s, got %+v", noteID, events)
	}
}

func TestRestoreRevisionVersionConflictLeavesNoteUntouched(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now().Unix()

	harness.seedNote(t, noteID, nil, "current")
	harness.seedRevision(t, "rev-a", noteID, nil, "past", RevisionKindAuto, base-60)

	stale := base - 500
	_, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-a"), &stale)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("expected ErrVersionConflict, got %v", err)
	}

	if got := harness.noteContent(t, noteID); got != "current" {
		t.Fatalf("note mutated on conflict: %q", got)
	}
	if count := harness.revisionCount(t, noteID); count != 1 {
		t.Fatalf("expected no safety snapshot on conflict, got %d rows", count)
	}
	if events := harness.notifier.recorded(); len(events) != 0 {
		t.Fatalf("expected no refresh events, got %+v", events)
	}
}

func TestRestoreRevisionMatchingPreconditionSucceeds(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now().Unix()

	harness.seedNote(t, noteID, nil, "current")
	harness.seedRevision(t, "rev-a", noteID, nil, "past", RevisionKindAuto, base-60)

	expected := base
	if _, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-a"), &expected); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := harness.noteContent(t, noteID); got != "past" {
		t.Fatalf("expected restore to apply, got %q", got)
	}
}

func TestRestoreRevisionMissingNote(t *testing.T) {
	harness := newTestHarness(t)

	_, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, "note-missing"), mustRevisionID(t, "rev-a"), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreRevisionMissingRevision(t *testing.T) {
	harness := newTestHarness(t)
	harness.seedNote(t, "note-1", nil, "current")

	_, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, "note-1"), mustRevisionID(t, "rev-missing"), nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRestoreRevisionCorruptTargetAborts(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now().Unix()

	harness.seedNote(t, noteID, nil, "current")
	corrupt := Revision{
		RevisionID:       "rev-bad",
		NoteID:           noteID,
		ContentGZ:        []byte("not gzip"),
		ContentHash:      "deadbeef",
		Kind:             RevisionKindAuto,
		CreatedAtSeconds: base - 60,
	}
	if err := harness.db.Create(&corrupt).Error; err != nil {
		t.Fatalf("failed to seed corrupt revision: %v", err)
	}

	_, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-bad"), nil)
	if !errors.Is(err, ErrCorruptPayload) {
		t.Fatalf("expected ErrCorruptPayload, got %v", err)
	}

	if got := harness.noteContent(t, noteID); got != "current" {
		t.Fatalf("note mutated on corrupt restore: %q", got)
	}
	if count := harness.revisionCount(t, noteID); count != 1 {
		t.Fatalf("expected rollback of any snapshot, got %d rows", count)
	}
}

func TestRestoreRevisionAdvancesUpdatedAt(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now().Unix()

	harness.seedNote(t, noteID, nil, "current")
	harness.seedRevision(t, "rev-a", noteID, nil, "past", RevisionKindAuto, base-60)

	harness.clock.Advance(90 * time.Second)
	result, err := harness.service.RestoreRevision(context.Background(), mustNoteID(t, noteID), mustRevisionID(t, "rev-a"), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Note.UpdatedAtSeconds != base+90 {
		t.Fatalf("expected updated_at %d, got %d", base+90, result.Note.UpdatedAtSeconds)
	}
}
