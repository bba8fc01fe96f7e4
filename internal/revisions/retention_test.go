package revisions

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestPruneThinsOldAutoRevisionsToOnePerDay(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now()

	// Five auto revisions on one UTC day, three days old.
	dayStart := base.Add(-72 * time.Hour).Truncate(24 * time.Hour)
	for seq := 0; seq < 5; seq++ {
		harness.seedRevision(t,
			fmt.Sprintf("old-%d", seq), noteID, nil,
			fmt.Sprintf("draft %d", seq),
			RevisionKindAuto,
			dayStart.Add(time.Duration(seq)*time.Hour).Unix())
	}

	removed, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 4 {
		t.Fatalf("expected 4 deletions, got %d", removed)
	}

	page, err := harness.service.ListRevisions(context.Background(), mustNoteID(t, noteID), 10, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page.Items) != 1 {
		t.Fatalf("expected 1 survivor, got %d", len(page.Items))
	}
	if page.Items[0].RevisionID != "old-4" {
		t.Fatalf("expected the newest of the day to survive, got %s", page.Items[0].RevisionID)
	}
}

func TestPruneKeepsOneSurvivorPerDay(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now()

	// Two old days, two autos each.
	for day := 0; day < 2; day++ {
		dayStart := base.Add(-time.Duration(96+24*day) * time.Hour).Truncate(24 * time.Hour)
		for seq := 0; seq < 2; seq++ {
			harness.seedRevision(t,
				fmt.Sprintf("d%d-%d", day, seq), noteID, nil,
				fmt.Sprintf("day %d draft %d", day, seq),
				RevisionKindAuto,
				dayStart.Add(time.Duration(seq)*time.Hour).Unix())
		}
	}

	removed, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected 2 deletions, got %d", removed)
	}
	if count := harness.revisionCount(t, noteID); count != 2 {
		t.Fatalf("expected 2 survivors, got %d", count)
	}
}

func TestPruneExemptsManualRevisionsFromThinning(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	dayStart := harness.clock.Now().Add(-72 * time.Hour).Truncate(24 * time.Hour)

	for seq := 0; seq < 3; seq++ {
		harness.seedRevision(t,
			fmt.Sprintf("manual-%d", seq), noteID, nil,
			fmt.Sprintf("checkpoint %d", seq),
			RevisionKindManual,
			dayStart.Add(time.Duration(seq)*time.Hour).Unix())
	}

	removed, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no deletions, got %d", removed)
	}
	if count := harness.revisionCount(t, noteID); count != 3 {
		t.Fatalf("expected 3 manual revisions intact, got %d", count)
	}
}

func TestPruneLeavesRecentAutoRevisionsAlone(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now()

	for seq := 0; seq < 4; seq++ {
		harness.seedRevision(t,
			fmt.Sprintf("recent-%d", seq), noteID, nil,
			fmt.Sprintf("draft %d", seq),
			RevisionKindAuto,
			base.Add(-time.Duration(seq)*time.Hour).Unix())
	}

	removed, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no deletions under the age cutoff, got %d", removed)
	}
}

func TestPruneEnforcesHardCap(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	base := harness.clock.Now()

	// 250 recent manual revisions: thinning exempt, cap still applies.
	for seq := 0; seq < 250; seq++ {
		harness.seedRevision(t,
			fmt.Sprintf("rev-%04d", seq), noteID, nil,
			fmt.Sprintf("checkpoint %d", seq),
			RevisionKindManual,
			base.Add(-time.Duration(seq)*time.Minute).Unix())
	}

	removed, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 50 {
		t.Fatalf("expected 50 deletions, got %d", removed)
	}
	if count := harness.revisionCount(t, noteID); count != 200 {
		t.Fatalf("expected 200 survivors, got %d", count)
	}

	// The oldest rows are the ones that went.
	var gone int64
	if err := harness.db.Model(&Revision{}).
		Where("note_id = ? AND revision_id >= ?", noteID, "rev-0200").
		Count(&gone).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if gone != 0 {
		t.Fatalf("expected oldest 50 rows deleted, %d remain", gone)
	}
}

func TestPruneSetsBookmarkEvenWhenNothingDeleted(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	harness.seedRevision(t, "rev-1", noteID, nil, "body", RevisionKindAuto, harness.clock.Now().Unix())

	if _, err := harness.service.Prune(context.Background(), mustNoteID(t, noteID)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var mark RetentionMark
	if err := harness.db.Where("note_id = ?", noteID).Take(&mark).Error; err != nil {
		t.Fatalf("expected retention mark: %v", err)
	}
	if mark.LastPrunedAtSeconds != harness.clock.Now().UTC().Unix() {
		t.Fatalf("unexpected mark timestamp %d", mark.LastPrunedAtSeconds)
	}
}

func TestRetentionDueRespectsCooldown(t *testing.T) {
	harness := newTestHarness(t)
	noteID := "note-1"
	st := store{db: harness.db}

	due, err := harness.service.retentionDue(st, noteID, harness.clock.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Fatalf("expected retention due with no mark")
	}

	if err := st.setBookmark(noteID, harness.clock.Now().Unix()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	due, err = harness.service.retentionDue(st, noteID, harness.clock.Now().Add(30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if due {
		t.Fatalf("expected cooldown to suppress retention")
	}

	due, err = harness.service.retentionDue(st, noteID, harness.clock.Now().Add(61*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !due {
		t.Fatalf("expected retention due after cooldown")
	}
}
