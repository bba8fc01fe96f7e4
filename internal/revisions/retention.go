package revisions

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opPrune = "revisions.prune"

	// retentionCooldown gates how often retention is evaluated per note.
	retentionCooldown = 60 * time.Minute
	// densityThinningAge is the age past which auto and pre-restore revisions
	// collapse to one per UTC calendar day.
	densityThinningAge = 48 * time.Hour
	// maxRevisionsPerNote is a hard ceiling across all kinds and ages.
	maxRevisionsPerNote = 200

	dayKeyLayout = "2006-01-02"
)

// retentionDue reports whether the cooldown gate allows a retention pass:
// true when no mark exists or the mark is older than the cooldown.
func (service *Service) retentionDue(st store, noteID string, now time.Time) (bool, error) {
	prunedAt, found, err := st.bookmarkFor(noteID)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	return now.Unix()-prunedAt > int64(retentionCooldown/time.Second), nil
}

// Prune applies age/density thinning and the hard cap to one note's history,
// then resets the cooldown mark regardless of how many rows were removed.
func (service *Service) Prune(ctx context.Context, noteID NoteID) (int64, error) {
	var removed int64
	now := service.clock().UTC()

	transactionError := service.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		deleted, err := service.pruneInTx(store{db: transaction}, noteID.String(), now)
		if err != nil {
			return err
		}
		removed = deleted
		return nil
	})
	if transactionError != nil {
		service.logError(opPrune, "prune_failed", transactionError, zap.String(fieldNoteID, noteID.String()))
		return 0, newServiceError(opPrune, "prune_failed", transactionError)
	}
	return removed, nil
}

func (service *Service) pruneInTx(st store, noteID string, now time.Time) (int64, error) {
	rows, err := st.allForNote(noteID)
	if err != nil {
		return 0, err
	}

	deleteIDs := thinningVictims(rows, now)
	remaining := withoutIDs(rows, deleteIDs)
	deleteIDs = append(deleteIDs, capVictims(remaining)...)

	removed, err := st.deleteMany(deleteIDs)
	if err != nil {
		return 0, err
	}
	if err := st.setBookmark(noteID, now.Unix()); err != nil {
		return 0, err
	}
	return removed, nil
}

// thinningVictims selects age/density deletions: among auto and pre-restore
// revisions older than densityThinningAge, every row but the newest of its
// UTC calendar day. Manual checkpoints are exempt. Rows must be ordered
// newest-first, so the first candidate seen per day is the survivor.
func thinningVictims(rows []Revision, now time.Time) []string {
	cutoff := now.Add(-densityThinningAge).Unix()
	survivorByDay := make(map[string]bool)

	var victims []string
	for _, row := range rows {
		if row.Kind == RevisionKindManual {
			continue
		}
		if row.CreatedAtSeconds >= cutoff {
			continue
		}
		day := time.Unix(row.CreatedAtSeconds, 0).UTC().Format(dayKeyLayout)
		if survivorByDay[day] {
			victims = append(victims, row.RevisionID)
			continue
		}
		survivorByDay[day] = true
	}
	return victims
}

// capVictims selects hard-cap deletions: everything past the newest
// maxRevisionsPerNote rows, any kind, any age. Rows must be ordered
// newest-first.
func capVictims(rows []Revision) []string {
	if len(rows) <= maxRevisionsPerNote {
		return nil
	}
	excess := rows[maxRevisionsPerNote:]
	victims := make([]string, 0, len(excess))
	for _, row := range excess {
		victims = append(victims, row.RevisionID)
	}
	return victims
}

func withoutIDs(rows []Revision, excludeIDs []string) []Revision {
	if len(excludeIDs) == 0 {
		return rows
	}
	excluded := make(map[string]bool, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = true
	}
	kept := make([]Revision, 0, len(rows))
	for _, row := range rows {
		if excluded[row.RevisionID] {
			continue
		}
		kept = append(kept, row)
	}
	return kept
}
