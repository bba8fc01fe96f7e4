package revisions

import (
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	columnNoteID            = "note_id"
	columnCreatedAt         = "created_at_s"
	columnRevisionID        = "revision_id"
	orderNewestFirst        = columnCreatedAt + " DESC, " + columnRevisionID + " DESC"
	queryNote               = columnNoteID + " = ?"
	queryNoteRevision       = columnNoteID + " = ? AND " + columnRevisionID + " = ?"
	queryNoteKindAfter      = columnNoteID + " = ? AND kind = ? AND " + columnCreatedAt + " > ?"
	queryBeforeCursor       = columnNoteID + " = ? AND (" + columnCreatedAt + " < ? OR (" + columnCreatedAt + " = ? AND " + columnRevisionID + " < ?))"
	queryNoteIDAfter        = columnNoteID + " > ?"
	queryRevisionIDIn       = columnRevisionID + " IN ?"
	queryNoteIDIn           = columnNoteID + " IN ?"
	orderNoteIDAsc          = columnNoteID + " ASC"
	defaultNoteIDBatchLimit = 50
)

// store issues raw revision-table operations against one tenant database
// handle. Handles may be the base connection or an open transaction; callers
// own transaction boundaries.
type store struct {
	db *gorm.DB
}

func (s store) insert(revision *Revision) error {
	return s.db.Create(revision).Error
}

// latest returns the most recent revision for a note under the
// (created_at_s DESC, revision_id DESC) ordering used by all history queries.
func (s store) latest(noteID string) (Revision, bool, error) {
	var row Revision
	err := s.db.Where(queryNote, noteID).Order(orderNewestFirst).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Revision{}, false, nil
	}
	if err != nil {
		return Revision{}, false, err
	}
	return row, true, nil
}

// list returns one keyset page. Pages already fetched stay stable when new
// revisions are inserted between fetches because qualification is strictly
// "sorts before the cursor", never row offsets.
func (s store) list(noteID string, limit int, cursor *ListCursor) ([]Revision, error) {
	query := s.db.Where(queryNote, noteID)
	if cursor != nil {
		query = s.db.Where(queryBeforeCursor, noteID, cursor.CreatedAtSeconds, cursor.CreatedAtSeconds, cursor.RevisionID)
	}
	var rows []Revision
	if err := query.Order(orderNewestFirst).Limit(limit).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// get performs a point lookup scoped to the owning note. Revision identifiers
// belonging to another note resolve as not found.
func (s store) get(noteID, revisionID string) (Revision, bool, error) {
	var row Revision
	err := s.db.Where(queryNoteRevision, noteID, revisionID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Revision{}, false, nil
	}
	if err != nil {
		return Revision{}, false, err
	}
	return row, true, nil
}

func (s store) autoRevisionSince(noteID string, sinceSeconds int64) (bool, error) {
	var count int64
	err := s.db.Model(&Revision{}).
		Where(queryNoteKindAfter, noteID, RevisionKindAuto, sinceSeconds).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s store) deleteMany(revisionIDs []string) (int64, error) {
	if len(revisionIDs) == 0 {
		return 0, nil
	}
	result := s.db.Where(queryRevisionIDIn, revisionIDs).Delete(&Revision{})
	return result.RowsAffected, result.Error
}

func (s store) deleteAllForNote(noteID string) (int64, error) {
	result := s.db.Where(queryNote, noteID).Delete(&Revision{})
	return result.RowsAffected, result.Error
}

func (s store) allForNote(noteID string) ([]Revision, error) {
	var rows []Revision
	if err := s.db.Where(queryNote, noteID).Order(orderNewestFirst).Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// distinctNoteIDsAfter pages ascending over note ids that hold at least one
// revision, so sweeps never iterate the larger notes table.
func (s store) distinctNoteIDsAfter(afterNoteID string, limit int) ([]string, error) {
	if limit <= 0 {
		limit = defaultNoteIDBatchLimit
	}
	var noteIDs []string
	err := s.db.Model(&Revision{}).
		Distinct(columnNoteID).
		Where(queryNoteIDAfter, afterNoteID).
		Order(orderNoteIDAsc).
		Limit(limit).
		Pluck(columnNoteID, &noteIDs).Error
	if err != nil {
		return nil, err
	}
	return noteIDs, nil
}

func (s store) bookmarkFor(noteID string) (int64, bool, error) {
	var mark RetentionMark
	err := s.db.Where(queryNote, noteID).Take(&mark).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return mark.LastPrunedAtSeconds, true, nil
}

func (s store) setBookmark(noteID string, prunedAtSeconds int64) error {
	mark := RetentionMark{NoteID: noteID, LastPrunedAtSeconds: prunedAtSeconds}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: columnNoteID}},
		DoUpdates: clause.AssignmentColumns([]string{"last_pruned_at_s"}),
	}).Create(&mark).Error
}

func (s store) deleteBookmark(noteID string) error {
	return s.db.Where(queryNote, noteID).Delete(&RetentionMark{}).Error
}

func (s store) deleteBookmarks(noteIDs []string) error {
	if len(noteIDs) == 0 {
		return nil
	}
	return s.db.Where(queryNoteIDIn, noteIDs).Delete(&RetentionMark{}).Error
}
