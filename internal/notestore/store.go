// Package notestore adapts the tenant's live notes table to the contract the
// revision engine consumes. The notes table itself is owned by the editing
// and replication surfaces; the engine only reads it and rewrites rows during
// restores.
package notestore

import (
	"errors"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"gorm.io/gorm"
)

// Note models the live note row the external editor and replication
// transport maintain.
type Note struct {
	NoteID           string  `gorm:"column:note_id;primaryKey;size:190;not null"`
	Title            *string `gorm:"column:title;size:512"`
	Content          string  `gorm:"column:content;type:text;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (Note) TableName() string {
	return "notes"
}

// Store implements revisions.NotesStore over a GORM handle. Methods operate
// on the handle they are passed so engine transactions can include note-row
// writes.
type Store struct{}

// NewStore returns a notes store adapter.
func NewStore() *Store {
	return &Store{}
}

// GetNote loads one note row.
func (s *Store) GetNote(handle *gorm.DB, noteID string) (revisions.NoteRecord, bool, error) {
	var row Note
	err := handle.Where("note_id = ?", noteID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return revisions.NoteRecord{}, false, nil
	}
	if err != nil {
		return revisions.NoteRecord{}, false, err
	}
	return revisions.NoteRecord{
		NoteID:           row.NoteID,
		Title:            row.Title,
		Content:          row.Content,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, true, nil
}

// UpdateNote rewrites the note's title, content, and updated_at.
func (s *Store) UpdateNote(handle *gorm.DB, note revisions.NoteRecord) error {
	return handle.Model(&Note{}).
		Where("note_id = ?", note.NoteID).
		Updates(map[string]interface{}{
			"title":        note.Title,
			"content":      note.Content,
			"updated_at_s": note.UpdatedAtSeconds,
		}).Error
}

// NoteExists reports whether the note row is present.
func (s *Store) NoteExists(handle *gorm.DB, noteID string) (bool, error) {
	var count int64
	if err := handle.Model(&Note{}).Where("note_id = ?", noteID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ExistingNoteIDs filters the given ids down to those present in the notes
// table. Used by orphan cleanup.
func (s *Store) ExistingNoteIDs(handle *gorm.DB, noteIDs []string) ([]string, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	var existing []string
	err := handle.Model(&Note{}).
		Where("note_id IN ?", noteIDs).
		Pluck("note_id", &existing).Error
	if err != nil {
		return nil, err
	}
	return existing, nil
}
