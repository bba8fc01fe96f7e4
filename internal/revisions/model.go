package revisions

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// RevisionKind tags a revision with the event that produced it.
type RevisionKind string

const (
	// RevisionKindAuto marks a capture driven by the replication transport.
	RevisionKindAuto RevisionKind = "auto"
	// RevisionKindManual marks an explicit user checkpoint.
	RevisionKindManual RevisionKind = "manual"
	// RevisionKindPreRestore marks the safety snapshot taken before a restore.
	RevisionKindPreRestore RevisionKind = "pre-restore"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidNoteID indicates that a note identifier is empty or exceeds storage bounds.
	ErrInvalidNoteID = errors.New("revisions: invalid note id")
	// ErrInvalidRevisionID indicates that a revision identifier is empty or exceeds storage bounds.
	ErrInvalidRevisionID = errors.New("revisions: invalid revision id")
	// ErrInvalidRevisionKind indicates an unknown revision kind value.
	ErrInvalidRevisionKind = errors.New("revisions: invalid revision kind")
	// ErrInvalidListCursor indicates a malformed pagination cursor.
	ErrInvalidListCursor = errors.New("revisions: invalid list cursor")
)

// NoteID represents a validated note identifier.
type NoteID string

// NewNoteID validates raw input and returns a NoteID.
func NewNoteID(rawInput string) (NoteID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidNoteID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidNoteID, maxIdentifierLength)
	}
	return NoteID(trimmed), nil
}

// String returns the underlying string identifier.
func (id NoteID) String() string {
	return string(id)
}

// RevisionID represents a validated revision identifier.
type RevisionID string

// NewRevisionID validates raw input and returns a RevisionID.
func NewRevisionID(rawInput string) (RevisionID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRevisionID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidRevisionID, maxIdentifierLength)
	}
	return RevisionID(trimmed), nil
}

// String returns the underlying string identifier.
func (id RevisionID) String() string {
	return string(id)
}

// NewRevisionKind validates raw input and returns a RevisionKind.
func NewRevisionKind(rawInput string) (RevisionKind, error) {
	switch RevisionKind(rawInput) {
	case RevisionKindAuto, RevisionKindManual, RevisionKindPreRestore:
		return RevisionKind(rawInput), nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidRevisionKind, rawInput)
}

// String returns the kind as a string.
func (kind RevisionKind) String() string {
	return string(kind)
}

// Revision stores one immutable content snapshot for a note.
type Revision struct {
	RevisionID       string       `gorm:"column:revision_id;primaryKey;size:190;not null"`
	NoteID           string       `gorm:"column:note_id;size:190;not null;index:idx_revisions_note_created,priority:1"`
	Title            *string      `gorm:"column:title;size:512"`
	ContentGZ        []byte       `gorm:"column:content_gz;type:blob;not null"`
	ContentHash      string       `gorm:"column:content_hash;size:64;not null"`
	Kind             RevisionKind `gorm:"column:kind;size:16;not null"`
	RawSize          int64        `gorm:"column:raw_size;not null;default:0"`
	StoredSize       int64        `gorm:"column:stored_size;not null;default:0"`
	CreatedAtSeconds int64        `gorm:"column:created_at_s;not null;index:idx_revisions_note_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Revision) TableName() string {
	return "note_revisions"
}

// RetentionMark records when retention last ran for a note. Advisory only:
// losing a mark just makes retention re-run sooner than the cooldown requires.
type RetentionMark struct {
	NoteID              string `gorm:"column:note_id;primaryKey;size:190;not null"`
	LastPrunedAtSeconds int64  `gorm:"column:last_pruned_at_s;not null"`
}

// TableName provides the explicit table binding for GORM.
func (RetentionMark) TableName() string {
	return "note_retention_marks"
}

// CaptureStatus enumerates the possible outcomes of a capture attempt.
type CaptureStatus string

const (
	// CaptureStatusCreated means a new revision row was written.
	CaptureStatusCreated CaptureStatus = "created"
	// CaptureStatusSkippedDuplicate means the candidate matched the latest stored revision.
	CaptureStatusSkippedDuplicate CaptureStatus = "skipped-duplicate"
	// CaptureStatusSkippedThrottled means an auto capture landed inside the throttle window.
	CaptureStatusSkippedThrottled CaptureStatus = "skipped-throttled"
)

// CaptureOutcome reports what a capture attempt did.
type CaptureOutcome struct {
	Status     CaptureStatus
	RevisionID RevisionID
	PrunedRows int64
}

// Created reports whether the capture wrote a new revision.
func (outcome CaptureOutcome) Created() bool {
	return outcome.Status == CaptureStatusCreated
}

// CaptureRequest describes one capture attempt.
type CaptureRequest struct {
	NoteID             NoteID
	Title              *string
	Content            *string
	Kind               RevisionKind
	SkipDuplicateCheck bool
	EnforceThrottle    bool
}

// NoteRecord mirrors the live note row owned by the external notes store.
type NoteRecord struct {
	NoteID           string
	Title            *string
	Content          string
	UpdatedAtSeconds int64
}

// RevisionMetadata describes a stored revision without its content payload.
type RevisionMetadata struct {
	RevisionID       RevisionID
	NoteID           NoteID
	Title            *string
	Kind             RevisionKind
	ContentHash      string
	RawSize          int64
	StoredSize       int64
	CreatedAtSeconds int64
}

// RevisionDetail pairs revision metadata with the decoded content body.
type RevisionDetail struct {
	RevisionMetadata
	Content string
}

// RevisionPage is one reverse-chronological page of revision metadata.
type RevisionPage struct {
	Items      []RevisionMetadata
	NextCursor *ListCursor
}

// ListCursor points at the last item of a fetched page. A row belongs to the
// next page iff (created_at_s, revision_id) sorts strictly before the cursor
// under the reverse-chronological ordering used by listings.
type ListCursor struct {
	CreatedAtSeconds int64
	RevisionID       string
}

// Encode renders the cursor as an opaque token for boundary layers.
func (cursor ListCursor) Encode() string {
	return fmt.Sprintf("%d.%s", cursor.CreatedAtSeconds, cursor.RevisionID)
}

// ParseListCursor parses a token produced by Encode.
func ParseListCursor(rawInput string) (ListCursor, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return ListCursor{}, fmt.Errorf("%w: empty", ErrInvalidListCursor)
	}
	separator := strings.IndexByte(trimmed, '.')
	if separator <= 0 || separator == len(trimmed)-1 {
		return ListCursor{}, fmt.Errorf("%w: %q", ErrInvalidListCursor, rawInput)
	}
	createdAtSeconds, err := strconv.ParseInt(trimmed[:separator], 10, 64)
	if err != nil {
		return ListCursor{}, fmt.Errorf("%w: %q", ErrInvalidListCursor, rawInput)
	}
	return ListCursor{
		CreatedAtSeconds: createdAtSeconds,
		RevisionID:       trimmed[separator+1:],
	}, nil
}

func metadataFromRow(row Revision) RevisionMetadata {
	return RevisionMetadata{
		RevisionID:       RevisionID(row.RevisionID),
		NoteID:           NoteID(row.NoteID),
		Title:            row.Title,
		Kind:             row.Kind,
		ContentHash:      row.ContentHash,
		RawSize:          row.RawSize,
		StoredSize:       row.StoredSize,
		CreatedAtSeconds: row.CreatedAtSeconds,
	}
}

func titlesEqual(left, right *string) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	return *left == *right
}
