package revisions

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func mustNoteID(t *testing.T, value string) NoteID {
	t.Helper()
	id, err := NewNoteID(value)
	if err != nil {
		t.Fatalf("unexpected note id error: %v", err)
	}
	return id
}

func mustRevisionID(t *testing.T, value string) RevisionID {
	t.Helper()
	id, err := NewRevisionID(value)
	if err != nil {
		t.Fatalf("unexpected revision id error: %v", err)
	}
	return id
}

func pointerTo[T any](value T) *T {
	v := value
	return &v
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type sequentialIDGenerator struct {
	mu   sync.Mutex
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return fmt.Sprintf("rev-%04d", g.next), nil
}

// testNote mirrors the live notes table owned by the external editing surface.
type testNote struct {
	NoteID           string  `gorm:"column:note_id;primaryKey;size:190;not null"`
	Title            *string `gorm:"column:title;size:512"`
	Content          string  `gorm:"column:content;type:text;not null"`
	UpdatedAtSeconds int64   `gorm:"column:updated_at_s;not null"`
}

func (testNote) TableName() string {
	return "notes"
}

type testNotesStore struct{}

func (testNotesStore) GetNote(handle *gorm.DB, noteID string) (NoteRecord, bool, error) {
	var row testNote
	err := handle.Where("note_id = ?", noteID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NoteRecord{}, false, nil
	}
	if err != nil {
		return NoteRecord{}, false, err
	}
	return NoteRecord{
		NoteID:           row.NoteID,
		Title:            row.Title,
		Content:          row.Content,
		UpdatedAtSeconds: row.UpdatedAtSeconds,
	}, true, nil
}

func (testNotesStore) UpdateNote(handle *gorm.DB, note NoteRecord) error {
	return handle.Model(&testNote{}).
		Where("note_id = ?", note.NoteID).
		Updates(map[string]interface{}{
			"title":        note.Title,
			"content":      note.Content,
			"updated_at_s": note.UpdatedAtSeconds,
		}).Error
}

func (testNotesStore) NoteExists(handle *gorm.DB, noteID string) (bool, error) {
	var count int64
	if err := handle.Model(&testNote{}).Where("note_id = ?", noteID).Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (testNotesStore) ExistingNoteIDs(handle *gorm.DB, noteIDs []string) ([]string, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	var existing []string
	err := handle.Model(&testNote{}).Where("note_id IN ?", noteIDs).Pluck("note_id", &existing).Error
	return existing, err
}

type recordedRefresh struct {
	tenantID string
	noteID   string
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []recordedRefresh
}

func (n *recordingNotifier) NotifyRevisionRestored(tenantID string, noteID string) {
	n.mu.Lock()
	n.events = append(n.events, recordedRefresh{tenantID: tenantID, noteID: noteID})
	n.mu.Unlock()
}

func (n *recordingNotifier) recorded() []recordedRefresh {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]recordedRefresh(nil), n.events...)
}

type testHarness struct {
	service  *Service
	db       *gorm.DB
	clock    *fakeClock
	notifier *recordingNotifier
}

func newTestHarness(t *testing.T) testHarness {
	t.Helper()

	dsn := fmt.Sprintf("file:strata_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Revision{}, &RetentionMark{}, &testNote{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	clock := newFakeClock(time.Unix(1700000600, 0).UTC())
	notifier := &recordingNotifier{}

	service, err := NewService(ServiceConfig{
		TenantID:   "tenant-1",
		Database:   db,
		Notes:      testNotesStore{},
		Clock:      clock.Now,
		IDProvider: &sequentialIDGenerator{},
		Notifier:   notifier,
	})
	if err != nil {
		t.Fatalf("failed to construct revisions service: %v", err)
	}

	return testHarness{service: service, db: db, clock: clock, notifier: notifier}
}

func (h testHarness) seedNote(t *testing.T, noteID string, title *string, content string) {
	t.Helper()
	row := testNote{
		NoteID:           noteID,
		Title:            title,
		Content:          content,
		UpdatedAtSeconds: h.clock.Now().Unix(),
	}
	if err := h.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed note: %v", err)
	}
}

func (h testHarness) seedRevision(t *testing.T, revisionID, noteID string, title *string, content string, kind RevisionKind, createdAtSeconds int64) {
	t.Helper()
	encoded, err := encodeContent(content)
	if err != nil {
		t.Fatalf("failed to encode seed content: %v", err)
	}
	row := Revision{
		RevisionID:       revisionID,
		NoteID:           noteID,
		Title:            title,
		ContentGZ:        encoded.compressed,
		ContentHash:      encoded.hash,
		Kind:             kind,
		RawSize:          encoded.rawSize,
		StoredSize:       encoded.storedSize,
		CreatedAtSeconds: createdAtSeconds,
	}
	if err := h.db.Create(&row).Error; err != nil {
		t.Fatalf("failed to seed revision: %v", err)
	}
}

func (h testHarness) revisionCount(t *testing.T, noteID string) int64 {
	t.Helper()
	var count int64
	if err := h.db.Model(&Revision{}).Where("note_id = ?", noteID).Count(&count).Error; err != nil {
		t.Fatalf("failed to count revisions: %v", err)
	}
	return count
}

func (h testHarness) noteContent(t *testing.T, noteID string) string {
	t.Helper()
	var row testNote
	if err := h.db.Where("note_id = ?", noteID).Take(&row).Error; err != nil {
		t.Fatalf("failed to load note: %v", err)
	}
	return row.Content
}
