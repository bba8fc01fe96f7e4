package revisions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingNotesStore = errors.New("notes store is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew    = "revisions.service.new"
	opListRevisions = "revisions.list"
	opGetRevision   = "revisions.get"
	opSaveManual    = "revisions.save_manual"

	fieldTenantID   = "tenant_id"
	fieldNoteID     = "note_id"
	fieldRevisionID = "revision_id"

	reasonQueryFailed = "query_failed"

	defaultListLimit = 50
	maxListLimit     = 200
)

// IDProvider issues unique revision identifiers.
type IDProvider interface {
	NewID() (string, error)
}

// NotesStore is the engine's view of the external notes table. Implementations
// operate on the handle they are given so engine transactions can span both
// the revision rows and the live note row.
type NotesStore interface {
	GetNote(handle *gorm.DB, noteID string) (NoteRecord, bool, error)
	UpdateNote(handle *gorm.DB, note NoteRecord) error
	NoteExists(handle *gorm.DB, noteID string) (bool, error)
	ExistingNoteIDs(handle *gorm.DB, noteIDs []string) ([]string, error)
}

// RefreshNotifier asks the delivery layer to tell a tenant's other connected
// clients to refetch a note. Delivery itself is external to the engine.
type RefreshNotifier interface {
	NotifyRevisionRestored(tenantID string, noteID string)
}

// ServiceConfig describes the dependencies of a per-tenant revision service.
type ServiceConfig struct {
	TenantID   string
	Database   *gorm.DB
	Notes      NotesStore
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Notifier   RefreshNotifier
}

// Service implements the revision engine for one tenant's storage.
type Service struct {
	tenantID   string
	db         *gorm.DB
	notes      NotesStore
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	notifier   RefreshNotifier
}

// NewService validates the configuration and returns a revision service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Notes == nil {
		return nil, newServiceError(opServiceNew, "missing_notes_store", errMissingNotesStore)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		tenantID:   cfg.TenantID,
		db:         cfg.Database,
		notes:      cfg.Notes,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		notifier:   cfg.Notifier,
	}, nil
}

// TenantID returns the tenant this service is scoped to.
func (service *Service) TenantID() string {
	return service.tenantID
}

// ListRevisions returns one reverse-chronological page of revision metadata.
// Metadata listings never decode payloads, so corrupt rows still appear.
func (service *Service) ListRevisions(ctx context.Context, noteID NoteID, limit int, cursor *ListCursor) (RevisionPage, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}

	rows, err := store{db: service.db.WithContext(ctx)}.list(noteID.String(), limit, cursor)
	if err != nil {
		service.logError(opListRevisions, reasonQueryFailed, err, zap.String(fieldNoteID, noteID.String()))
		return RevisionPage{}, newServiceError(opListRevisions, reasonQueryFailed, err)
	}

	page := RevisionPage{Items: make([]RevisionMetadata, 0, len(rows))}
	for _, row := range rows {
		page.Items = append(page.Items, metadataFromRow(row))
	}
	if len(rows) == limit {
		last := rows[len(rows)-1]
		page.NextCursor = &ListCursor{
			CreatedAtSeconds: last.CreatedAtSeconds,
			RevisionID:       last.RevisionID,
		}
	}
	return page, nil
}

// GetRevision returns one revision with its decoded content. A corrupt
// payload surfaces as ErrCorruptPayload, distinct from ErrNotFound.
func (service *Service) GetRevision(ctx context.Context, noteID NoteID, revisionID RevisionID) (RevisionDetail, error) {
	row, found, err := store{db: service.db.WithContext(ctx)}.get(noteID.String(), revisionID.String())
	if err != nil {
		service.logError(opGetRevision, reasonQueryFailed, err,
			zap.String(fieldNoteID, noteID.String()),
			zap.String(fieldRevisionID, revisionID.String()))
		return RevisionDetail{}, newServiceError(opGetRevision, reasonQueryFailed, err)
	}
	if !found {
		return RevisionDetail{}, fmt.Errorf("%w: revision %s", ErrNotFound, revisionID.String())
	}

	content, err := decodeContent(row.ContentGZ)
	if err != nil {
		return RevisionDetail{}, err
	}
	return RevisionDetail{
		RevisionMetadata: metadataFromRow(row),
		Content:          content,
	}, nil
}

// SaveManualRevision snapshots the live note as an explicit user checkpoint.
func (service *Service) SaveManualRevision(ctx context.Context, noteID NoteID) (CaptureOutcome, error) {
	note, found, err := service.notes.GetNote(service.db.WithContext(ctx), noteID.String())
	if err != nil {
		service.logError(opSaveManual, reasonQueryFailed, err, zap.String(fieldNoteID, noteID.String()))
		return CaptureOutcome{}, newServiceError(opSaveManual, reasonQueryFailed, err)
	}
	if !found {
		return CaptureOutcome{}, fmt.Errorf("%w: note %s", ErrNotFound, noteID.String())
	}

	return service.Capture(ctx, CaptureRequest{
		NoteID:  noteID,
		Title:   note.Title,
		Content: &note.Content,
		Kind:    RevisionKindManual,
	})
}

func (service *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.String(fieldTenantID, service.tenantID),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	service.loggerOrDefault().Error("revisions service error", attrs...)
}

func (service *Service) loggerOrDefault() *zap.Logger {
	if service == nil || service.logger == nil {
		return noOpLogger
	}
	return service.logger
}
