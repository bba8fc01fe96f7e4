package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	tenantIDContextKey = "strata_tenant_id"

	paramNoteID     = "noteId"
	paramRevisionID = "revisionId"

	heartbeatInterval = 25 * time.Second
)

var (
	errMissingSessionValidator = errors.New("session validator dependency required")
	errMissingTenantLocator    = errors.New("tenant locator dependency required")
	errInvalidAuthorization    = errors.New("authorization header missing or invalid")
)

// SessionValidator authenticates a request and yields its session claims.
type SessionValidator interface {
	ValidateRequest(r *http.Request) (auth.SessionClaims, error)
}

// TenantLocator resolves the revision service scoped to one tenant.
type TenantLocator interface {
	ServiceFor(ctx context.Context, tenantID string) (*revisions.Service, error)
}

// Dependencies wires the HTTP boundary to the engine.
type Dependencies struct {
	Sessions SessionValidator
	Tenants  TenantLocator
	Refresh  *RefreshDispatcher
	Logger   *zap.Logger
}

// NewHTTPHandler builds the gin router exposing the revision operations.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionValidator
	}
	if deps.Tenants == nil {
		return nil, errMissingTenantLocator
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions: deps.Sessions,
		tenants:  deps.Tenants,
		refresh:  deps.Refresh,
		logger:   logger,
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/notes/:noteId/revisions", handler.handleListRevisions)
	protected.GET("/notes/:noteId/revisions/:revisionId", handler.handleGetRevision)
	protected.POST("/notes/:noteId/revisions", handler.handleSaveManualRevision)
	protected.POST("/notes/:noteId/revisions/:revisionId/restore", handler.handleRestoreRevision)
	protected.GET("/events", handler.handleEvents)

	return router, nil
}

type httpHandler struct {
	sessions SessionValidator
	tenants  TenantLocator
	refresh  *RefreshDispatcher
	logger   *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		h.logger.Warn("session validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	c.Set(tenantIDContextKey, claims.Tenant())
	c.Next()
}

func (h *httpHandler) serviceForRequest(c *gin.Context) (*revisions.Service, bool) {
	tenantID := c.GetString(tenantIDContextKey)
	if tenantID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return nil, false
	}
	service, err := h.tenants.ServiceFor(c.Request.Context(), tenantID)
	if err != nil {
		h.logger.Error("tenant service lookup failed", zap.String("tenant_id", tenantID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "tenant_unavailable"})
		return nil, false
	}
	return service, true
}

type revisionMetadataPayload struct {
	RevisionID       string  `json:"revision_id"`
	NoteID           string  `json:"note_id"`
	Title            *string `json:"title"`
	Kind             string  `json:"kind"`
	ContentHash      string  `json:"content_hash"`
	RawSize          int64   `json:"raw_size"`
	StoredSize       int64   `json:"stored_size"`
	CreatedAtSeconds int64   `json:"created_at_s"`
}

type listRevisionsPayload struct {
	Revisions  []revisionMetadataPayload `json:"revisions"`
	NextCursor string                    `json:"next_cursor,omitempty"`
}

type revisionDetailPayload struct {
	revisionMetadataPayload
	Content string `json:"content"`
}

type captureResultPayload struct {
	Created    bool   `json:"created"`
	Status     string `json:"status"`
	RevisionID string `json:"revision_id,omitempty"`
}

type restoreRequestPayload struct {
	ExpectedUpdatedAtSeconds *int64 `json:"expected_updated_at_s"`
}

type restoreResponsePayload struct {
	NoteID               string  `json:"note_id"`
	Title                *string `json:"title"`
	Content              string  `json:"content"`
	UpdatedAtSeconds     int64   `json:"updated_at_s"`
	PreRestoreRevisionID string  `json:"pre_restore_revision_id"`
}

func metadataPayload(metadata revisions.RevisionMetadata) revisionMetadataPayload {
	return revisionMetadataPayload{
		RevisionID:       metadata.RevisionID.String(),
		NoteID:           metadata.NoteID.String(),
		Title:            metadata.Title,
		Kind:             metadata.Kind.String(),
		ContentHash:      metadata.ContentHash,
		RawSize:          metadata.RawSize,
		StoredSize:       metadata.StoredSize,
		CreatedAtSeconds: metadata.CreatedAtSeconds,
	}
}

func (h *httpHandler) handleListRevisions(c *gin.Context) {
	service, ok := h.serviceForRequest(c)
	if !ok {
		return
	}
	noteID, err := revisions.NewNoteID(c.Param(paramNoteID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	limit := 0
	if rawLimit := c.Query("limit"); rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_limit"})
			return
		}
	}

	var cursor *revisions.ListCursor
	if rawCursor := c.Query("cursor"); rawCursor != "" {
		parsed, err := revisions.ParseListCursor(rawCursor)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_cursor"})
			return
		}
		cursor = &parsed
	}

	page, err := service.ListRevisions(c.Request.Context(), noteID, limit, cursor)
	if err != nil {
		h.respondError(c, err, "list_failed")
		return
	}

	response := listRevisionsPayload{Revisions: make([]revisionMetadataPayload, 0, len(page.Items))}
	for _, item := range page.Items {
		response.Revisions = append(response.Revisions, metadataPayload(item))
	}
	if page.NextCursor != nil {
		response.NextCursor = page.NextCursor.Encode()
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleGetRevision(c *gin.Context) {
	service, ok := h.serviceForRequest(c)
	if !ok {
		return
	}
	noteID, err := revisions.NewNoteID(c.Param(paramNoteID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	revisionID, err := revisions.NewRevisionID(c.Param(paramRevisionID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_revision_id"})
		return
	}

	detail, err := service.GetRevision(c.Request.Context(), noteID, revisionID)
	if err != nil {
		h.respondError(c, err, "get_failed")
		return
	}
	c.JSON(http.StatusOK, revisionDetailPayload{
		revisionMetadataPayload: metadataPayload(detail.RevisionMetadata),
		Content:                 detail.Content,
	})
}

func (h *httpHandler) handleSaveManualRevision(c *gin.Context) {
	service, ok := h.serviceForRequest(c)
	if !ok {
		return
	}
	noteID, err := revisions.NewNoteID(c.Param(paramNoteID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}

	outcome, err := service.SaveManualRevision(c.Request.Context(), noteID)
	if err != nil {
		h.respondError(c, err, "save_failed")
		return
	}
	c.JSON(http.StatusOK, captureResultPayload{
		Created:    outcome.Created(),
		Status:     string(outcome.Status),
		RevisionID: outcome.RevisionID.String(),
	})
}

func (h *httpHandler) handleRestoreRevision(c *gin.Context) {
	service, ok := h.serviceForRequest(c)
	if !ok {
		return
	}
	noteID, err := revisions.NewNoteID(c.Param(paramNoteID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_note_id"})
		return
	}
	revisionID, err := revisions.NewRevisionID(c.Param(paramRevisionID))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_revision_id"})
		return
	}

	var request restoreRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}

	result, err := service.RestoreRevision(c.Request.Context(), noteID, revisionID, request.ExpectedUpdatedAtSeconds)
	if err != nil {
		h.respondError(c, err, "restore_failed")
		return
	}
	c.JSON(http.StatusOK, restoreResponsePayload{
		NoteID:               result.Note.NoteID,
		Title:                result.Note.Title,
		Content:              result.Note.Content,
		UpdatedAtSeconds:     result.Note.UpdatedAtSeconds,
		PreRestoreRevisionID: result.PreRestoreRevisionID.String(),
	})
}

// handleEvents streams refresh hints to the tenant's client over SSE.
func (h *httpHandler) handleEvents(c *gin.Context) {
	tenantID := c.GetString(tenantIDContextKey)
	if tenantID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if h.refresh == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "events_unavailable"})
		return
	}

	stream, cleanup := h.refresh.Subscribe(c.Request.Context(), tenantID)
	defer cleanup()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Stream(func(w io.Writer) bool {
		select {
		case message, open := <-stream:
			if !open {
				return false
			}
			c.SSEvent(message.EventType, gin.H{
				"note_id":     message.NoteID,
				"timestamp_s": message.Timestamp.Unix(),
			})
			return true
		case <-heartbeat.C:
			c.SSEvent(refreshEventHeartbeat, gin.H{})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// respondError maps engine error kinds to transport statuses; the engine
// itself never sees HTTP concerns.
func (h *httpHandler) respondError(c *gin.Context, err error, fallbackCode string) {
	switch {
	case errors.Is(err, revisions.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found"})
	case errors.Is(err, revisions.ErrVersionConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "version_conflict"})
	case errors.Is(err, revisions.ErrCorruptPayload):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "corrupt_payload"})
	default:
		h.logger.Error("revision operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallbackCode})
	}
}
