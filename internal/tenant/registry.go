// Package tenant routes the engine to per-tenant storage. Each tenant owns
// one SQLite database file under the data directory; handles and the services
// built on them are opened lazily and cached for the process lifetime.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/strata/backend/internal/database"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/notestore"
	"github.com/MarcoPoloResearchLab/strata/backend/internal/revisions"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	databaseFileSuffix   = ".db"
	maxTenantIDLength    = 190
	invalidTenantIDRunes = `/\`
	tenantDirPermissions = 0o755
)

var (
	// ErrInvalidTenantID indicates a tenant identifier unusable as a database file name.
	ErrInvalidTenantID = errors.New("tenant: invalid tenant id")
	errMissingDataDir  = errors.New("tenant: data directory is required")
)

// RegistryConfig describes the dependencies shared by every tenant's service.
type RegistryConfig struct {
	DataDir    string
	Clock      func() time.Time
	IDProvider revisions.IDProvider
	Notifier   revisions.RefreshNotifier
	Logger     *zap.Logger
}

// Registry lazily opens per-tenant databases and builds the revision service
// for each. All mutable state is held as fields on the one registry instance
// constructed per process.
type Registry struct {
	dataDir    string
	clock      func() time.Time
	idProvider revisions.IDProvider
	notifier   revisions.RefreshNotifier
	logger     *zap.Logger

	mu       sync.Mutex
	handles  map[string]*gorm.DB
	services map[string]*revisions.Service
}

// NewRegistry validates the configuration, ensures the data directory exists,
// and returns a registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, errMissingDataDir
	}
	if err := os.MkdirAll(dataDir, tenantDirPermissions); err != nil {
		return nil, fmt.Errorf("tenant: create data directory: %w", err)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = revisions.NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Registry{
		dataDir:    dataDir,
		clock:      clock,
		idProvider: idProvider,
		notifier:   cfg.Notifier,
		logger:     logger,
		handles:    make(map[string]*gorm.DB),
		services:   make(map[string]*revisions.Service),
	}, nil
}

// ServiceFor returns the revision service scoped to one tenant, opening and
// migrating the tenant database on first use.
func (r *Registry) ServiceFor(ctx context.Context, tenantID string) (*revisions.Service, error) {
	normalized, err := normalizeTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if service, ok := r.services[normalized]; ok {
		return service, nil
	}

	db, err := database.OpenSQLite(filepath.Join(r.dataDir, normalized+databaseFileSuffix), r.logger)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: open database: %w", normalized, err)
	}

	service, err := revisions.NewService(revisions.ServiceConfig{
		TenantID:   normalized,
		Database:   db,
		Notes:      notestore.NewStore(),
		Clock:      r.clock,
		IDProvider: r.idProvider,
		Logger:     r.logger,
		Notifier:   r.notifier,
	})
	if err != nil {
		return nil, err
	}

	r.handles[normalized] = db
	r.services[normalized] = service
	return service, nil
}

// ListTenantIDs enumerates known tenants: every database file on disk plus
// every handle opened this process (a freshly created tenant may not have
// flushed a file yet under some filesystems).
func (r *Registry) ListTenantIDs(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(r.dataDir)
	if err != nil {
		return nil, fmt.Errorf("tenant: scan data directory: %w", err)
	}

	seen := make(map[string]bool)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, databaseFileSuffix) {
			continue
		}
		seen[strings.TrimSuffix(name, databaseFileSuffix)] = true
	}

	r.mu.Lock()
	for tenantID := range r.handles {
		seen[tenantID] = true
	}
	r.mu.Unlock()

	tenantIDs := make([]string, 0, len(seen))
	for tenantID := range seen {
		tenantIDs = append(tenantIDs, tenantID)
	}
	sort.Strings(tenantIDs)
	return tenantIDs, nil
}

// Close closes every open tenant database handle.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for tenantID, db := range r.handles {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Close()
		}
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tenant %s: close database: %w", tenantID, err)
		}
		delete(r.handles, tenantID)
		delete(r.services, tenantID)
	}
	return firstErr
}

func normalizeTenantID(tenantID string) (string, error) {
	trimmed := strings.TrimSpace(tenantID)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidTenantID)
	}
	if len(trimmed) > maxTenantIDLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidTenantID, maxTenantIDLength)
	}
	if strings.ContainsAny(trimmed, invalidTenantIDRunes) || strings.Contains(trimmed, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return trimmed, nil
}
