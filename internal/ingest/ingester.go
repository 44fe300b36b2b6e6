// Package ingest applies parsed registry events to the durable store.
package ingest

import (
	"context"
	"fmt"

	"github.com/registry-indexer/internal/logging"
	"github.com/registry-indexer/internal/models"
	"github.com/registry-indexer/internal/parser"
	"github.com/registry-indexer/internal/storage"
	"github.com/registry-indexer/internal/types"
)

// placeholderAuthor is used for packages first observed through the ledger;
// the log lines carry no author metadata.
const placeholderAuthor = "unknown"

// Store is the slice of the durable store the ingestion engine writes to
type Store interface {
	UpsertPackage(ctx context.Context, name, author string) (int64, error)
	UpsertPackageVersion(ctx context.Context, name, author, version, contentAddress string) (int64, error)
	FindPackageID(ctx context.Context, name string) (int64, bool, error)
	FindVersionID(ctx context.Context, packageID int64, version string) (int64, bool, error)
	IncrementDownloads(ctx context.Context, packageID, versionID int64) error
}

// Cache invalidates read-side cache entries after a mutation
type Cache interface {
	PackageKey(name string) string
	StatsKey() string
	Invalidate(ctx context.Context, keys ...string) error
}

// Ingester materializes events into package and version state. It is called
// only after the event row was durably recorded as new; applying the same
// event twice is therefore prevented upstream by the unique transaction
// signature. A storage failure is surfaced to the caller but never rolls back
// the already-recorded event row: the projection is derived state and can be
// rebuilt from the event log.
type Ingester struct {
	store  Store
	cache  Cache
	logger *logging.Logger
}

// NewIngester creates a new ingestion engine. cache may be nil.
func NewIngester(store Store, cache Cache, logger *logging.Logger) *Ingester {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Ingester{store: store, cache: cache, logger: logger}
}

// Ingest applies one event to the materialized store
func (i *Ingester) Ingest(ctx context.Context, event *models.Event, rawLog string) error {
	var err error
	mutated := false

	switch event.EventType {
	case types.EventPublished, types.EventUpdated:
		// Updated creates the package defensively when it was never seen:
		// catch-up scans do not guarantee delivery order.
		mutated, err = i.applyPublish(ctx, event, rawLog)
	case types.EventDownloaded:
		mutated, err = i.applyDownload(ctx, event)
	default:
		// Unknown event types are kept in the event log for audit only
		i.logger.WithFields(map[string]interface{}{
			"eventType": string(event.EventType),
			"package":   event.PackageName,
		}).Debug("Event type has no materialization, recorded for audit only")
	}

	if err != nil {
		i.logger.WithError(err).WithFields(map[string]interface{}{
			"eventType": string(event.EventType),
			"package":   event.PackageName,
			"signature": event.TransactionSignature,
		}).Error("Failed to materialize event")
		return err
	}

	if mutated {
		i.invalidate(ctx, event.PackageName)
	}
	return nil
}

// applyPublish upserts the package and, when both a version and a content
// address are present, the version row. A publish without a version is
// recorded but materializes no version.
func (i *Ingester) applyPublish(ctx context.Context, event *models.Event, rawLog string) (bool, error) {
	contentAddress := parser.ExtractContentAddress(rawLog)

	if event.Version != nil && contentAddress != "" {
		if _, err := i.store.UpsertPackageVersion(ctx, event.PackageName, placeholderAuthor, *event.Version, contentAddress); err != nil {
			return false, fmt.Errorf("failed to upsert %s@%s: %w", event.PackageName, *event.Version, err)
		}
		i.logger.WithFields(map[string]interface{}{
			"package":        event.PackageName,
			"version":        *event.Version,
			"contentAddress": truncate(contentAddress, 8),
		}).Info("Stored package version")
		return true, nil
	}

	if _, err := i.store.UpsertPackage(ctx, event.PackageName, placeholderAuthor); err != nil {
		return false, fmt.Errorf("failed to upsert package %s: %w", event.PackageName, err)
	}

	switch {
	case event.Version == nil:
		i.logger.WithField("package", event.PackageName).Debug("Publish event without version, no version row materialized")
	case contentAddress == "":
		i.logger.WithFields(map[string]interface{}{
			"package": event.PackageName,
			"version": *event.Version,
		}).Debug("No content address detected in publish log, no version row materialized")
	}
	return true, nil
}

// applyDownload increments both download counters for a known
// (package, version) pair. A download referencing an unknown package or
// version is dropped with a diagnostic; rows are never fabricated from
// downloads.
func (i *Ingester) applyDownload(ctx context.Context, event *models.Event) (bool, error) {
	if event.Version == nil {
		i.logger.WithField("package", event.PackageName).Debug("Download event without version, dropped")
		return false, nil
	}

	packageID, found, err := i.store.FindPackageID(ctx, event.PackageName)
	if err != nil {
		return false, err
	}
	if !found {
		i.logger.WithField("package", event.PackageName).Debug("Download event for unknown package, dropped (publish may not be processed yet)")
		return false, nil
	}

	versionID, found, err := i.store.FindVersionID(ctx, packageID, *event.Version)
	if err != nil {
		return false, err
	}
	if !found {
		i.logger.WithFields(map[string]interface{}{
			"package": event.PackageName,
			"version": *event.Version,
		}).Debug("Download event for unknown version, dropped (publish may not be processed yet)")
		return false, nil
	}

	if err := i.store.IncrementDownloads(ctx, packageID, versionID); err != nil {
		return false, fmt.Errorf("failed to increment downloads for %s@%s: %w", event.PackageName, *event.Version, err)
	}

	i.logger.WithFields(map[string]interface{}{
		"package": event.PackageName,
		"version": *event.Version,
	}).Info("Incremented downloads")
	return true, nil
}

func (i *Ingester) invalidate(ctx context.Context, packageName string) {
	if i.cache == nil {
		return
	}
	if err := i.cache.Invalidate(ctx, i.cache.PackageKey(packageName), i.cache.StatsKey()); err != nil {
		// Non-fatal: stale entries expire with the TTL
		i.logger.WithError(err).WithField("package", packageName).Warn("Failed to invalidate cache")
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// Compile-time check that the Postgres repository satisfies Store
var _ Store = (*storage.RegistryRepository)(nil)
