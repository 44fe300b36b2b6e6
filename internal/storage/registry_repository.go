package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/registry-indexer/internal/models"
)

// RegistryRepository handles package and version persistence
type RegistryRepository struct {
	db *PostgresDB
}

// NewRegistryRepository creates a new registry repository
func NewRegistryRepository(db *PostgresDB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// UpsertPackage creates a package row if the name is new and returns its id.
// An existing package keeps its metadata; only updated_at is touched. Packages
// are never deleted.
func (r *RegistryRepository) UpsertPackage(ctx context.Context, name, author string) (int64, error) {
	query := `
		INSERT INTO packages (name, author)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`

	var id int64
	if err := r.db.Pool().QueryRow(ctx, query, name, author).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to upsert package %s: %w", name, err)
	}
	return id, nil
}

// UpsertVersion creates or updates a version row for (packageID, version),
// replacing the content address on conflict.
func (r *RegistryRepository) UpsertVersion(ctx context.Context, packageID int64, version, contentAddress string) error {
	query := `
		INSERT INTO versions (package_id, version, content_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (package_id, version) DO UPDATE SET
			content_address = EXCLUDED.content_address
	`

	if _, err := r.db.Pool().Exec(ctx, query, packageID, version, contentAddress); err != nil {
		return fmt.Errorf("failed to upsert version %s for package %d: %w", version, packageID, err)
	}
	return nil
}

// UpsertPackageVersion applies the package upsert and the version upsert as a
// single transaction so a concurrent reader never observes one without the
// other.
func (r *RegistryRepository) UpsertPackageVersion(ctx context.Context, name, author, version, contentAddress string) (int64, error) {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	var packageID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO packages (name, author)
		VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET updated_at = NOW()
		RETURNING id
	`, name, author).Scan(&packageID)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert package %s: %w", name, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO versions (package_id, version, content_address)
		VALUES ($1, $2, $3)
		ON CONFLICT (package_id, version) DO UPDATE SET
			content_address = EXCLUDED.content_address
	`, packageID, version, contentAddress)
	if err != nil {
		return 0, fmt.Errorf("failed to upsert version %s for package %s: %w", version, name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit package version upsert: %w", err)
	}
	return packageID, nil
}

// FindPackageID returns the id of the package with the given name, if any
func (r *RegistryRepository) FindPackageID(ctx context.Context, name string) (int64, bool, error) {
	var id int64
	err := r.db.Pool().QueryRow(ctx, `SELECT id FROM packages WHERE name = $1`, name).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to find package %s: %w", name, err)
	}
	return id, true, nil
}

// FindVersionID returns the id of the (package, version) row, if any
func (r *RegistryRepository) FindVersionID(ctx context.Context, packageID int64, version string) (int64, bool, error) {
	var id int64
	err := r.db.Pool().QueryRow(ctx,
		`SELECT id FROM versions WHERE package_id = $1 AND version = $2`,
		packageID, version,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to find version %s for package %d: %w", version, packageID, err)
	}
	return id, true, nil
}

// IncrementDownloads bumps the package total and the version counter together
// in one transaction. They are never incremented independently.
func (r *RegistryRepository) IncrementDownloads(ctx context.Context, packageID, versionID int64) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx,
		`UPDATE packages SET total_downloads = total_downloads + 1 WHERE id = $1`,
		packageID,
	); err != nil {
		return fmt.Errorf("failed to increment package downloads: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE versions SET downloads = downloads + 1 WHERE id = $1`,
		versionID,
	); err != nil {
		return fmt.Errorf("failed to increment version downloads: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit download increment: %w", err)
	}
	return nil
}

const packageColumns = `id, name, author, description, repository, homepage, total_downloads, created_at, updated_at`

// SearchPackages searches name and description by substring, ordered by
// download count then name
func (r *RegistryRepository) SearchPackages(ctx context.Context, query string, limit, offset int) ([]*models.Package, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE name ILIKE $1 OR description ILIKE $1
		ORDER BY total_downloads DESC, name ASC
		LIMIT $2 OFFSET $3
	`, "%"+query+"%", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to search packages: %w", err)
	}
	defer rows.Close()

	return scanPackages(rows)
}

// ListPackages lists packages newest first
func (r *RegistryRepository) ListPackages(ctx context.Context, limit, offset int) ([]*models.Package, error) {
	rows, err := r.db.Pool().Query(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list packages: %w", err)
	}
	defer rows.Close()

	return scanPackages(rows)
}

// GetPackageWithVersions fetches one package and its versions ordered by
// publish time descending. Returns nil when the package does not exist.
func (r *RegistryRepository) GetPackageWithVersions(ctx context.Context, name string) (*models.PackageWithVersions, error) {
	var pkg models.Package
	err := r.db.Pool().QueryRow(ctx, `
		SELECT `+packageColumns+`
		FROM packages
		WHERE name = $1
	`, name).Scan(
		&pkg.ID, &pkg.Name, &pkg.Author, &pkg.Description, &pkg.Repository,
		&pkg.Homepage, &pkg.TotalDownloads, &pkg.CreatedAt, &pkg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get package %s: %w", name, err)
	}

	rows, err := r.db.Pool().Query(ctx, `
		SELECT id, package_id, version, content_address, downloads, published_at
		FROM versions
		WHERE package_id = $1
		ORDER BY published_at DESC
	`, pkg.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get versions for package %s: %w", name, err)
	}
	defer rows.Close()

	result := &models.PackageWithVersions{Package: pkg, Versions: []*models.Version{}}
	for rows.Next() {
		var v models.Version
		if err := rows.Scan(&v.ID, &v.PackageID, &v.Version, &v.ContentAddress, &v.Downloads, &v.PublishedAt); err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		result.Versions = append(result.Versions, &v)
	}
	return result, rows.Err()
}

// Stats returns aggregate counts over the materialized store
func (r *RegistryRepository) Stats(ctx context.Context) (*models.Stats, error) {
	var stats models.Stats
	err := r.db.Pool().QueryRow(ctx, `
		SELECT
			(SELECT COUNT(*) FROM packages),
			(SELECT COUNT(*) FROM versions),
			(SELECT COALESCE(SUM(total_downloads), 0) FROM packages),
			(SELECT COUNT(*) FROM events)
	`).Scan(&stats.TotalPackages, &stats.TotalVersions, &stats.TotalDownloads, &stats.TotalEvents)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return &stats, nil
}

func scanPackages(rows pgx.Rows) ([]*models.Package, error) {
	var packages []*models.Package
	for rows.Next() {
		var pkg models.Package
		err := rows.Scan(
			&pkg.ID, &pkg.Name, &pkg.Author, &pkg.Description, &pkg.Repository,
			&pkg.Homepage, &pkg.TotalDownloads, &pkg.CreatedAt, &pkg.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan package: %w", err)
		}
		packages = append(packages, &pkg)
	}
	return packages, rows.Err()
}
