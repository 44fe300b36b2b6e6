package models

import "time"

// Package represents a registry package materialized from ledger events.
// Created on the first observed publish/update event for a name; never deleted.
type Package struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Author         string    `json:"author" db:"author"`
	Description    *string   `json:"description,omitempty" db:"description"`
	Repository     *string   `json:"repository,omitempty" db:"repository"`
	Homepage       *string   `json:"homepage,omitempty" db:"homepage"`
	TotalDownloads int64     `json:"totalDownloads" db:"total_downloads"`
	CreatedAt      time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt      time.Time `json:"updatedAt" db:"updated_at"`
}

// Version represents a published version of a package.
// One row per (package, version); the content address is upserted, not appended.
type Version struct {
	ID             int64     `json:"id" db:"id"`
	PackageID      int64     `json:"packageId" db:"package_id"`
	Version        string    `json:"version" db:"version"`
	ContentAddress string    `json:"contentAddress" db:"content_address"`
	Downloads      int64     `json:"downloads" db:"downloads"`
	PublishedAt    time.Time `json:"publishedAt" db:"published_at"`
}

// PackageWithVersions is a package together with its versions, newest first
type PackageWithVersions struct {
	Package
	Versions []*Version `json:"versions"`
}

// Stats holds aggregate counts over the materialized store
type Stats struct {
	TotalPackages  int64 `json:"totalPackages"`
	TotalVersions  int64 `json:"totalVersions"`
	TotalDownloads int64 `json:"totalDownloads"`
	TotalEvents    int64 `json:"totalEvents"`
}
