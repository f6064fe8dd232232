package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/geolens/pansharp/common"
)

// CollectionFilter selects collections by provider and attribute constraints
type CollectionFilter struct {
	Provider       string
	BBox           common.BBox
	Constellations []string
}

// Acquisition is one available timestamp of a collection over an AOI
type Acquisition struct {
	ID         string
	Timestamp  time.Time
	CloudCover float64 // fraction [0,1], -1 when unknown
}

// CollectionSearcher resolves a filter to the list of available collections.
// Implementations are read-only, idempotent and safe to retry.
type CollectionSearcher interface {
	SearchCollections(ctx context.Context, filter CollectionFilter) ([]common.Collection, error)
}

// ProductResolver binds a collection id to its typed Product descriptor
type ProductResolver interface {
	GetProduct(ctx context.Context, collectionID string) (*common.Product, error)
}

// AcquisitionLister enumerates the acquisitions intersecting a query
type AcquisitionLister interface {
	SearchAcquisitions(ctx context.Context, collectionID string, query common.GeoQuery) ([]Acquisition, error)
}

// ErrConfiguration is returned before any network call when credentials are missing
type ErrConfiguration struct {
	Missing []string
}

func (e ErrConfiguration) Error() string {
	return fmt.Sprintf("missing configuration: %s", strings.Join(e.Missing, ", "))
}

// ErrAuth is returned when the service rejects the credentials (never retried)
type ErrAuth struct {
	Endpoint string
	Status   string
}

func (e ErrAuth) Error() string {
	return fmt.Sprintf("authentication rejected by %s: %s", e.Endpoint, e.Status)
}

// ErrCollectionNotFound is returned when the collection id is unknown to the catalog
type ErrCollectionNotFound struct {
	CollectionID string
}

func (e ErrCollectionNotFound) Error() string {
	return fmt.Sprintf("collection not found: %s", e.CollectionID)
}

// ErrCatalogUnavailable is returned when a transient search failure exhausts its retries
type ErrCatalogUnavailable struct {
	Endpoint string
	Err      error
}

func (e ErrCatalogUnavailable) Error() string {
	return fmt.Sprintf("catalog %s unavailable: %v", e.Endpoint, e.Err)
}

func (e ErrCatalogUnavailable) Unwrap() error { return e.Err }
