package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/interface/provider"
	"github.com/geolens/pansharp/service"
	"github.com/geolens/pansharp/service/log"
	"golang.org/x/sync/errgroup"
)

// SceneFailure records one acquisition dropped during materialization
type SceneFailure struct {
	Timestamp time.Time
	Band      string
	Err       error
}

func (f SceneFailure) Error() string {
	return fmt.Sprintf("scene %s [%s]: %v", f.Timestamp.Format(time.RFC3339), f.Band, f.Err)
}

func (f SceneFailure) Unwrap() error {
	return f.Err
}

// ErrEmptyLoad is returned when a load yields zero usable scenes
type ErrEmptyLoad struct {
	CollectionID string
	Query        common.GeoQuery
	Failures     []SceneFailure
}

func (e ErrEmptyLoad) Error() string {
	msg := fmt.Sprintf("no scene found for %s in %v / [%s, %s]", e.CollectionID,
		e.Query.BBox.Slice(), e.Query.Time.Start.Format("2006-01-02"), e.Query.Time.End.Format("2006-01-02"))
	if len(e.Failures) != 0 {
		details := make([]string, len(e.Failures))
		for i, f := range e.Failures {
			details[i] = f.Error()
		}
		msg += " (" + strings.Join(details, "; ") + ")"
	}
	return msg
}

// Loader fetches time series of band rasters through the catalog and a chain
// of providers, tried in order until one succeeds.
type Loader struct {
	Catalog   catalog.AcquisitionLister
	Providers []provider.BandProvider

	// Concurrency bounds the number of scenes fetched in parallel (default 4)
	Concurrency int
	// Retries per band fetch on temporary errors (default 3)
	Retries int
	// RetryDelay before the first retry, doubling afterwards (default 1s)
	RetryDelay time.Duration
	// FetchTimeout bounds one band fetch attempt (default 1m)
	FetchTimeout time.Duration
}

const defaultFetchTimeout = time.Minute

func (l *Loader) fetchTimeout() time.Duration {
	if l.FetchTimeout > 0 {
		return l.FetchTimeout
	}
	return defaultFetchTimeout
}

// Plan is a deferred load: the acquisitions are enumerated, nothing is
// fetched yet. It can be inspected, and materialized several times.
type Plan struct {
	Product      *common.Product
	Query        common.GeoQuery
	Bands        []common.Band
	Acquisitions []catalog.Acquisition

	loader *Loader
}

// Plan enumerates the acquisitions matching the query and resolves the band
// subset, without fetching any pixel.
func (l *Loader) Plan(ctx context.Context, product *common.Product, query common.GeoQuery) (*Plan, error) {
	if err := query.Validate(); err != nil {
		return nil, fmt.Errorf("Plan.%w", err)
	}
	if len(l.Providers) == 0 {
		return nil, fmt.Errorf("Plan: no band provider configured")
	}
	bands, err := product.SelectBands(query.Bands)
	if err != nil {
		return nil, fmt.Errorf("Plan: %w", err)
	}
	if !query.BBox.Intersects(product.Extent) {
		return nil, fmt.Errorf("Plan: bbox %v does not intersect the extent of %s", query.BBox.Slice(), product.CollectionID)
	}

	acquisitions, err := l.Catalog.SearchAcquisitions(ctx, product.CollectionID, query)
	if err != nil {
		return nil, fmt.Errorf("Plan.%w", err)
	}

	// Cloud filter is re-checked here, acquisitions without a cloud cover are kept
	if query.MaxCloudCover != nil {
		kept := acquisitions[:0]
		for _, acq := range acquisitions {
			if acq.CloudCover < 0 || acq.CloudCover <= *query.MaxCloudCover {
				kept = append(kept, acq)
			}
		}
		acquisitions = kept
	}

	// Two acquisitions on the same instant cannot be stacked, the first one wins
	timestamps := make(map[int64]string, len(acquisitions))
	unique := acquisitions[:0]
	for _, acq := range acquisitions {
		if first, ok := timestamps[acq.Timestamp.UnixNano()]; ok {
			log.Logger(ctx).Sugar().Warnf("drop %s: same timestamp as %s", acq.ID, first)
			continue
		}
		timestamps[acq.Timestamp.UnixNano()] = acq.ID
		unique = append(unique, acq)
	}
	acquisitions = unique

	return &Plan{
		Product:      product,
		Query:        query,
		Bands:        bands,
		Acquisitions: acquisitions,
		loader:       l,
	}, nil
}

// Materialize executes the plan: every acquisition is fetched band by band on
// a bounded worker pool, resampled onto the target grid and assembled into a
// RasterStack sorted by timestamp. Acquisitions that fail after retries are
// dropped and reported in the failure list. Zero usable scenes is an
// ErrEmptyLoad. On cancellation, partial results are discarded.
func (p *Plan) Materialize(ctx context.Context) (*common.RasterStack, []SceneFailure, error) {
	l := p.loader
	concurrency := l.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	retries := l.Retries
	if retries <= 0 {
		retries = 3
	}
	retryDelay := l.RetryDelay
	if retryDelay <= 0 {
		retryDelay = time.Second
	}

	width, height := p.Query.GridSize()

	scenes := make([]*common.Scene, len(p.Acquisitions))
	failures := make([]SceneFailure, len(p.Acquisitions))

	wg, wctx := errgroup.WithContext(ctx)
	jobChan := make(chan int, len(p.Acquisitions))
	for i := 0; i < concurrency && i < len(p.Acquisitions); i++ {
		wg.Go(func() error {
			for idx := range jobChan {
				if wctx.Err() != nil {
					return wctx.Err()
				}
				scene, err := p.fetchScene(wctx, p.Acquisitions[idx], width, height, retries, retryDelay)
				if err != nil {
					var failure SceneFailure
					if !errors.As(err, &failure) {
						failure = SceneFailure{Timestamp: p.Acquisitions[idx].Timestamp, Err: err}
					}
					failures[idx] = failure
					log.Logger(wctx).Sugar().Warnf("drop scene %s: %v", p.Acquisitions[idx].ID, err)
					continue
				}
				scenes[idx] = scene
			}
			return nil
		})
	}
	for idx := range p.Acquisitions {
		jobChan <- idx
	}
	close(jobChan)

	if err := wg.Wait(); err != nil {
		return nil, nil, fmt.Errorf("Materialize.%w", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, fmt.Errorf("Materialize: %w", err)
	}

	loaded := make([]*common.Scene, 0, len(scenes))
	failed := make([]SceneFailure, 0)
	for idx, scene := range scenes {
		if scene != nil {
			loaded = append(loaded, scene)
		} else {
			failed = append(failed, failures[idx])
		}
	}
	if len(loaded) == 0 {
		return nil, failed, ErrEmptyLoad{CollectionID: p.Product.CollectionID, Query: p.Query, Failures: failed}
	}

	stack, err := common.NewRasterStack(loaded, p.Query.CRSOrDefault(), p.Query.Transform(), p.nodata())
	if err != nil {
		return nil, failed, fmt.Errorf("Materialize.%w", err)
	}
	return stack, failed, nil
}

func (p *Plan) nodata() map[string]float64 {
	nodata := make(map[string]float64, len(p.Bands))
	for _, b := range p.Bands {
		nodata[b.Name] = b.NoData
	}
	return nodata
}

// fetchScene retrieves and aligns all the bands of one acquisition
func (p *Plan) fetchScene(ctx context.Context, acq catalog.Acquisition, width, height, retries int, retryDelay time.Duration) (*common.Scene, error) {
	scene := &common.Scene{
		Timestamp:  acq.Timestamp,
		CloudCover: acq.CloudCover,
		Bands:      make(map[string]*common.Grid, len(p.Bands)),
	}
	for _, band := range p.Bands {
		grid, err := p.fetchBand(ctx, acq, band, retries, retryDelay)
		if err != nil {
			return nil, SceneFailure{Timestamp: acq.Timestamp, Band: band.Name, Err: err}
		}
		scene.Bands[band.Name] = Resample(grid, width, height, p.Query.Resampling)
	}
	return scene, nil
}

// fetchBand tries the providers in order, returning the first successful grid
func (p *Plan) fetchBand(ctx context.Context, acq catalog.Acquisition, band common.Band, retries int, retryDelay time.Duration) (*common.Grid, error) {
	var err error
	for _, prov := range p.loader.Providers {
		var grid *common.Grid
		ferr := service.Retriable(ctx, func() error {
			fctx, cancel := context.WithTimeout(ctx, p.loader.fetchTimeout())
			defer cancel()
			var e error
			grid, e = prov.FetchBand(fctx, p.Product.CollectionID, acq, band, p.Query.BBox)
			return e
		}, retryDelay, retries)
		if ferr == nil {
			return grid, nil
		}
		err = service.MergeErrors(true, err, fmt.Errorf("%s: %w", prov.Name(), ferr))
		if ctx.Err() != nil {
			break
		}
	}
	return nil, err
}
