package loader

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/interface/provider"
	"github.com/geolens/pansharp/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCatalog struct {
	acquisitions []catalog.Acquisition
	err          error
}

func (c *fakeCatalog) SearchAcquisitions(ctx context.Context, collectionID string, query common.GeoQuery) ([]catalog.Acquisition, error) {
	return c.acquisitions, c.err
}

// fakeProvider serves constant grids at a fixed native shape, with optional
// failure injection per scene
type fakeProvider struct {
	name    string
	nativeW int
	nativeH int
	value   float64
	fail    map[string]error

	fetches atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	p.fetches.Add(1)
	if err, ok := p.fail[acq.ID]; ok {
		return nil, err
	}
	grid := common.NewGrid(p.nativeW, p.nativeH, band.NoData)
	for i := range grid.Data {
		grid.Data[i] = p.value
	}
	return grid, nil
}

var (
	feb = time.Date(2021, 2, 26, 8, 0, 0, 0, time.UTC)
	jun = time.Date(2021, 6, 29, 8, 0, 0, 0, time.UTC)
)

func testProduct() *common.Product {
	bands := make([]common.Band, 0, 5)
	for _, name := range []string{"B0", "B1", "B2", "B3", "PAN"} {
		bands = append(bands, common.Band{Name: name, DType: common.DTypeUInt16, Resolution: 10})
	}
	return &common.Product{
		CollectionID: "sentinel-2-l2a",
		Bands:        bands,
		Extent:       common.NewBBox(-180, -90, 180, 90),
	}
}

func testQuery() common.GeoQuery {
	return common.GeoQuery{
		BBox:       common.NewBBox(34.0, 0.0, 34.001, 0.001),
		Time:       common.TimeRange{Start: feb.AddDate(0, -1, 0), End: jun.AddDate(0, 1, 0)},
		Resolution: 10,
	}
}

func testLoader(cat catalog.AcquisitionLister, providers ...provider.BandProvider) *Loader {
	return &Loader{
		Catalog:     cat,
		Providers:   providers,
		Concurrency: 2,
		Retries:     1,
		RetryDelay:  time.Millisecond,
	}
}

func TestPlanMaterialize(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{
		{ID: "S2_20210629", Timestamp: jun, CloudCover: 0.2},
		{ID: "S2_20210226", Timestamp: feb, CloudCover: 0.05},
	}}
	prov := &fakeProvider{name: "fake", nativeW: 5, nativeH: 5, value: 42}

	plan, err := testLoader(cat, prov).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)
	require.Len(t, plan.Acquisitions, 2)
	assert.Equal(t, int32(0), prov.fetches.Load(), "planning must not fetch")

	stack, failures, err := plan.Materialize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, stack.Scenes, 2)

	// scenes sorted by ascending timestamp
	assert.Equal(t, []time.Time{feb, jun}, stack.Timestamps())

	// all bands present, aligned on the target grid
	width, height := testQuery().GridSize()
	w, h := stack.Shape()
	assert.Equal(t, width, w)
	assert.Equal(t, height, h)
	for _, scene := range stack.Scenes {
		require.ElementsMatch(t, []string{"B0", "B1", "B2", "B3", "PAN"}, scene.BandNames())
		assert.Equal(t, 42.0, scene.Bands["PAN"].At(0, 0))
	}
	assert.Equal(t, int32(10), prov.fetches.Load(), "2 scenes x 5 bands")
	assert.Equal(t, "EPSG:4326", stack.CRS)
}

func TestPlanCloudFilter(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{
		{ID: "clear", Timestamp: feb, CloudCover: 0.05},
		{ID: "cloudy", Timestamp: jun, CloudCover: 0.8},
		{ID: "unknown", Timestamp: jun.AddDate(0, 0, 5), CloudCover: -1},
	}}
	query := testQuery()
	maxCloud := 0.2
	query.MaxCloudCover = &maxCloud

	plan, err := testLoader(cat, &fakeProvider{name: "fake", nativeW: 2, nativeH: 2}).Plan(context.Background(), testProduct(), query)
	require.NoError(t, err)
	require.Len(t, plan.Acquisitions, 2)
	assert.Equal(t, "clear", plan.Acquisitions[0].ID)
	assert.Equal(t, "unknown", plan.Acquisitions[1].ID, "unknown cloud cover is kept")
}

func TestPlanDuplicateTimestamp(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{
		{ID: "S2_T36_20210226", Timestamp: feb},
		{ID: "S2_T37_20210226", Timestamp: feb},
		{ID: "S2_20210629", Timestamp: jun},
	}}

	plan, err := testLoader(cat, &fakeProvider{name: "fake", nativeW: 2, nativeH: 2}).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)
	require.Len(t, plan.Acquisitions, 2, "one acquisition per timestamp")
	assert.Equal(t, "S2_T36_20210226", plan.Acquisitions[0].ID, "the first acquisition wins")

	stack, failures, err := plan.Materialize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Equal(t, []time.Time{feb, jun}, stack.Timestamps())
}

func TestPlanRejections(t *testing.T) {
	l := testLoader(&fakeCatalog{}, &fakeProvider{name: "fake"})

	query := testQuery()
	query.Resolution = 0
	_, err := l.Plan(context.Background(), testProduct(), query)
	assert.Error(t, err, "invalid query")

	query = testQuery()
	query.Bands = []string{"B42"}
	_, err = l.Plan(context.Background(), testProduct(), query)
	assert.Error(t, err, "unknown band")

	product := testProduct()
	product.Extent = common.NewBBox(0, 0, 1, 1)
	_, err = l.Plan(context.Background(), product, testQuery())
	assert.Error(t, err, "bbox outside the collection extent")

	_, err = (&Loader{Catalog: &fakeCatalog{}}).Plan(context.Background(), testProduct(), testQuery())
	assert.Error(t, err, "no provider")
}

func TestMaterializePartialFailure(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{
		{ID: "ok", Timestamp: feb},
		{ID: "broken", Timestamp: jun},
	}}
	prov := &fakeProvider{name: "fake", nativeW: 3, nativeH: 3, value: 7,
		fail: map[string]error{"broken": service.MakeFatal(fmt.Errorf("corrupted scene"))}}

	plan, err := testLoader(cat, prov).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)

	stack, failures, err := plan.Materialize(context.Background())
	require.NoError(t, err)
	require.Len(t, stack.Scenes, 1)
	assert.Equal(t, feb, stack.Scenes[0].Timestamp)
	require.Len(t, failures, 1)
	assert.Equal(t, jun, failures[0].Timestamp)
	assert.Contains(t, failures[0].Error(), "corrupted scene")
}

func TestMaterializeEmptyLoad(t *testing.T) {
	// zero acquisitions: empty-load error with an empty failure list
	plan, err := testLoader(&fakeCatalog{}, &fakeProvider{name: "fake"}).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)

	_, failures, err := plan.Materialize(context.Background())
	var empty ErrEmptyLoad
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, "sentinel-2-l2a", empty.CollectionID)
	assert.Empty(t, empty.Failures)
	assert.Empty(t, failures)

	// all scenes failing: empty-load error carrying the failures
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{{ID: "broken", Timestamp: feb}}}
	prov := &fakeProvider{name: "fake", nativeW: 2, nativeH: 2,
		fail: map[string]error{"broken": service.MakeFatal(fmt.Errorf("corrupted scene"))}}
	plan, err = testLoader(cat, prov).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)

	_, _, err = plan.Materialize(context.Background())
	require.ErrorAs(t, err, &empty)
	assert.Len(t, empty.Failures, 1)
}

func TestMaterializeCancellation(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{{ID: "ok", Timestamp: feb}}}
	plan, err := testLoader(cat, &fakeProvider{name: "fake", nativeW: 2, nativeH: 2}).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stack, _, err := plan.Materialize(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, stack, "partial results are discarded")
}

func TestProviderFallback(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{{ID: "ok", Timestamp: feb}}}
	broken := &fakeProvider{name: "broken", fail: map[string]error{"ok": service.MakeFatal(errors.New("denied"))}}
	good := &fakeProvider{name: "good", nativeW: 2, nativeH: 2, value: 3}

	plan, err := testLoader(cat, broken, good).Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)
	stack, failures, err := plan.Materialize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failures)
	require.Len(t, stack.Scenes, 1)
	assert.Equal(t, 3.0, stack.Scenes[0].Bands["B0"].At(0, 0))
	assert.Equal(t, int32(5), good.fetches.Load())
}

func TestFetchRetriesTemporary(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{{ID: "flaky", Timestamp: feb}}}
	prov := &flakyProvider{failures: 1}

	l := testLoader(cat, prov)
	l.Retries = 3
	plan, err := l.Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)
	stack, failures, err := plan.Materialize(context.Background())
	require.NoError(t, err)
	assert.Empty(t, failures)
	assert.Len(t, stack.Scenes, 1)
}

func TestFetchTimeout(t *testing.T) {
	cat := &fakeCatalog{acquisitions: []catalog.Acquisition{{ID: "slow", Timestamp: feb}}}
	l := testLoader(cat, &blockingProvider{})
	l.FetchTimeout = 20 * time.Millisecond

	plan, err := l.Plan(context.Background(), testProduct(), testQuery())
	require.NoError(t, err)
	stack, failures, err := plan.Materialize(context.Background())
	assert.Nil(t, stack)
	require.Len(t, failures, 1)
	assert.ErrorIs(t, failures[0], context.DeadlineExceeded)
	var empty ErrEmptyLoad
	require.ErrorAs(t, err, &empty)
}

func TestFetchTimeoutDefault(t *testing.T) {
	assert.Equal(t, time.Minute, (&Loader{}).fetchTimeout())
	assert.Equal(t, 5*time.Second, (&Loader{FetchTimeout: 5 * time.Second}).fetchTimeout())
}

// blockingProvider hangs until its context expires
type blockingProvider struct{}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// flakyProvider fails the first attempts with a temporary error
type flakyProvider struct {
	failures int
	calls    int
}

func (p *flakyProvider) Name() string { return "flaky" }

func (p *flakyProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	p.calls++
	if p.calls <= p.failures {
		return nil, service.MakeTemporary(errors.New("timeout"))
	}
	return common.NewGrid(2, 2, band.NoData), nil
}
