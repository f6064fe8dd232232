package common

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func checkKeyValue(t *testing.T, format map[string]string, key, value string) {
	if v, ok := format[key]; !ok {
		t.Errorf("key %s not found", key)
	} else if v != value {
		t.Errorf("expected %s for key %s, got %s", value, key, v)
	}
}

func TestBracketsInfo(t *testing.T) {
	ts := time.Date(2021, 2, 26, 10, 44, 29, 0, time.UTC)
	info := BracketsInfo("sentinel-2-l2a", "S2B_20210226", "B02", ts)
	checkKeyValue(t, info, "COLLECTION", "sentinel-2-l2a")
	checkKeyValue(t, info, "SCENE", "S2B_20210226")
	checkKeyValue(t, info, "BAND", "B02")
	checkKeyValue(t, info, "DATE", "20210226")
	checkKeyValue(t, info, "YEAR", "2021")
	checkKeyValue(t, info, "MONTH", "02")
	checkKeyValue(t, info, "DAY", "26")
	checkKeyValue(t, info, "TIME", "104429")

	url := FormatBrackets("https://delivery/{COLLECTION}/{YEAR}/{MONTH}/{SCENE}_{BAND}.tif", info)
	expected := "https://delivery/sentinel-2-l2a/2021/02/S2B_20210226_B02.tif"
	if url != expected {
		t.Errorf("expected %s, got %s", expected, url)
	}
}

func TestOutputFileName(t *testing.T) {
	ts := time.Date(2021, 2, 26, 8, 0, 0, 0, time.UTC)
	if name := OutputFileName("Mozambique", ts, false); name != "Mozambique_2021-02-26.tif" {
		t.Errorf("unexpected file name %s", name)
	}
	if name := OutputFileName("Mozambique", ts, true); name != "Mozambique_2021-02-26_rgb.tif" {
		t.Errorf("unexpected file name %s", name)
	}
}

func TestValidateRegion(t *testing.T) {
	for _, region := range []string{"Mozambique", "area-51", "T32:UNF_2"} {
		if err := ValidateRegion(region); err != nil {
			t.Errorf("expected %s to be valid: %v", region, err)
		}
	}
	for _, region := range []string{"", "no spaces", "no/slash", "no.dots"} {
		if err := ValidateRegion(region); err == nil {
			t.Errorf("expected %s to be invalid", region)
		}
	}
}

func TestResamplingRoundTrip(t *testing.T) {
	for _, r := range []Resampling{ResamplingNearest, ResamplingBilinear, ResamplingBicubic} {
		got, err := GetResamplingFromString(r.String())
		if err != nil {
			t.Errorf("%v", err)
		}
		if got != r {
			t.Errorf("expected %v, got %v", r, got)
		}
	}
	if r, err := GetResamplingFromString(""); err != nil || r != ResamplingNearest {
		t.Errorf("expected empty input to default to nearest")
	}
	if _, err := GetResamplingFromString("lanczos"); err == nil {
		t.Errorf("expected an error on an unknown method")
	}
}

func TestBBox(t *testing.T) {
	b := NewBBox(34.0, -20.0, 35.0, -19.0)
	if err := b.Validate(); err != nil {
		t.Fatalf("%v", err)
	}
	if err := NewBBox(35.0, -20.0, 34.0, -19.0).Validate(); err == nil {
		t.Errorf("expected an inverted bbox to be invalid")
	}
	if err := NewBBox(-190, -20, 35, -19).Validate(); err == nil {
		t.Errorf("expected an out-of-range bbox to be invalid")
	}
	if !b.Intersects(NewBBox(34.5, -19.5, 36, -18)) {
		t.Errorf("expected bboxes to intersect")
	}
	if b.Intersects(NewBBox(36, -19.5, 37, -18)) {
		t.Errorf("expected bboxes not to intersect")
	}
}

func TestBBoxWKT(t *testing.T) {
	w := NewBBox(34.0, -20.0, 35.0, -19.0).WKT()
	if !strings.HasPrefix(w, "POLYGON") {
		t.Fatalf("expected a wkt polygon, got %q", w)
	}
	for _, coord := range []string{"34", "35", "-20", "-19"} {
		if !strings.Contains(w, coord) {
			t.Errorf("wkt %q misses coordinate %s", w, coord)
		}
	}
}

func TestGeoQuery(t *testing.T) {
	query := GeoQuery{
		BBox:       NewBBox(34.0, -20.0, 34.1, -19.9),
		Time:       TimeRange{Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)},
		Resolution: 10,
	}
	if err := query.Validate(); err != nil {
		t.Fatalf("%v", err)
	}
	if query.CRSOrDefault() != "EPSG:4326" {
		t.Errorf("expected the default CRS, got %s", query.CRSOrDefault())
	}

	w, h := query.GridSize()
	if w <= 0 || h <= 0 {
		t.Fatalf("expected a non-empty grid, got %dx%d", w, h)
	}
	// 0.1 deg of latitude at 10m/pixel
	if h < 1100 || h > 1130 {
		t.Errorf("unexpected grid height %d", h)
	}
	// longitude spans shrink with cos(lat)
	if w >= h {
		t.Errorf("expected width %d < height %d at latitude -20", w, h)
	}

	gt := query.Transform()
	if gt[0] != 34.0 || gt[3] != -19.9 {
		t.Errorf("unexpected grid origin (%g, %g)", gt[0], gt[3])
	}
	if gt[1] <= 0 || gt[5] >= 0 {
		t.Errorf("unexpected pixel size (%g, %g)", gt[1], gt[5])
	}

	query.Resolution = -1
	if err := query.Validate(); err == nil {
		t.Errorf("expected a negative resolution to be invalid")
	}
}

func TestTimeRangeInclusive(t *testing.T) {
	r := TimeRange{
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 6, 29, 0, 0, 0, 0, time.UTC),
	}
	if !r.Contains(r.Start) || !r.Contains(r.End) {
		t.Errorf("expected the range bounds to be included")
	}
	if r.Contains(r.End.Add(time.Second)) {
		t.Errorf("expected a timestamp after the range to be excluded")
	}
}

func newTestScene(ts time.Time, w, h int) *Scene {
	return &Scene{
		Timestamp: ts,
		Bands: map[string]*Grid{
			"B02": NewGrid(w, h, 0),
			"B03": NewGrid(w, h, 0),
		},
	}
}

func TestNewRasterStack(t *testing.T) {
	t1 := time.Date(2021, 2, 26, 8, 0, 0, 0, time.UTC)
	t2 := time.Date(2021, 6, 29, 8, 0, 0, 0, time.UTC)

	// sorted by ascending timestamp whatever the input order
	stack, err := NewRasterStack([]*Scene{newTestScene(t2, 4, 4), newTestScene(t1, 4, 4)}, "EPSG:4326", [6]float64{}, nil)
	if err != nil {
		t.Fatalf("%v", err)
	}
	ts := stack.Timestamps()
	if len(ts) != 2 || !ts[0].Equal(t1) || !ts[1].Equal(t2) {
		t.Errorf("unexpected timestamps %v", ts)
	}

	if _, err := NewRasterStack([]*Scene{newTestScene(t1, 4, 4), newTestScene(t1, 4, 4)}, "EPSG:4326", [6]float64{}, nil); err == nil {
		t.Errorf("expected duplicated timestamps to be rejected")
	}
	if _, err := NewRasterStack([]*Scene{newTestScene(t1, 4, 4), newTestScene(t2, 5, 4)}, "EPSG:4326", [6]float64{}, nil); err == nil {
		t.Errorf("expected a shape mismatch to be rejected")
	}

	scene := newTestScene(t1, 4, 4)
	scene.Bands["B03"] = NewGrid(3, 4, 0)
	if _, err := NewRasterStack([]*Scene{scene}, "EPSG:4326", [6]float64{}, nil); err == nil {
		t.Errorf("expected a band shape mismatch to be rejected")
	}
}

func TestProductSelectBands(t *testing.T) {
	product := Product{
		CollectionID: "sentinel-2-l2a",
		Bands:        []Band{{Name: "B02"}, {Name: "B03"}, {Name: "PAN"}},
	}
	bands, err := product.SelectBands(nil)
	if err != nil || len(bands) != 3 {
		t.Errorf("expected all bands, got %v (%v)", bands, err)
	}
	bands, err = product.SelectBands([]string{"B03", "B02"})
	if err != nil {
		t.Fatalf("%v", err)
	}
	if len(bands) != 2 || bands[0].Name != "B03" || bands[1].Name != "B02" {
		t.Errorf("expected the requested order, got %v", bands)
	}
	if _, err := product.SelectBands([]string{"B42"}); err == nil {
		t.Errorf("expected an unknown band to be rejected")
	}
}

func TestLoadJob(t *testing.T) {
	job := Job{
		Region:       "Mozambique",
		CollectionID: "sentinel-2-l2a",
		BBox:         [4]float64{34.0, -20.0, 34.1, -19.9},
		StartTime:    time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC),
		Resolution:   10,
		Sharpening:   &SharpenAttrs{Red: "B04", Green: "B03", Blue: "B02", Pan: "PAN", WeightR: 1, WeightG: 1, WeightB: 0.4, Scale: 10000},
		OutputDir:    "/tmp",
	}
	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("%v", err)
	}
	path := filepath.Join(t.TempDir(), "job.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("%v", err)
	}

	loaded, err := LoadJob(path)
	if err != nil {
		t.Fatalf("%v", err)
	}
	if loaded.Region != "Mozambique" || loaded.Sharpening == nil || loaded.Sharpening.Scale != 10000 {
		t.Errorf("unexpected job %+v", loaded)
	}

	job.Region = "not a region"
	data, _ = json.Marshal(job)
	os.WriteFile(path, data, 0644)
	if _, err := LoadJob(path); err == nil {
		t.Errorf("expected an invalid region to be rejected")
	}
}
