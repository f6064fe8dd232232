package provider

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cavaliercoder/grab"
	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service"
	"github.com/geolens/pansharp/service/log"
	"github.com/google/uuid"
)

// DeliveryProvider downloads band rasters from a static delivery endpoint.
// The url template accepts {COLLECTION}, {SCENE}, {BAND}, {DATE}, {YEAR},
// {MONTH}, {DAY} and {TIME} placeholders.
type DeliveryProvider struct {
	urlTemplate string
	token       string
	workdir     string
	client      *grab.Client
}

func NewDeliveryProvider(urlTemplate, token, workdir string) *DeliveryProvider {
	if workdir == "" {
		workdir = os.TempDir()
	}
	return &DeliveryProvider{
		urlTemplate: urlTemplate,
		token:       token,
		workdir:     workdir,
		client:      grab.NewClient(),
	}
}

// Name implements BandProvider
func (d *DeliveryProvider) Name() string {
	return "Delivery"
}

// FetchBand implements BandProvider
func (d *DeliveryProvider) FetchBand(ctx context.Context, collectionID string, acq catalog.Acquisition, band common.Band, bbox common.BBox) (*common.Grid, error) {
	url := common.FormatBrackets(d.urlTemplate, common.BracketsInfo(collectionID, acq.ID, band.Name, acq.Timestamp))

	localDir := filepath.Join(d.workdir, uuid.New().String())
	if err := os.MkdirAll(localDir, 0766); err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("DeliveryProvider.MkdirAll: %w", err))
	}
	defer os.RemoveAll(localDir)

	localFile := filepath.Join(localDir, band.Name+".tif")
	if err := d.download(ctx, url, localFile, fmt.Sprintf("%s/%s", acq.ID, band.Name)); err != nil {
		return nil, fmt.Errorf("DeliveryProvider[%s/%s].%w", collectionID, acq.ID, err)
	}

	grid, err := readGrid(localFile, band.NoData, bbox)
	if err != nil {
		return nil, fmt.Errorf("DeliveryProvider[%s/%s].%w", collectionID, acq.ID, err)
	}
	return grid, nil
}

// download a file with display every 5%
func (d *DeliveryProvider) download(ctx context.Context, url, localFile, displayPrefix string) error {
	req, err := grab.NewRequest(localFile, url)
	if err != nil {
		return fmt.Errorf("download.NewRequest: %w", err)
	}
	req = req.WithContext(ctx)
	if d.token != "" {
		req.HTTPRequest.Header.Add("Authorization", "Bearer "+d.token)
	}

	resp := d.client.Do(req)
	displayProgress(ctx, displayPrefix, resp, 0.05)

	if err := resp.Err(); err != nil {
		err = fmt.Errorf("download[%s]: %w", req.URL(), err)
		if resp.HTTPResponse == nil {
			return service.MakeTemporary(err)
		}
		switch resp.HTTPResponse.StatusCode {
		case 404:
			return service.MakeFatal(ErrBandNotFound{Scene: displayPrefix, Band: filepath.Base(localFile)})
		case 408, 429, 500, 501, 502, 503, 504:
			return service.MakeTemporary(err)
		default:
			return err
		}
	}
	return nil
}

func fmtBytes(b int64) string {
	v := float64(b)
	switch {
	case v > 1<<30:
		return fmt.Sprintf("%.2fGo", v/(1<<30))
	case v > 1<<20:
		return fmt.Sprintf("%.2fMo", v/(1<<20))
	case v > 1<<10:
		return fmt.Sprintf("%.2fko", v/(1<<10))
	default:
		return fmt.Sprintf("%.2fo", v)
	}
}

func displayProgress(ctx context.Context, prefix string, resp *grab.Response, progressPeriod float64) {
	t := time.NewTicker(time.Second)
	defer t.Stop()

	progress, lastBytes, seconds := 0.0, int64(0), int64(0)
	for {
		select {
		case <-t.C:
			seconds++
			if resp.Progress() > progress {
				log.Logger(ctx).Sugar().Debugf("%s: %.2f%% %s/%s (%s/s)", prefix, 100*resp.Progress(), fmtBytes(resp.BytesComplete()), fmtBytes(resp.Size), fmtBytes((resp.BytesComplete()-lastBytes)/seconds))
				seconds = 0
				progress += progressPeriod
				lastBytes = resp.BytesComplete()
			}

		case <-resp.Done:
			return
		}
	}
}
