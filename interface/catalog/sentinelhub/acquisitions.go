package sentinelhub

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"

	"github.com/araddon/dateparse"
	"github.com/geolens/pansharp/common"
	"github.com/geolens/pansharp/interface/catalog"
	"github.com/geolens/pansharp/service/log"
)

type acquisitionSearchRequest struct {
	Collection string `json:"collection"`
	Intersects string `json:"intersects"`
	From       string `json:"from"`
	To         string `json:"to"`
	Limit      int    `json:"limit"`
	Offset     int    `json:"offset"`
}

type acquisitionEntry struct {
	ID         string   `json:"id"`
	Datetime   string   `json:"datetime"`
	CloudCover *float64 `json:"cloud_cover"`
}

type acquisitionSearchResponse struct {
	Data  []acquisitionEntry `json:"data"`
	Total int                `json:"total"`
}

// SearchAcquisitions implements catalog.AcquisitionLister: the acquisitions
// of a collection whose footprint intersects the query AOI (sent as a WKT
// polygon) in the time range, ascending by timestamp. The inclusive time
// bounds are re-checked client-side.
func (c *Client) SearchAcquisitions(ctx context.Context, collectionID string, query common.GeoQuery) ([]catalog.Acquisition, error) {
	request := acquisitionSearchRequest{
		Collection: collectionID,
		Intersects: query.BBox.WKT(),
		From:       query.Time.Start.UTC().Format("2006-01-02T15:04:05.999Z"),
		To:         query.Time.End.UTC().Format("2006-01-02T15:04:05.999Z"),
		Limit:      c.pageLimit,
	}

	var acquisitions []catalog.Acquisition
	seen := make(map[string]struct{})
	for page := 0; ; page++ {
		request.Offset = page * c.pageLimit
		b, err := json.Marshal(request)
		if err != nil {
			return nil, fmt.Errorf("SearchAcquisitions.Marshal: %w", err)
		}
		body, err := c.do(ctx, http.MethodPost, c.endpoint+"/catalog/search", b)
		if err != nil {
			return nil, fmt.Errorf("SearchAcquisitions[%s].%w", collectionID, err)
		}
		response := acquisitionSearchResponse{}
		if err := json.Unmarshal(body, &response); err != nil {
			return nil, fmt.Errorf("SearchAcquisitions.Unmarshal: %w (response: %s)", err, body)
		}

		for _, entry := range response.Data {
			if _, ok := seen[entry.ID]; ok {
				continue
			}
			seen[entry.ID] = struct{}{}
			ts, err := dateparse.ParseAny(entry.Datetime)
			if err != nil {
				return nil, fmt.Errorf("SearchAcquisitions: failed to parse datetime %q: %w", entry.Datetime, err)
			}
			if !query.Time.Contains(ts) {
				continue
			}
			cloudCover := -1.0
			if entry.CloudCover != nil {
				cloudCover = *entry.CloudCover
			}
			acquisitions = append(acquisitions, catalog.Acquisition{
				ID:         entry.ID,
				Timestamp:  ts,
				CloudCover: cloudCover,
			})
		}

		if len(response.Data) == 0 || request.Offset+len(response.Data) >= response.Total {
			break
		}
	}

	sort.Slice(acquisitions, func(i, j int) bool {
		return acquisitions[i].Timestamp.Before(acquisitions[j].Timestamp)
	})
	log.Logger(ctx).Sugar().Debugf("%d acquisitions found for %s", len(acquisitions), collectionID)
	return acquisitions, nil
}
