package common

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// SharpenAttrs configures the pan-sharpening step of a job
type SharpenAttrs struct {
	Red     string  `json:"red"`
	Green   string  `json:"green"`
	Blue    string  `json:"blue"`
	Pan     string  `json:"pan"`
	WeightR float64 `json:"weight_r"`
	WeightG float64 `json:"weight_g"`
	WeightB float64 `json:"weight_b"`
	Scale   float64 `json:"scale"` // full-scale sensor range dividing raw digital numbers
}

// RescaleAttrs configures the display rescaling step of a job
type RescaleAttrs struct {
	DomainMax float64 `json:"domain_max"`
	OutMax    int     `json:"out_max"`
}

// Job is the input payload of the pipeline
type Job struct {
	Region        string        `json:"region"`
	CollectionID  string        `json:"collection_id"`
	BBox          [4]float64    `json:"bbox"` // [minLon, minLat, maxLon, maxLat]
	StartTime     time.Time     `json:"start_time"`
	EndTime       time.Time     `json:"end_time"`
	Resolution    float64       `json:"resolution"`
	Resampling    string        `json:"resampling,omitempty"`
	Bands         []string      `json:"bands,omitempty"`
	MaxCloudCover *float64      `json:"max_cloud_cover,omitempty"`
	Sharpening    *SharpenAttrs `json:"sharpening,omitempty"`
	Rescaling     *RescaleAttrs `json:"rescaling,omitempty"`
	OutputDir     string        `json:"output_dir"`
}

// LoadJob reads and validates a job payload file
func LoadJob(path string) (*Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("LoadJob: %w", err)
	}
	job := Job{}
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("LoadJob.Unmarshal: %w", err)
	}
	if err := job.Validate(); err != nil {
		return nil, fmt.Errorf("LoadJob: %w", err)
	}
	return &job, nil
}

func (j *Job) Validate() error {
	if err := ValidateRegion(j.Region); err != nil {
		return err
	}
	if j.CollectionID == "" {
		return fmt.Errorf("missing collection_id")
	}
	if j.OutputDir == "" {
		return fmt.Errorf("missing output_dir")
	}
	query, err := j.GeoQuery()
	if err != nil {
		return err
	}
	if j.Sharpening != nil {
		s := j.Sharpening
		if s.Red == "" || s.Green == "" || s.Blue == "" || s.Pan == "" {
			return fmt.Errorf("sharpening: red, green, blue and pan band names are required")
		}
		if s.Scale <= 0 {
			return fmt.Errorf("sharpening: scale must be strictly positive")
		}
	}
	if j.Rescaling != nil && j.Rescaling.DomainMax <= 0 {
		return fmt.Errorf("rescaling: domain_max must be strictly positive")
	}
	return query.Validate()
}

// GeoQuery builds the load query of the job
func (j *Job) GeoQuery() (GeoQuery, error) {
	resampling, err := GetResamplingFromString(j.Resampling)
	if err != nil {
		return GeoQuery{}, err
	}
	return GeoQuery{
		BBox:          NewBBox(j.BBox[0], j.BBox[1], j.BBox[2], j.BBox[3]),
		Time:          TimeRange{Start: j.StartTime, End: j.EndTime},
		Resolution:    j.Resolution,
		Resampling:    resampling,
		Bands:         j.Bands,
		MaxCloudCover: j.MaxCloudCover,
	}, nil
}
