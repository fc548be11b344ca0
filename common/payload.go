package common

import (
	"encoding/json"
	"fmt"
	"os"
)

const (
	ResultTypeStack      = DatasetTypeIfgStack
	ResultTypeTimeSeries = DatasetTypeTimeSeries
)

// StackInput is the context of a filtered interferogram stack generation
type StackInput struct {
	Project          string      `json:"project"`
	Products         []string    `json:"products"`
	RegionOfInterest []float64   `json:"region_of_interest"` // min_lat, max_lat, min_lon, max_lon (empty: envelope of the products)
	RefPoint         []float64   `json:"ref_point"`          // lat, lon
	RefBoxNumPixels  []int       `json:"ref_box_num_pixels"` // width, height
	CoverageTh       float64     `json:"coverage_threshold"`
	CoherenceTh      float64     `json:"coherence_threshold"`
	RangePixelSize   float64     `json:"range_pixel_size"`
	AzimuthPixelSize float64     `json:"azimuth_pixel_size"`
	Inc              float64     `json:"inc"`
	Filt             float64     `json:"filt"`
	NetRamp          bool        `json:"netramp"`
	GPSRamp          bool        `json:"gpsramp"`
	Subswath         Swath       `json:"subswath"`
	Track            json.Number `json:"track,omitempty"`
}

// Validate checks the consistency of the input
func (in StackInput) Validate() error {
	if len(in.Products) == 0 {
		return fmt.Errorf("no products")
	}
	if in.CoverageTh < 0 || in.CoverageTh > 1 {
		return fmt.Errorf("coverage_threshold must be in [0, 1], got %v", in.CoverageTh)
	}
	if in.CoherenceTh < 0 || in.CoherenceTh > 1 {
		return fmt.Errorf("coherence_threshold must be in [0, 1], got %v", in.CoherenceTh)
	}
	if _, err := NewReferencePoint(in.RefPoint, in.RefBoxNumPixels); err != nil {
		return err
	}
	if len(in.RegionOfInterest) > 0 {
		if _, err := NewROI(in.RegionOfInterest); err != nil {
			return err
		}
	}
	if in.Track != "" {
		if _, err := in.Track.Int64(); err != nil {
			return fmt.Errorf("invalid track %q: %w", in.Track, err)
		}
	}
	return nil
}

// TimeSeriesInput is the context of a displacement time-series generation
type TimeSeriesInput struct {
	Project  string   `json:"project"`
	Products []string `json:"products"` // products[0] is the filtered stack directory
	Method   string   `json:"method"`   // sbas or nsbas
}

// Result is published at the end of a run
type Result struct {
	Type    string `json:"type"` // ResultTypeStack or ResultTypeTimeSeries
	ID      string `json:"id"`
	Status  Status `json:"status"`
	Message string `json:"message"`
}

// LoadJSON decodes the json file into v
func LoadJSON(file string, v interface{}) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return fmt.Errorf("LoadJSON: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("LoadJSON[%s]: %w", file, err)
	}
	return nil
}

// WriteJSON encodes v into an indented json file
func WriteJSON(file string, v interface{}) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("WriteJSON: %w", err)
	}
	if err := os.WriteFile(file, b, 0644); err != nil {
		return fmt.Errorf("WriteJSON: %w", err)
	}
	return nil
}
