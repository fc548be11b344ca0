package common

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ROI is a geographic bounding box (degrees)
type ROI struct {
	MinLat, MaxLat, MinLon, MaxLon float64
}

// NewROI creates a ROI from the [min_lat, max_lat, min_lon, max_lon] convention of the inputs
func NewROI(bounds []float64) (ROI, error) {
	if len(bounds) != 4 {
		return ROI{}, fmt.Errorf("NewROI: expecting 4 values (min_lat, max_lat, min_lon, max_lon), got %d", len(bounds))
	}
	roi := ROI{MinLat: bounds[0], MaxLat: bounds[1], MinLon: bounds[2], MaxLon: bounds[3]}
	if roi.MinLat >= roi.MaxLat || roi.MinLon >= roi.MaxLon {
		return ROI{}, fmt.Errorf("NewROI: empty region %v", bounds)
	}
	return roi, nil
}

func (r ROI) String() string {
	return fmt.Sprintf("%v %v %v %v", r.MinLon, r.MaxLon, r.MinLat, r.MaxLat)
}

// Ring returns the closed ring of the ROI as [lon, lat] pairs (GeoJSON order)
func (r ROI) Ring() [][2]float64 {
	return [][2]float64{
		{r.MaxLon, r.MaxLat},
		{r.MaxLon, r.MinLat},
		{r.MinLon, r.MinLat},
		{r.MinLon, r.MaxLat},
		{r.MaxLon, r.MaxLat},
	}
}

// BBox returns the closed ring of the ROI as [lat, lon] pairs (met.json order)
func (r ROI) BBox() [][2]float64 {
	ring := r.Ring()
	bbox := make([][2]float64, len(ring))
	for i, p := range ring {
		bbox[i] = [2]float64{p[1], p[0]}
	}
	return bbox
}

// ReferencePoint is a geographic point with the half-size (in pixels) of the reference box around it
type ReferencePoint struct {
	Lat, Lon   float64
	HalfWidth  int
	HalfHeight int
}

// NewReferencePoint creates a ReferencePoint from a [lat, lon] point and a [width, height] box size in pixels.
func NewReferencePoint(point []float64, boxNumPixels []int) (ReferencePoint, error) {
	if len(point) != 2 {
		return ReferencePoint{}, fmt.Errorf("NewReferencePoint: expecting [lat, lon], got %v", point)
	}
	if len(boxNumPixels) != 2 {
		return ReferencePoint{}, fmt.Errorf("NewReferencePoint: expecting [width, height], got %v", boxNumPixels)
	}
	return ReferencePoint{
		Lat:        point[0],
		Lon:        point[1],
		HalfWidth:  (boxNumPixels[0] - 1) / 2,
		HalfHeight: (boxNumPixels[1] - 1) / 2,
	}, nil
}

// Swath identifies a subswath. It is decoded from a number, a string or a list (first element).
type Swath string

// UnmarshalJSON implements json.Unmarshaler
func (s *Swath) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	if l, ok := v.([]interface{}); ok {
		if len(l) == 0 {
			*s = ""
			return nil
		}
		v = l[0]
	}
	switch v := v.(type) {
	case nil:
		*s = ""
	case string:
		*s = Swath(strings.TrimSpace(v))
	case float64:
		*s = Swath(strconv.FormatFloat(v, 'f', -1, 64))
	default:
		return fmt.Errorf("invalid swath: %s", string(data))
	}
	return nil
}

// Matches returns true if the swath matches the selector. An empty selector matches all swaths.
func (s Swath) Matches(selector Swath) bool {
	return selector == "" || s == selector
}
