package filter

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/raster"
)

// StackFile is the name of the serialized Stack
const StackFile = "filt_info.json"

// IfgInfo gathers the attributes of a retained interferogram
type IfgInfo struct {
	Product          string      `json:"product"`
	StartDt          string      `json:"start_dt"`
	StopDt           string      `json:"stop_dt"`
	Bperp            float64     `json:"bperp"`
	Sensor           string      `json:"sensor"`
	SensorName       string      `json:"sensor_name"`
	Platform         string      `json:"platform"`
	Track            json.Number `json:"track,omitempty"`
	Width            int         `json:"width"`
	Length           int         `json:"length"`
	XLim             [2]int      `json:"xlim"`
	YLim             [2]int      `json:"ylim"`
	RXLim            [2]int      `json:"rxlim"`
	RYLim            [2]int      `json:"rylim"`
	CohTh            float64     `json:"cohth"`
	Wavelength       float64     `json:"wavelength"`
	HeadingDeg       float64     `json:"heading_deg"`
	CenterLineUTC    int         `json:"center_line_utc"`
	SensingMid       time.Time   `json:"sensing_mid"`
	RangePixelSize   float64     `json:"range_pixel_size"`
	AzimuthPixelSize float64     `json:"azimuth_pixel_size"`
	Inc              float64     `json:"inc"`
	NetRamp          bool        `json:"netramp"`
	GPSRamp          bool        `json:"gpsramp"`
	Filt             float64     `json:"filt"`
	UnwVrtIn         string      `json:"unw_vrt_in"`
	UnwVrtOut        string      `json:"unw_vrt_out"`
	CorVrtIn         string      `json:"cor_vrt_in"`
	CorVrtOut        string      `json:"cor_vrt_out"`
}

// Stack is the filtered stack of interferograms, keyed by DateKey
type Stack struct {
	Info           map[common.DateKey]IfgInfo `json:"ifg_info"`
	Coverage       map[common.DateKey]float64 `json:"ifg_coverage"`
	CenterLinesUTC []time.Time                `json:"center_lines_utc"`
	GeoTransform   raster.GeoTransform        `json:"geotransform"`
	Lats           []float64                  `json:"lats"`
	Lons           []float64                  `json:"lons"`
}

// NewStack creates an empty stack
func NewStack() *Stack {
	return &Stack{
		Info:     map[common.DateKey]IfgInfo{},
		Coverage: map[common.DateKey]float64{},
	}
}

// Len returns the number of interferograms
func (s *Stack) Len() int {
	return len(s.Info)
}

// Keys returns the keys of the stack in ascending order
func (s *Stack) Keys() []common.DateKey {
	keys := make([]common.DateKey, 0, len(s.Info))
	for k := range s.Info {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Ifgs returns the interferograms in ascending key order
func (s *Stack) Ifgs() []IfgInfo {
	ifgs := make([]IfgInfo, 0, len(s.Info))
	for _, k := range s.Keys() {
		ifgs = append(ifgs, s.Info[k])
	}
	return ifgs
}

// set adds or replaces the interferogram of the key
func (s *Stack) set(key common.DateKey, info IfgInfo, coverage float64) {
	s.Info[key] = info
	s.Coverage[key] = coverage
	s.CenterLinesUTC = s.CenterLinesUTC[:0]
	for _, k := range s.Keys() {
		s.CenterLinesUTC = append(s.CenterLinesUTC, s.Info[k].SensingMid)
	}
}

// Intervals returns the [start, stop] interval of each interferogram, in ascending key order
func (s *Stack) Intervals() ([]Interval, error) {
	intervals := make([]Interval, 0, len(s.Info))
	for _, k := range s.Keys() {
		start, stop, err := k.Dates()
		if err != nil {
			return nil, fmt.Errorf("Intervals: %w", err)
		}
		intervals = append(intervals, Interval{Start: start, End: stop})
	}
	return intervals, nil
}

// SensingRange returns the first and the last mid-burst times of the stack
func (s *Stack) SensingRange() (time.Time, time.Time) {
	var first, last time.Time
	for _, t := range s.CenterLinesUTC {
		if first.IsZero() || t.Before(first) {
			first = t
		}
		if t.After(last) {
			last = t
		}
	}
	return first, last
}

// AcquisitionDates returns the sorted unique acquisition dates of the stack
func (s *Stack) AcquisitionDates() ([]time.Time, error) {
	unique := map[time.Time]struct{}{}
	for k := range s.Info {
		start, stop, err := k.Dates()
		if err != nil {
			return nil, fmt.Errorf("AcquisitionDates: %w", err)
		}
		unique[start] = struct{}{}
		unique[stop] = struct{}{}
	}
	dates := make([]time.Time, 0, len(unique))
	for d := range unique {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// Write serializes the stack in a json file
func (s *Stack) Write(file string) error {
	if err := common.WriteJSON(file, s); err != nil {
		return fmt.Errorf("Stack.%w", err)
	}
	return nil
}

// LoadStack reads a stack serialized with Write
func LoadStack(file string) (*Stack, error) {
	s := NewStack()
	if err := common.LoadJSON(file, s); err != nil {
		return nil, fmt.Errorf("LoadStack.%w", err)
	}
	return s, nil
}
