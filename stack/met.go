package stack

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/filter"
	"github.com/airbusgeo/insar-timeseries/service/geometry"
	"github.com/paulsmith/gogeos/geos"
)

const (
	GapsFile = "gaps.txt"

	idDateFormat   = "20060102T150405"
	timestepFormat = "2006-01-02T15:04:05"
	gapDateFormat  = "2006-01-02 15:04:05"
)

// Met is the content of the <id>.met.json file of a product
type Met struct {
	BBox               [][2]float64 `json:"bbox"` // [lat, lon]
	DatasetType        string       `json:"dataset_type"`
	ProductType        string       `json:"product_type"`
	Reference          bool         `json:"reference"`
	SensingTimeInitial string       `json:"sensing_time_initial"`
	SensingTimeFinal   string       `json:"sensing_time_final"`
	Sensor             string       `json:"sensor"`
	Platform           []string     `json:"platform"`
	SpacecraftName     []string     `json:"spacecraftName"`
	TrackNumber        json.Number  `json:"trackNumber,omitempty"`
	IfgCount           int          `json:"ifg_count"`
	Ifgs               []string     `json:"ifgs"`
	TimestepCount      int          `json:"timestep_count"`
	Timesteps          []string     `json:"timesteps"`
	FullCoverage       bool         `json:"full_coverage"`
	Tags               string       `json:"tags,omitempty"`
}

// MetFile returns the name of the met.json file of the product
func MetFile(id string) string {
	return id + ".met.json"
}

// DatasetFile returns the name of the dataset.json file of the product
func DatasetFile(id string) string {
	return id + ".dataset.json"
}

// ContextFile returns the name of the copy of the input of the product
func ContextFile(id string) string {
	return id + ".context.json"
}

// Dataset is the content of the <id>.dataset.json file of a product
type Dataset struct {
	CreationTimestamp string          `json:"creation_timestamp"`
	Version           string          `json:"version"`
	Label             string          `json:"label"`
	Location          json.RawMessage `json:"location"`
	StartTime         string          `json:"starttime"`
	EndTime           string          `json:"endtime"`
}

// NewDataset creates the dataset description of the product, located by the geometry
func NewDataset(id string, location *geos.Geometry, start, end string, created time.Time) (Dataset, error) {
	loc, err := geometry.MarshalGeoJSON(location)
	if err != nil {
		return Dataset{}, fmt.Errorf("NewDataset.%w", err)
	}
	return Dataset{
		CreationTimestamp: created.UTC().Format("2006-01-02T15:04:05.000000") + "Z",
		Version:           common.DatasetVersion,
		Label:             id,
		Location:          loc,
		StartTime:         start,
		EndTime:           end,
	}, nil
}

// Timesteps formats the dates
func Timesteps(dates []time.Time) []string {
	timesteps := make([]string, len(dates))
	for i, d := range dates {
		timesteps[i] = d.Format(timestepFormat)
	}
	return timesteps
}

// writeGaps writes the temporal gaps of the merged intervals and returns true if the stack is temporally connected
func writeGaps(w io.Writer, merged []filter.Interval) (bool, error) {
	if filter.Connected(merged) {
		_, err := io.WriteString(w, "No temporal gaps")
		return true, err
	}
	if _, err := io.WriteString(w, "Temporal gaps:\n"); err != nil {
		return false, err
	}
	for _, gap := range filter.Gaps(merged) {
		if _, err := fmt.Fprintf(w, "%s - %s\n", gap.Start.Format(gapDateFormat), gap.End.Format(gapDateFormat)); err != nil {
			return false, err
		}
	}
	return false, nil
}

// pyFloat formats a float like the repr of a python float (integral values keep a trailing .0)
func pyFloat(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// IDParams are the parameters of the stack identifying the product
type IDParams struct {
	ROI       common.ROI
	Input     common.StackInput
	Track     string
	Sensor    string
	Platforms []string
	Keys      []common.DateKey
	Start     time.Time
	End       time.Time
}

// hash returns the 5 first hexadecimal characters of the md5 of the parameters
func (p IDParams) hash() string {
	in := p.Input
	parts := []string{
		fmt.Sprintf("%s %s %s %s", pyFloat(p.ROI.MinLon), pyFloat(p.ROI.MaxLon), pyFloat(p.ROI.MinLat), pyFloat(p.ROI.MaxLat)),
		fmt.Sprintf("%s %s", pyFloat(in.RefPoint[0]), pyFloat(in.RefPoint[1])),
		fmt.Sprintf("%d %d", in.RefBoxNumPixels[0], in.RefBoxNumPixels[1]),
		pyFloat(in.CoherenceTh),
		pyFloat(in.RangePixelSize),
		pyFloat(in.AzimuthPixelSize),
		pyFloat(in.Inc),
		pyBool(in.NetRamp),
		pyBool(in.GPSRamp),
		pyFloat(in.Filt),
		p.Track,
		p.Sensor,
		strings.Join(p.Platforms, " "),
	}
	keys := make([]string, len(p.Keys))
	for i, k := range p.Keys {
		keys[i] = string(k)
	}
	parts = append(parts, strings.Join(keys, " "))

	m := md5.New()
	for _, part := range parts {
		io.WriteString(m, part)
	}
	return hex.EncodeToString(m.Sum(nil))[:5]
}

// ProductID returns the identifier of the filtered stack
func (p IDParams) ProductID() string {
	return common.FormatBrackets(common.StackIDTemplate, map[string]string{
		"SENSOR":  p.Sensor,
		"TRACK":   p.Track,
		"STARTDT": p.Start.UTC().Format(idDateFormat),
		"ENDDT":   p.End.UTC().Format(idDateFormat),
		"HASH":    p.hash(),
		"VERSION": common.DatasetVersion,
	})
}
