package common

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

//go:generate go run github.com/dmarkham/enumer -json -type SensorFamily

// SensorFamily defines the kind of sensor that acquired an interferogram.
// It drives the interpretation of the rasters (no-data value).
type SensorFamily int

const (
	UnknownSensor SensorFamily = iota
	S1                         // Sentinel-1 A/B (mission S1A, S1B or S1X when only the TOPS mode is known)
	SMAP                       // Soil Moisture Active Passive
)

var (
	sensingDateRe = regexp.MustCompile(`^(\d{4})-(\d{2})-(\d{2})`)
	s1MissionRe   = regexp.MustCompile(`^S1\w$`)
)

var platforms = map[string]string{
	"S1A": "Sentinel-1A",
	"S1B": "Sentinel-1B",
}

var sensorNames = map[SensorFamily]string{
	S1:   "SAR-C Sentinel1",
	SMAP: "SMAP Sensor",
}

// SensorFamilyFromMission returns the sensor family of a mission (S1A, S1B, S1X, SMAP...)
func SensorFamilyFromMission(mission string) (SensorFamily, error) {
	switch {
	case s1MissionRe.MatchString(mission):
		return S1, nil
	case mission == "SMAP":
		return SMAP, nil
	}
	return UnknownSensor, fmt.Errorf("unknown sensor: %s", mission)
}

// NoData returns the value used by the sensor family to flag missing pixels
func (s SensorFamily) NoData() (float64, error) {
	switch s {
	case S1:
		return 0, nil
	case SMAP:
		return -9999, nil
	}
	return 0, fmt.Errorf("no nodata value for sensor family %s", s)
}

// SensorName returns the long name of the sensor
func (s SensorFamily) SensorName() string {
	return sensorNames[s]
}

// Platform returns the platform of the mission or "" if unknown
func Platform(mission string) string {
	return platforms[mission]
}

// ParseSensingDate extracts the YYYYMMDD date from an ISO-prefixed sensing time
// (2019-01-15T17:01:06.123456Z -> 20190115)
func ParseSensingDate(sensing string) (string, error) {
	m := sensingDateRe.FindStringSubmatch(sensing)
	if m == nil {
		return "", fmt.Errorf("failed to extract date from %q", sensing)
	}
	return m[1] + m[2] + m[3], nil
}

// DateKey identifies an interferogram in a stack: "<start>_<stop>" (YYYYMMDD_YYYYMMDD)
type DateKey string

// NewDateKey creates a DateKey from two YYYYMMDD dates
func NewDateKey(start, stop string) DateKey {
	return DateKey(start + "_" + stop)
}

// Dates returns the start and stop dates of the key
func (k DateKey) Dates() (time.Time, time.Time, error) {
	parts := strings.Split(string(k), "_")
	if len(parts) != 2 {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date key: %s", k)
	}
	start, err := time.Parse("20060102", parts[0])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date key %s: %w", k, err)
	}
	stop, err := time.Parse("20060102", parts[1])
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid date key %s: %w", k, err)
	}
	return start, stop, nil
}

/**
 * FormatBrackets replaces in <str> all {keys} of <info> by the corresponding value
 * e.g. FormatBrackets("stack_{SENSOR}-TN{TRACK}", map[string]string{"SENSOR": "S1", "TRACK": "42"})
 */
func FormatBrackets(str string, infos ...map[string]string) string {
	for _, info := range infos {
		for k, v := range info {
			str = strings.ReplaceAll(str, "{"+k+"}", v)
		}
	}
	return str
}
