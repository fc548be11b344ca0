package metadata

import (
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"sort"
)

var bperpKeyRe = regexp.MustCompile(`Bperp at midrange for first common burst`)

type sensorCatalog struct {
	Sensor struct {
		Mission     *string `json:"mission"`
		ImagingMode *string `json:"imagingmode"`
	} `json:"sensor"`
}

// Catalog is the baseline registration catalog of an interferogram
type Catalog struct {
	Master   sensorCatalog      `json:"master"`
	Slave    sensorCatalog      `json:"slave"`
	Baseline map[string]float64 `json:"baseline"`
}

// DecodeCatalog decodes a json-encoded catalog
func DecodeCatalog(r io.Reader) (Catalog, error) {
	var c Catalog
	if err := json.NewDecoder(r).Decode(&c); err != nil {
		return Catalog{}, fmt.Errorf("DecodeCatalog: %w", err)
	}
	return c, nil
}

// Mission returns the mission of the master, or of the slave if not defined.
// If none are defined, S1X is returned for a TOPS master, otherwise "".
func (c Catalog) Mission() string {
	if m := c.Master.Sensor.Mission; m != nil && *m != "" {
		return *m
	}
	if m := c.Slave.Sensor.Mission; m != nil && *m != "" {
		return *m
	}
	if m := c.Master.Sensor.ImagingMode; m != nil && *m == "TOPS" {
		return "S1X"
	}
	return ""
}

// Bperp returns the perpendicular baseline at midrange for the first common burst
func (c Catalog) Bperp() (float64, error) {
	keys := make([]string, 0, len(c.Baseline))
	for k := range c.Baseline {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if bperpKeyRe.MatchString(k) {
			return c.Baseline[k], nil
		}
	}
	return 0, fmt.Errorf("failed to find perpendicular baseline")
}
