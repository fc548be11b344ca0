package raster

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/airbusgeo/insar-timeseries/common"
	"github.com/airbusgeo/insar-timeseries/service"
	"github.com/airbusgeo/insar-timeseries/service/log"
	"go.uber.org/zap/zapcore"
)

// Reader gives access to the rasters
type Reader interface {
	// Info returns the size and the georeferencing of the dataset
	Info(ctx context.Context, file string) (Info, error)
	// ReadBand loads the band (starting at 1) of the dataset
	ReadBand(ctx context.Context, file string, band int) (*Grid, error)
	// Align clips the band of src to the roi and writes it into dst, flagging nodata pixels
	Align(ctx context.Context, src, dst string, roi common.ROI, nodata float64, band int) error
}

// GDAL implements Reader using the GDAL command line utilities
type GDAL struct {
	BinDir string // Directory of gdalinfo and gdal_translate. Empty to use the PATH.
	TmpDir string // Directory to extract the bands. Empty to use os.TempDir().
}

func (g GDAL) command(ctx context.Context, name string, args ...string) *exec.Cmd {
	if g.BinDir != "" {
		name = filepath.Join(g.BinDir, name)
	}
	return exec.CommandContext(ctx, name, args...)
}

func (g GDAL) run(ctx context.Context, cmd *exec.Cmd) error {
	filter := gdalLogFilter{}
	log.Logger(ctx).Sugar().Debugf("%s", strings.Join(cmd.Args, " "))
	if err := log.Exec(ctx, cmd, log.StdoutLevel(zapcore.DebugLevel), log.StdoutFilter(&filter), log.StderrFilter(&filter)); err != nil {
		return filter.WrapError(err)
	}
	return nil
}

// Info implements Reader
func (g GDAL) Info(ctx context.Context, file string) (Info, error) {
	stdout := bytes.Buffer{}
	cmd := g.command(ctx, "gdalinfo", "-json", file)
	cmd.Stdout = &stdout
	if err := g.run(ctx, cmd); err != nil {
		return Info{}, fmt.Errorf("Info[%s]: %w", file, err)
	}
	info, err := parseInfo(stdout.Bytes())
	if err != nil {
		return Info{}, fmt.Errorf("Info[%s]: %w", file, err)
	}
	return info, nil
}

// ReadBand implements Reader
func (g GDAL) ReadBand(ctx context.Context, file string, band int) (*Grid, error) {
	info, err := g.Info(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("ReadBand.%w", err)
	}

	tmpDir, err := os.MkdirTemp(g.TmpDir, "band")
	if err != nil {
		return nil, service.MakeTemporary(fmt.Errorf("ReadBand.MkdirTemp: %w", err))
	}
	defer os.RemoveAll(tmpDir)

	raw := filepath.Join(tmpDir, "band.bin")
	cmd := g.command(ctx, "gdal_translate", "-q", "-of", "ENVI", "-ot", "Float64", "-b", strconv.Itoa(band), file, raw)
	if err := g.run(ctx, cmd); err != nil {
		return nil, fmt.Errorf("ReadBand[%s:%d]: %w", file, band, err)
	}

	order, err := enviByteOrder(filepath.Join(tmpDir, "band.hdr"))
	if err != nil {
		return nil, fmt.Errorf("ReadBand[%s:%d].%w", file, band, err)
	}
	f, err := os.Open(raw)
	if err != nil {
		return nil, fmt.Errorf("ReadBand[%s:%d]: %w", file, band, err)
	}
	defer f.Close()
	data, err := readFloat64(f, info.Width*info.Length, order)
	if err != nil {
		return nil, fmt.Errorf("ReadBand[%s:%d].%w", file, band, err)
	}
	return NewGrid(info.Length, info.Width, data, info.GeoTransform)
}

// Align implements Reader
func (g GDAL) Align(ctx context.Context, src, dst string, roi common.ROI, nodata float64, band int) error {
	cmd := g.command(ctx, "gdal_translate", alignArgs(src, dst, roi, nodata, band)...)
	if err := g.run(ctx, cmd); err != nil {
		return fmt.Errorf("Align[%s]: %w", src, err)
	}
	return nil
}

// alignArgs returns the gdal_translate arguments to clip a band to the roi in a VRT
func alignArgs(src, dst string, roi common.ROI, nodata float64, band int) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		"-of", "VRT",
		"-a_nodata", f(nodata),
		"-projwin", f(roi.MinLon), f(roi.MaxLat), f(roi.MaxLon), f(roi.MinLat),
		"-b", strconv.Itoa(band),
		src, dst,
	}
}

type gdalInfoJSON struct {
	Size         []int     `json:"size"`
	GeoTransform []float64 `json:"geoTransform"`
	Bands        []struct {
		Band int `json:"band"`
	} `json:"bands"`
}

func parseInfo(b []byte) (Info, error) {
	var gi gdalInfoJSON
	if err := json.Unmarshal(b, &gi); err != nil {
		return Info{}, fmt.Errorf("parseInfo: %w", err)
	}
	if len(gi.Size) != 2 {
		return Info{}, fmt.Errorf("parseInfo: invalid size %v", gi.Size)
	}
	if len(gi.GeoTransform) != 6 {
		return Info{}, fmt.Errorf("parseInfo: missing geotransform")
	}
	info := Info{Width: gi.Size[0], Length: gi.Size[1], Bands: len(gi.Bands)}
	copy(info.GeoTransform[:], gi.GeoTransform)
	return info, nil
}

// enviByteOrder reads the "byte order" of an ENVI header (0: little endian, 1: big endian)
func enviByteOrder(hdr string) (binary.ByteOrder, error) {
	f, err := os.Open(hdr)
	if err != nil {
		return nil, fmt.Errorf("enviByteOrder: %w", err)
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), "=")
		if !ok || strings.TrimSpace(strings.ToLower(key)) != "byte order" {
			continue
		}
		switch strings.TrimSpace(value) {
		case "0":
			return binary.LittleEndian, nil
		case "1":
			return binary.BigEndian, nil
		}
		return nil, fmt.Errorf("enviByteOrder: invalid byte order %q", value)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("enviByteOrder: %w", err)
	}
	return binary.LittleEndian, nil
}

func readFloat64(r io.Reader, n int, order binary.ByteOrder) ([]float64, error) {
	buf := make([]byte, 8*n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("readFloat64: %w", err)
	}
	data := make([]float64, n)
	for i := range data {
		data[i] = math.Float64frombits(order.Uint64(buf[8*i:]))
	}
	return data, nil
}

// gdalLogFilter formats the logs of the GDAL utilities and keeps the last error
type gdalLogFilter struct {
	lastError string
}

// Filter implements log.Filter
func (f *gdalLogFilter) Filter(msg string, defaultLevel zapcore.Level) (string, zapcore.Level, bool) {
	trimmed := strings.TrimSpace(msg)
	switch {
	case strings.HasPrefix(trimmed, "ERROR"):
		f.lastError = trimmed
		return msg, zapcore.ErrorLevel, false
	case strings.HasPrefix(trimmed, "Warning"):
		return msg, zapcore.WarnLevel, false
	case strings.HasPrefix(trimmed, "Input file size is"), strings.HasPrefix(trimmed, "0...10...20"):
		return msg, zapcore.DebugLevel, false
	}
	return msg, defaultLevel, false
}

// WrapError wraps the error with the last error logged by GDAL
func (f *gdalLogFilter) WrapError(err error) error {
	if f.lastError == "" || err == nil {
		return err
	}
	if strings.Contains(f.lastError, "Temporary failure") || strings.Contains(f.lastError, "timed out") {
		err = service.MakeTemporary(err)
	}
	return fmt.Errorf("%w (%s)", err, f.lastError)
}
