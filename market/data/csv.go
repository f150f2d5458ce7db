// Package data loads historical bar datasets from disk.
//
// Supported inputs:
//
//	bars.csv        plain CSV
//	bars.csv.gz     gzip-compressed CSV
//	bars.csv.xz     xz-compressed CSV
//	bars.csv.lzma   lzma-compressed CSV
//	bars.zip        zip archive containing one or more CSV files
//
// CSV format (header optional):
//
//	time,open,high,low,close,volume
//
// where time is RFC3339 or unix seconds. Rows must be sorted ascending by
// time; the loader validates OHLC consistency and ordering before handing
// bars to the engine.
package data

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rustyeddy/simex/market"
	"github.com/ulikunitz/xz"
	"github.com/ulikunitz/xz/lzma"
	"github.com/xyproto/unzip"
)

// LoadBars reads a bar dataset from path, decompressing based on the file
// extension, and returns a validated series.
func LoadBars(path string) ([]market.Bar, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return loadZip(path)
	default:
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		r, closer, err := wrapReader(f, path)
		if err != nil {
			return nil, err
		}
		if closer != nil {
			defer closer.Close()
		}
		return ReadBars(r)
	}
}

// wrapReader layers a decompressor over f according to the file extension.
func wrapReader(f *os.File, path string) (io.Reader, io.Closer, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".gz":
		zr, err := gzip.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("gzip %s: %w", path, err)
		}
		return zr, zr, nil
	case ".xz":
		xr, err := xz.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("xz %s: %w", path, err)
		}
		return xr, nil, nil
	case ".lzma":
		lr, err := lzma.NewReader(f)
		if err != nil {
			return nil, nil, fmt.Errorf("lzma %s: %w", path, err)
		}
		return lr, nil, nil
	default:
		return f, nil, nil
	}
}

// loadZip extracts the archive to a temp directory and loads every CSV found,
// merged and re-sorted by time.
func loadZip(path string) ([]market.Bar, error) {
	tmp, err := os.MkdirTemp("", "simex-zip-*")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(tmp)

	if err := unzip.Extract(path, tmp); err != nil {
		return nil, fmt.Errorf("unzip %s: %w", path, err)
	}

	var all []market.Bar
	err = filepath.Walk(tmp, func(p string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		if !strings.EqualFold(filepath.Ext(p), ".csv") {
			return nil
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		defer f.Close()
		bars, err := readRows(f)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
		all = append(all, bars...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(all) == 0 {
		return nil, fmt.Errorf("zip %s: no csv files found", path)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Time.Before(all[j].Time) })
	if err := market.ValidateSeries(all); err != nil {
		return nil, err
	}
	return all, nil
}

// ReadBars parses and validates a CSV bar stream.
func ReadBars(r io.Reader) ([]market.Bar, error) {
	bars, err := readRows(r)
	if err != nil {
		return nil, err
	}
	if err := market.ValidateSeries(bars); err != nil {
		return nil, err
	}
	return bars, nil
}

func readRows(r io.Reader) ([]market.Bar, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	var bars []market.Bar
	line := 0
	for {
		row, err := cr.Read()
		if err == io.EOF {
			return bars, nil
		}
		if err != nil {
			return nil, err
		}
		line++

		// skip a header row if the first column names the time field
		if line == 1 && len(row) > 0 && strings.EqualFold(strings.TrimSpace(row[0]), "time") {
			continue
		}
		if len(row) == 0 {
			continue
		}
		b, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		bars = append(bars, b)
	}
}

func parseRow(row []string) (market.Bar, error) {
	if len(row) < 5 {
		return market.Bar{}, fmt.Errorf("need at least 5 fields, got %d", len(row))
	}
	ts, err := parseTime(strings.TrimSpace(row[0]))
	if err != nil {
		return market.Bar{}, err
	}
	vals := make([]float64, 0, 5)
	for _, s := range row[1:] {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return market.Bar{}, fmt.Errorf("bad number %q", s)
		}
		vals = append(vals, v)
	}
	if len(vals) < 4 {
		return market.Bar{}, fmt.Errorf("need open,high,low,close")
	}
	b := market.Bar{Time: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3]}
	if len(vals) > 4 {
		b.Volume = vals[4]
	}
	return b, nil
}

func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time %q", s)
}
