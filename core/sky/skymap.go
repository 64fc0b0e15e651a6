package sky

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/astrogo/fitsio"
)

// Cell is one pixel of a multi-order skymap.
type Cell struct {
	Uniq        int64   `fits:"UNIQ"`
	ProbDensity float64 `fits:"PROBDENSITY"`
}

// DecodeSkymap reads a base64 encoded, optionally gzipped, multi-order FITS
// skymap. Cells are returned by descending probability density; cells with
// equal density keep their file order.
func DecodeSkymap(b64 string) ([]Cell, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(b64), ""))
	if err != nil {
		return nil, fmt.Errorf("decode skymap base64: %w", err)
	}
	return ReadSkymap(bytes.NewReader(raw))
}

// ReadSkymap reads the first table extension of a FITS skymap.
func ReadSkymap(r io.Reader) ([]Cell, error) {
	br, err := maybeGunzip(r)
	if err != nil {
		return nil, err
	}
	f, err := fitsio.Open(br)
	if err != nil {
		return nil, fmt.Errorf("open skymap: %w", err)
	}
	defer f.Close()

	if len(f.HDUs()) < 2 {
		return nil, fmt.Errorf("skymap has no table extension")
	}
	tbl, ok := f.HDU(1).(*fitsio.Table)
	if !ok {
		return nil, fmt.Errorf("skymap extension is not a table")
	}
	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, fmt.Errorf("read skymap rows: %w", err)
	}
	defer rows.Close()

	var cells []Cell
	for rows.Next() {
		var c Cell
		if err := rows.Scan(&c); err != nil {
			return nil, fmt.Errorf("scan skymap row: %w", err)
		}
		cells = append(cells, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read skymap rows: %w", err)
	}
	if len(cells) == 0 {
		return nil, fmt.Errorf("skymap is empty")
	}
	sort.SliceStable(cells, func(i, j int) bool { return cells[i].ProbDensity > cells[j].ProbDensity })
	return cells, nil
}

func maybeGunzip(r io.Reader) (io.Reader, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read skymap: %w", err)
	}
	if len(data) > 2 && data[0] == 0x1f && data[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("gunzip skymap: %w", err)
		}
		defer zr.Close()
		if data, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gunzip skymap: %w", err)
		}
	}
	return bytes.NewReader(data), nil
}

// Targets converts cells to local directions seen from site at t, in cell
// order.
func Targets(cells []Cell, site Site, t time.Time) ([]Horizontal, error) {
	out := make([]Horizontal, 0, len(cells))
	for _, c := range cells {
		eq, err := UniqToAngle(c.Uniq)
		if err != nil {
			return nil, err
		}
		out = append(out, ToHorizontal(eq, site, t))
	}
	return out, nil
}
