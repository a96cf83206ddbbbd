package download

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/google/tiff"
	_ "github.com/google/tiff/bigtiff"
	_ "github.com/google/tiff/geotiff"

	"github.com/jobrunner/demimport/internal/domain"
	"github.com/jobrunner/demimport/internal/ports/output"
)

// geoIFD holds the georeferencing tags of the first image directory.
type geoIFD struct {
	ModelPixelScaleTag []float64 `tiff:"field,tag=33550"`
	ModelTiepointTag   []float64 `tiff:"field,tag=33922"`
}

const vsiCurl = "/vsicurl/"

const (
	tagImageWidth  = 256
	tagImageLength = 257
)

// Probe implements output.Downloader. It reads only the TIFF header of
// local paths, URLs and /vsicurl/ locations. Results are cached.
func (c *Client) Probe(ctx context.Context, location string) (output.RasterProbe, error) {
	if p, ok := c.probes.Get(location); ok {
		return p, nil
	}

	var (
		r   tiff.ReadAtReadSeeker
		err error
	)
	target := strings.TrimPrefix(location, vsiCurl)
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		r, err = c.OpenRange(ctx, target)
	} else {
		var f *os.File
		f, err = os.Open(target) //#nosec G304 -- local data file chosen by the operator
		if f != nil {
			defer func() { _ = f.Close() }()
		}
		r = f
	}
	if err != nil {
		return output.RasterProbe{}, fmt.Errorf("probing %s: %w", location, err)
	}

	p, err := probeTIFF(r)
	if err != nil {
		return output.RasterProbe{}, fmt.Errorf("probing %s: %w", location, err)
	}
	c.probes.Add(location, p)
	return p, nil
}

func probeTIFF(r tiff.ReadAtReadSeeker) (output.RasterProbe, error) {
	t, err := tiff.Parse(r, tiff.GetTagSpace("GeoTIFF"), nil)
	if err != nil {
		return output.RasterProbe{}, err
	}
	ifds := t.IFDs()
	if len(ifds) == 0 {
		return output.RasterProbe{}, fmt.Errorf("no image directory: %w", domain.ErrInvalidInput)
	}
	ifd := ifds[0]

	var geo geoIFD
	if err := tiff.UnmarshalIFD(ifd, &geo); err != nil {
		return output.RasterProbe{}, err
	}
	if len(geo.ModelPixelScaleTag) < 2 || len(geo.ModelTiepointTag) < 6 {
		return output.RasterProbe{}, fmt.Errorf("not georeferenced: %w", domain.ErrInvalidInput)
	}

	width, err := uintField(ifd, tagImageWidth)
	if err != nil {
		return output.RasterProbe{}, err
	}
	height, err := uintField(ifd, tagImageLength)
	if err != nil {
		return output.RasterProbe{}, err
	}

	return footprint(geo.ModelPixelScaleTag, geo.ModelTiepointTag, width, height), nil
}

// footprint derives the extent from the tie point of the raster origin.
func footprint(scale, tie []float64, width, height uint64) output.RasterProbe {
	sx, sy := scale[0], scale[1]
	west := tie[3] - tie[0]*sx
	north := tie[4] + tie[1]*sy
	return output.RasterProbe{
		PixelSize: math.Abs(sy),
		Extent: domain.Extent{
			MinX: west,
			MaxX: west + float64(width)*sx,
			MinY: north - float64(height)*sy,
			MaxY: north,
		},
	}
}

// uintField decodes a SHORT, LONG or LONG8 field.
func uintField(ifd tiff.IFD, tag uint16) (uint64, error) {
	f := ifd.GetField(tag)
	if f == nil {
		return 0, fmt.Errorf("missing tag %d: %w", tag, domain.ErrInvalidInput)
	}
	v := f.Value()
	b := v.Bytes()
	order := v.Order()
	switch {
	case len(b) >= 8 && f.Type().Size() == 8:
		return order.Uint64(b), nil
	case len(b) >= 4 && f.Type().Size() == 4:
		return uint64(order.Uint32(b)), nil
	case len(b) >= 2:
		return uint64(order.Uint16(b)), nil
	}
	return 0, fmt.Errorf("tag %d: %w", tag, domain.ErrInvalidInput)
}
