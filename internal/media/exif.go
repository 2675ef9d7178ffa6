// Package media adapts picture metadata extraction and resizing.
//
// Extraction is best effort: a picture without EXIF data still yields its
// pixel dimensions, and a picture whose header cannot be decoded yields an
// empty Metadata alongside the error so callers can log and carry on.
package media

import (
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata is what the ingester records about a picture.
type Metadata struct {
	Date           string
	ExposureParams string
	Camera         string
	Width          int
	Height         int
}

// dateLayout sorts lexically, newest last.
const dateLayout = "2006-01-02 15:04:05"

// ExifExtractor reads EXIF tags with goexif and dimensions with the
// standard image decoders.
type ExifExtractor struct{}

// Extract reads metadata from the picture at path. A missing EXIF block is
// not an error.
func (ExifExtractor) Extract(path string) (Metadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	var md Metadata
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to read dimensions of %s: %w", path, err)
	}
	md.Width, md.Height = cfg.Width, cfg.Height

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return md, fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	x, err := exif.Decode(f)
	if err != nil {
		return md, nil
	}
	fillFromExif(&md, x)
	return md, nil
}

func fillFromExif(md *Metadata, x *exif.Exif) {
	if t, err := x.DateTime(); err == nil {
		md.Date = t.Format(dateLayout)
	}

	var params []string
	if tag, err := x.Get(exif.ExposureTime); err == nil {
		if r, err := tag.Rat(0); err == nil {
			if r.IsInt() {
				params = append(params, r.Num().String()+"s")
			} else {
				params = append(params, r.RatString()+"s")
			}
		}
	}
	if tag, err := x.Get(exif.FocalLengthIn35mmFilm); err == nil {
		if v, err := tag.Int(0); err == nil {
			params = append(params, strconv.Itoa(v)+"mm")
		}
	}
	if tag, err := x.Get(exif.FNumber); err == nil {
		if r, err := tag.Rat(0); err == nil {
			f, _ := r.Float64()
			params = append(params, "f/"+strconv.FormatFloat(f, 'f', -1, 64))
		}
	}
	if tag, err := x.Get(exif.ISOSpeedRatings); err == nil {
		if v, err := tag.Int(0); err == nil {
			params = append(params, "iso"+strconv.Itoa(v))
		}
	}
	md.ExposureParams = strings.Join(params, "  ")

	if tag, err := x.Get(exif.Model); err == nil {
		if s, err := tag.StringVal(); err == nil {
			md.Camera = strings.TrimSpace(strings.Trim(s, "\"\x00"))
		}
	}
}
