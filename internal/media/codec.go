package media

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

// DefaultJPEGQuality is used when Codec.JPEGQuality is unset.
const DefaultJPEGQuality = 85

// Codec resizes pictures so neither side exceeds a bound. Output keeps the
// input format. For a given input and bound the output is byte-identical
// across runs.
type Codec struct {
	JPEGQuality int
}

// Resize decodes data, scales it to fit within maxDimension on both axes
// preserving aspect ratio, and re-encodes it. Pictures already within the
// bound are re-encoded at their original size.
func (c Codec) Resize(data []byte, maxDimension int) ([]byte, error) {
	if maxDimension <= 0 {
		return nil, fmt.Errorf("invalid max dimension %d", maxDimension)
	}

	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	w, h := fit(b.Dx(), b.Dy(), maxDimension)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)

	var buf bytes.Buffer
	switch format {
	case "jpeg":
		q := c.JPEGQuality
		if q <= 0 || q > 100 {
			q = DefaultJPEGQuality
		}
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: q})
	case "png":
		err = png.Encode(&buf, dst)
	default:
		return nil, fmt.Errorf("unsupported image format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}
	return buf.Bytes(), nil
}

// fit scales (w, h) down so the longer side equals bound. Smaller sizes are
// returned unchanged.
func fit(w, h, bound int) (int, int) {
	if w <= bound && h <= bound {
		return w, h
	}
	if w >= h {
		return bound, atLeastOne(h * bound / w)
	}
	return atLeastOne(w * bound / h), bound
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
