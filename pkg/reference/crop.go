package reference

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"

	_ "image/jpeg" // register JPEG decoder for frames captured as .jpg
)

// crop extracts the region described by area (fractional coordinates of
// the full frame) from an encoded source image and re-encodes the result
// as PNG. Using stdlib image/image-jpeg/image-png here follows the pattern
// already used by the Frame Analyzer (pkg/analyzer) for per-frame decode —
// no third-party image-processing library in the corpus covers arbitrary
// crop/re-encode, and pulling one in only for this would duplicate the
// analyzer's own decode path.
func crop(source []byte, area Area) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return nil, fmt.Errorf("decoding source image: %w", err)
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	rect := image.Rect(
		bounds.Min.X+int(area.X*float64(w)),
		bounds.Min.Y+int(area.Y*float64(h)),
		bounds.Min.X+int((area.X+area.Width)*float64(w)),
		bounds.Min.Y+int((area.Y+area.Height)*float64(h)),
	).Intersect(bounds)
	if rect.Empty() {
		return nil, fmt.Errorf("crop area %+v is empty against %dx%d source", area, w, h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encoding cropped image: %w", err)
	}
	return buf.Bytes(), nil
}
