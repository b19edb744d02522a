package account

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif" // register gif
	"image/jpeg"
	_ "image/png" // register png

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // register webp
)

const (
	photoContentType = "image/jpeg"
	photoMaxSide     = 400
	photoQuality     = 70
)

// NormalizePhoto center-crops the picture to a square, shrinks it to at most 400x400
// and re-encodes it as a JPEG.
func NormalizePhoto(data []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "decoding photo")
	}

	b := src.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	if side == 0 {
		return nil, errors.New("decoding photo: empty image")
	}
	crop := image.Rect(0, 0, side, side).Add(image.Pt(
		b.Min.X+(b.Dx()-side)/2,
		b.Min.Y+(b.Dy()-side)/2,
	))

	size := side
	if size > photoMaxSide {
		size = photoMaxSide
	}
	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	// jpeg has no alpha channel: flatten onto white
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, crop, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: photoQuality}); err != nil {
		return nil, errors.Wrap(err, "encoding photo")
	}
	return buf.Bytes(), nil
}
