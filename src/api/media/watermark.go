package media

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
)

const (
	watermarkPadding  = 20
	watermarkScale    = 0.03
	minFontSize       = 6
	outputContentType = "image/jpeg"
	outputQuality     = 82
)

// watermarkInk is white at 80% opacity.
var watermarkInk = color.NRGBA{R: 255, G: 255, B: 255, A: 204}

type Watermarked struct {
	Body        []byte
	ContentType string
	Width       int
	Height      int
}

// Watermarker renders the attribution text onto uploads. It is safe for
// concurrent use.
type Watermarker struct {
	font *opentype.Font
}

func NewWatermarker() (*Watermarker, error) {
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parse watermark font: %w", err)
	}
	return &Watermarker{font: f}, nil
}

// FontSize is proportional to the shorter side of the image.
func FontSize(width, height int) int {
	size := int(math.Round(float64(min(width, height)) * watermarkScale))
	if size < minFontSize {
		size = minFontSize
	}
	return size
}

// Apply draws "Image Courtesy: {nickname}" and "ID: {id}" in the bottom-left
// corner and re-encodes the result. Output dimensions equal the input's.
func (w *Watermarker) Apply(src []byte, nickname, submissionID string) (Watermarked, error) {
	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return Watermarked{}, apperr.Validation("unsupported or corrupt image")
	}
	b := img.Bounds()
	width, height := b.Dx(), b.Dy()
	if width == 0 || height == 0 {
		return Watermarked{}, apperr.Validation("image has no pixels")
	}

	size := FontSize(width, height)
	face, err := opentype.NewFace(w.font, &opentype.FaceOptions{
		Size:    float64(size),
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return Watermarked{}, fmt.Errorf("watermark face: %w", err)
	}
	defer face.Close()

	dst := imaging.Clone(img)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(watermarkInk),
		Face: face,
	}
	d.Dot = fixed.P(watermarkPadding, height-watermarkPadding-size)
	d.DrawString("Image Courtesy: " + nickname)
	d.Dot = fixed.P(watermarkPadding, height-watermarkPadding)
	d.DrawString("ID: " + submissionID)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(outputQuality)); err != nil {
		return Watermarked{}, fmt.Errorf("encode watermarked image: %w", err)
	}
	return Watermarked{
		Body:        buf.Bytes(),
		ContentType: outputContentType,
		Width:       width,
		Height:      height,
	}, nil
}
