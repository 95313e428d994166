package media

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bigpicture/pujo-pictures/src/api/apperr"
	"github.com/bigpicture/pujo-pictures/src/api/types"
)

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

func TestCheckPhoto(t *testing.T) {
	require.NoError(t, CheckPhoto("image/jpeg", 1024))
	require.NoError(t, CheckPhoto("IMAGE/PNG", MaxUploadBytes))
	require.ErrorIs(t, CheckPhoto("application/pdf", 10), apperr.ErrValidation)
	require.ErrorIs(t, CheckPhoto("image/jpeg", MaxUploadBytes+1), apperr.ErrValidation)
	require.ErrorIs(t, CheckPhoto("image/jpeg", 0), apperr.ErrValidation)
}

func TestCheckNickname(t *testing.T) {
	got, err := CheckNickname("  alice_01 ")
	require.NoError(t, err)
	require.Equal(t, "alice_01", got)

	for _, bad := range []string{"", "   ", "this_name_is_way_too_long", "<script>", "a-b"} {
		_, err := CheckNickname(bad)
		require.ErrorIs(t, err, apperr.ErrValidation, bad)
	}
}

func TestCheckEmail(t *testing.T) {
	got, err := CheckEmail("")
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = CheckEmail("alice@example.com")
	require.NoError(t, err)
	require.Equal(t, "alice@example.com", got)

	_, err = CheckEmail("Alice <alice@example.com>")
	require.ErrorIs(t, err, apperr.ErrValidation)
	_, err = CheckEmail("nope")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCheckHandle(t *testing.T) {
	got, err := CheckHandle("u/pujo_fan")
	require.NoError(t, err)
	require.Equal(t, "pujo_fan", got)

	got, err = CheckHandle("")
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = CheckHandle("bad handle!")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestParseCoordinates(t *testing.T) {
	c, err := ParseCoordinates("[22.5726, 88.3639]")
	require.NoError(t, err)
	require.Equal(t, types.Coordinates{22.5726, 88.3639}, c)

	for _, bad := range []string{"", "22.5,88.3", "[1]", "[1,2,3]", "[95,0]", `{"lat":1}`} {
		_, err := ParseCoordinates(bad)
		require.ErrorIs(t, err, apperr.ErrValidation, bad)
	}
}

func TestCheckCategory(t *testing.T) {
	c, err := CheckCategory("food")
	require.NoError(t, err)
	require.Equal(t, types.CategoryFood, c)
	_, err = CheckCategory("selfie")
	require.ErrorIs(t, err, apperr.ErrValidation)
}

func TestCleanTextStripsMarkup(t *testing.T) {
	require.Equal(t, "Ballygunge", CleanText(` <b>Ballygunge</b><script>alert(1)</script> `))
}

func TestFontSize(t *testing.T) {
	require.Equal(t, 30, FontSize(2000, 1000))
	require.Equal(t, 9, FontSize(400, 300))
	require.Equal(t, minFontSize, FontSize(50, 50))
}

func TestWatermarkKeepsDimensions(t *testing.T) {
	wm, err := NewWatermarker()
	require.NoError(t, err)

	src := solidJPEG(t, 640, 480, color.Black)
	out, err := wm.Apply(src, "alice", "5b0c2f6e-0000-4000-8000-000000000000")
	require.NoError(t, err)
	require.Equal(t, "image/jpeg", out.ContentType)
	require.Equal(t, 640, out.Width)
	require.Equal(t, 480, out.Height)

	img, err := jpeg.Decode(bytes.NewReader(out.Body))
	require.NoError(t, err)
	require.Equal(t, image.Rect(0, 0, 640, 480), img.Bounds())

	// text lands in the bottom-left corner
	size := FontSize(640, 480)
	var brightest uint32
	for y := 480 - watermarkPadding - 2*size - 4; y < 480-watermarkPadding+4; y++ {
		for x := watermarkPadding; x < 320; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			if v := (r + g + b) / 3; v > brightest {
				brightest = v
			}
		}
	}
	require.Greater(t, brightest, uint32(0x8000))

	// the top-right corner stays untouched
	r, g, b, _ := img.At(600, 20).RGBA()
	require.Less(t, (r+g+b)/3, uint32(0x1000))
}

func TestWatermarkAcceptsPNG(t *testing.T) {
	wm, err := NewWatermarker()
	require.NoError(t, err)

	img := image.NewNRGBA(image.Rect(0, 0, 120, 90))
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	out, err := wm.Apply(buf.Bytes(), "bob", "id")
	require.NoError(t, err)
	require.Equal(t, 120, out.Width)
	require.Equal(t, 90, out.Height)
}

func TestWatermarkRejectsGarbage(t *testing.T) {
	wm, err := NewWatermarker()
	require.NoError(t, err)
	_, err = wm.Apply([]byte("definitely not an image"), "alice", "id")
	require.ErrorIs(t, err, apperr.ErrValidation)
}
