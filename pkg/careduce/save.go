package careduce

import(
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/tmo"
	"github.com/pkg/errors"
	"golang.org/x/image/tiff"
)

// WriteHDR outputs a Radiance HDR image, with the float values intact
func (ri *RGBImage)WriteHDR(filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return errors.Wrapf(err, "RGBImage.WriteHDR, open+w '%s'", filename)
	} else {
		defer writer.Close()
		if err := rgbe.Encode(writer, ri); err != nil {
			return errors.Wrapf(err, "RGBImage.WriteHDR, encoding RGBE '%s'", filename)
		}
		return nil
	}
}

// To16Bit clamps the channels into [0,1], and scales them to 16 bits
func (ri *RGBImage)To16Bit() *image.RGBA64 {
	b := ri.Bounds()
	img := image.NewRGBA64(b)
	for y:=0; y<b.Dy(); y++ {
		for x:=0; x<b.Dx(); x++ {
			img.SetRGBA64(x, y, color.RGBA64{
				R: to16(ri.Channels[Red].Get(x,y)),
				G: to16(ri.Channels[Green].Get(x,y)),
				B: to16(ri.Channels[Blue].Get(x,y)),
				A: 0xFFFF,
			})
		}
	}
	return img
}

func to16(f float64) uint16 {
	if f <= 0 || math.IsNaN(f) {
		return 0
	} else if f >= 1 {
		return 0xFFFF
	}
	return uint16(math.Round(f * 0xFFFF))
}

func (ri *RGBImage)WriteTIFF16(filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return errors.Wrapf(err, "RGBImage.WriteTIFF16, open+w '%s'", filename)
	} else {
		defer writer.Close()
		if err := tiff.Encode(writer, ri.To16Bit(), &tiff.Options{Compression: tiff.Deflate}); err != nil {
			return errors.Wrapf(err, "RGBImage.WriteTIFF16, encoding '%s'", filename)
		}
		return nil
	}
}

// WritePreviewPNG tonemaps the image into something you can look at.
// Linear is the only operator that doesn't shift colors, and color
// fringes are what we're checking for.
func (ri *RGBImage)WritePreviewPNG(filename string) error {
	op := tmo.NewLinear(ri)
	return WritePNG(op.Perform(), filename)
}

func WritePNG(img image.Image, filename string) error {
	if writer, err := os.Create(filename); err != nil {
		return errors.Wrapf(err, "open+w '%s'", filename)
	} else {
		defer writer.Close()
		return png.Encode(writer, img)
	}
}
