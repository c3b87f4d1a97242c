package careduce

import(
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"

	"github.com/abworrall/careduce/pkg/emath"
)

type Channel int

const(
	Red Channel = iota
	Green
	Blue
)

var channelNames = []string{"red", "green", "blue"}

func (c Channel)String() string {
	if c < Red || c > Blue {
		return fmt.Sprintf("channel(%d)", int(c))
	}
	return channelNames[c]
}

func ParseChannel(s string) (Channel, error) {
	for i, name := range channelNames {
		if strings.ToLower(s) == name || strings.ToLower(s) == name[:1] {
			return Channel(i), nil
		}
	}
	return Red, errors.Errorf("channel '%s': want red, green or blue", s)
}

// ChannelOrder says where the reference and the two aligned channels
// go, when they are put back together.
type ChannelOrder struct {
	Reference Channel
	A         Channel
	B         Channel
}

// DefaultChannelOrder aligns red and blue onto green; green is the
// sharpest channel through most refractors.
func DefaultChannelOrder() ChannelOrder { return ChannelOrderFor(Green) }

// ChannelOrderFor puts the other two channels into A,B in RGB order
func ChannelOrderFor(ref Channel) ChannelOrder {
	o := ChannelOrder{Reference: ref}
	others := []Channel{}
	for _, c := range []Channel{Red, Green, Blue} {
		if c != ref { others = append(others, c) }
	}
	o.A, o.B = others[0], others[1]
	return o
}

func (o ChannelOrder)Validate() error {
	for _, c := range []Channel{o.Reference, o.A, o.B} {
		if c < Red || c > Blue {
			return errors.Errorf("channel order %v: bad channel %s", o, c)
		}
	}
	if o.Reference == o.A || o.Reference == o.B || o.A == o.B {
		return errors.Errorf("channel order %v: channels must be distinct", o)
	}
	return nil
}

// Split pulls the three color channels out of an image, as floats.
// HDR images keep their values; others are scaled from 16 bit into
// [0,1]. Grayscale images have nothing to align, and are rejected.
func Split(img image.Image) ([3]emath.FloatGrid, error) {
	out := [3]emath.FloatGrid{}
	switch img.ColorModel() {
	case color.GrayModel, color.Gray16Model, color.AlphaModel, color.Alpha16Model:
		return out, errors.Wrapf(ErrInputShapeMismatch, "image is single channel (%T), need RGB", img)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return out, errors.Wrapf(ErrInputShapeMismatch, "image is empty (%s)", b)
	}
	for i := range out {
		out[i] = emath.NewFloatGrid(b.Dx(), b.Dy())
	}

	himg, isHDR := img.(hdr.Image)
	for y:=0; y<b.Dy(); y++ {
		for x:=0; x<b.Dx(); x++ {
			var r, g, bl float64
			if isHDR {
				r, g, bl, _ = himg.HDRAt(x + b.Min.X, y + b.Min.Y).HDRRGBA()
			} else {
				r16, g16, b16, _ := img.At(x + b.Min.X, y + b.Min.Y).RGBA()
				r, g, bl = float64(r16)/0xFFFF, float64(g16)/0xFFFF, float64(b16)/0xFFFF
			}
			out[Red].Set(x, y, r)
			out[Green].Set(x, y, g)
			out[Blue].Set(x, y, bl)
		}
	}

	return out, nil
}

// RGBImage is three aligned channels. It implements image.Image and
// hdr.Image, so it can be written out as a Radiance HDR file, or
// tonemapped.
type RGBImage struct {
	Channels [3]emath.FloatGrid
}

// Implement image.Image
func (ri RGBImage)ColorModel() color.Model       { return hdrcolor.RGBModel }
func (ri RGBImage)Bounds() image.Rectangle       { return ri.Channels[Red].Bounds() }
func (ri RGBImage)At(x, y int) color.Color       { return ri.HDRAt(x,y) }

// Implement hdr.Image
func (ri RGBImage)HDRAt(x, y int) hdrcolor.Color {
	return hdrcolor.RGB{R: ri.Channels[Red].Get(x,y), G: ri.Channels[Green].Get(x,y), B: ri.Channels[Blue].Get(x,y)}
}
func (ri RGBImage)Size() int                     { return ri.Bounds().Dx() * ri.Bounds().Dy() }

// Recombine puts the reference and the two warped channels back into
// a single image, in the slots given by the order.
func Recombine(reference, warpedA, warpedB emath.FloatGrid, order ChannelOrder) (*RGBImage, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}
	if !reference.SameSize(warpedA) || !reference.SameSize(warpedB) {
		return nil, errors.Wrapf(ErrDimensionMismatch, "recombine %dx%d with %dx%d and %dx%d",
			reference.Dx(), reference.Dy(), warpedA.Dx(), warpedA.Dy(), warpedB.Dx(), warpedB.Dy())
	}

	ri := RGBImage{}
	ri.Channels[order.Reference] = reference
	ri.Channels[order.A] = warpedA
	ri.Channels[order.B] = warpedB
	return &ri, nil
}
