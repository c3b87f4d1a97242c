package careduce

import(
	"image"
	"image/color"
	"testing"

	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/abworrall/careduce/pkg/emath"
)

var _ hdr.Image = RGBImage{}

func TestSplit(t *testing.T) {
	Convey("Given a 16 bit RGB image", t, func() {
		img := image.NewRGBA64(image.Rect(0, 0, 4, 3))
		img.SetRGBA64(1, 2, color.RGBA64{R: 0xFFFF, G: 0x8000, B: 0, A: 0xFFFF})

		Convey("Split scales each channel into [0,1]", func() {
			chans, err := Split(img)
			So(err, ShouldBeNil)
			So(chans[Red].Dx(), ShouldEqual, 4)
			So(chans[Red].Dy(), ShouldEqual, 3)
			So(chans[Red].Get(1, 2), ShouldEqual, 1.0)
			So(chans[Green].Get(1, 2), ShouldAlmostEqual, 0.5, 0.0001)
			So(chans[Blue].Get(1, 2), ShouldEqual, 0.0)
		})
	})

	Convey("Given an image that doesn't start at the origin", t, func() {
		img := image.NewRGBA64(image.Rect(10, 20, 14, 23))
		img.SetRGBA64(10, 20, color.RGBA64{R: 0xFFFF, A: 0xFFFF})
		chans, err := Split(img)
		So(err, ShouldBeNil)
		So(chans[Red].Get(0, 0), ShouldEqual, 1.0)
	})

	Convey("Given an HDR image, values over 1 survive", t, func() {
		ri := RGBImage{}
		for i := range ri.Channels {
			ri.Channels[i] = emath.NewFloatGrid(3, 3)
			ri.Channels[i].Set(1, 1, 2.5 * float64(i+1))
		}
		chans, err := Split(ri)
		So(err, ShouldBeNil)
		So(chans[Red].Get(1, 1), ShouldEqual, 2.5)
		So(chans[Blue].Get(1, 1), ShouldEqual, 7.5)
	})

	Convey("A grayscale image is the wrong shape", t, func() {
		_, err := Split(image.NewGray16(image.Rect(0, 0, 8, 8)))
		So(errors.Is(err, ErrInputShapeMismatch), ShouldBeTrue)
	})
}

func TestRecombine(t *testing.T) {
	Convey("Given three channels", t, func() {
		r, g, b := emath.NewFloatGrid(5, 4), emath.NewFloatGrid(5, 4), emath.NewFloatGrid(5, 4)
		r.Set(0, 0, 0.1)
		g.Set(0, 0, 0.2)
		b.Set(0, 0, 0.3)

		Convey("The default order puts the reference in green", func() {
			ri, err := Recombine(g, r, b, DefaultChannelOrder())
			So(err, ShouldBeNil)
			rr, gg, bb, _ := ri.HDRAt(0, 0).HDRRGBA()
			So(rr, ShouldEqual, 0.1)
			So(gg, ShouldEqual, 0.2)
			So(bb, ShouldEqual, 0.3)
			So(ri.Bounds(), ShouldResemble, image.Rect(0, 0, 5, 4))
			So(ri.Size(), ShouldEqual, 20)
			So(ri.At(0, 0), ShouldResemble, hdrcolor.RGB{R: 0.1, G: 0.2, B: 0.3})
		})

		Convey("A red reference puts green and blue in A and B", func() {
			order := ChannelOrderFor(Red)
			So(order, ShouldResemble, ChannelOrder{Reference: Red, A: Green, B: Blue})
			ri, err := Recombine(r, g, b, order)
			So(err, ShouldBeNil)
			So(ri.Channels[Blue].Get(0, 0), ShouldEqual, 0.3)
		})

		Convey("Mismatched sizes are rejected", func() {
			_, err := Recombine(g, r, emath.NewFloatGrid(4, 4), DefaultChannelOrder())
			So(errors.Is(err, ErrDimensionMismatch), ShouldBeTrue)
		})

		Convey("A repeated channel is rejected", func() {
			_, err := Recombine(g, r, b, ChannelOrder{Reference: Green, A: Red, B: Red})
			So(err, ShouldNotBeNil)
		})
	})

	Convey("Channel names parse", t, func() {
		c, err := ParseChannel("Blue")
		So(err, ShouldBeNil)
		So(c, ShouldEqual, Blue)
		c, err = ParseChannel("g")
		So(c, ShouldEqual, Green)
		_, err = ParseChannel("ultraviolet")
		So(err, ShouldNotBeNil)
	})
}
