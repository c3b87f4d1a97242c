package careduce

import(
	"image"
	"image/color"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/abworrall/careduce/pkg/emath"
)

func testRGBImage(w, h int) *RGBImage {
	ri := RGBImage{}
	for i := range ri.Channels {
		ri.Channels[i] = emath.NewFloatGrid(w, h)
		for y:=0; y<h; y++ {
			for x:=0; x<w; x++ {
				ri.Channels[i].Set(x, y, 0.25 + 0.5*float64(x+y+i)/float64(w+h+3))
			}
		}
	}
	return &ri
}

func TestWriteAndLoad(t *testing.T) {
	Convey("Given an output dir, and an RGB image", t, func() {
		dir, err := ioutil.TempDir("", "careduce-io")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		ri := testRGBImage(16, 12)

		Convey("A 16 bit TIFF round trips to within a 16 bit step", func() {
			filename := filepath.Join(dir, "out.tif")
			So(ri.WriteTIFF16(filename), ShouldBeNil)

			ii, err := LoadImage(filename)
			So(err, ShouldBeNil)
			So(ii.Basename(), ShouldEqual, "out")
			chans, err := Split(ii.Image)
			So(err, ShouldBeNil)
			for c := range chans {
				So(chans[c].Get(7, 5), ShouldAlmostEqual, ri.Channels[c].Get(7, 5), 1.0/65535)
			}
		})

		Convey("A Radiance HDR file round trips to within RGBE precision", func() {
			filename := filepath.Join(dir, "out.hdr")
			So(ri.WriteHDR(filename), ShouldBeNil)

			ii, err := LoadImage(filename)
			So(err, ShouldBeNil)
			So(ii.Image.Bounds(), ShouldResemble, ri.Bounds())
			chans, err := Split(ii.Image)
			So(err, ShouldBeNil)
			for c := range chans {
				So(chans[c].Get(3, 9), ShouldAlmostEqual, ri.Channels[c].Get(3, 9), 0.01)
			}
		})

		Convey("A preview PNG gets written", func() {
			filename := filepath.Join(dir, "out.png")
			So(ri.WritePreviewPNG(filename), ShouldBeNil)
			ii, err := LoadImage(filename)
			So(err, ShouldBeNil)
			So(ii.Image.Bounds().Dx(), ShouldEqual, 16)
		})

		Convey("To16Bit clamps out of range values", func() {
			ri.Channels[Red].Set(0, 0, 3.0)
			ri.Channels[Green].Set(0, 0, -1.0)
			c := ri.To16Bit().RGBA64At(0, 0)
			So(c.R, ShouldEqual, 0xFFFF)
			So(c.G, ShouldEqual, 0)
		})

		Convey("LoadFilesAndDirs walks a dir, picking up images and config", func() {
			So(WritePNG(image.NewRGBA64(image.Rect(0, 0, 8, 8)), filepath.Join(dir, "b.png")), ShouldBeNil)
			So(ri.WriteTIFF16(filepath.Join(dir, "a.tif")), ShouldBeNil)
			So(ioutil.WriteFile(filepath.Join(dir, "cfg.yaml"), []byte("verbosity: 2\n"), 0644), ShouldBeNil)
			So(ioutil.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644), ShouldBeNil)

			in := NewInputs()
			So(in.LoadFilesAndDirs(dir), ShouldBeNil)
			So(len(in.Images), ShouldEqual, 2)
			So(filepath.Base(in.Images[0].Filename), ShouldEqual, "a.tif")
			So(in.HaveConfig, ShouldBeTrue)
			So(in.Config.Verbosity, ShouldEqual, 2)
		})

		Convey("Missing files are an error", func() {
			in := NewInputs()
			So(in.LoadFilesAndDirs(filepath.Join(dir, "nope.tif")), ShouldNotBeNil)
		})

		Convey("A grayscale PNG loads, but can't be split", func() {
			filename := filepath.Join(dir, "gray.png")
			gray := image.NewGray16(image.Rect(0, 0, 8, 8))
			gray.SetGray16(1, 1, color.Gray16{Y: 1000})
			So(WritePNG(gray, filename), ShouldBeNil)

			ii, err := LoadImage(filename)
			So(err, ShouldBeNil)
			_, err = Split(ii.Image)
			So(errors.Is(err, ErrInputShapeMismatch), ShouldBeTrue)
		})
	})
}

func TestDumpDetections(t *testing.T) {
	Convey("Detection overlays get drawn", t, func() {
		dir, err := ioutil.TempDir("", "careduce-dump")
		So(err, ShouldBeNil)
		defer os.RemoveAll(dir)

		stars := makeStars(5, 64, 64, 10, 10, 1)
		g := renderField(64, 64, stars, nil, 1)
		dets := detsFromStars(stars, nil)
		pairs := []Pair{{Ref: dets[0], Target: dets[0]}}

		filename := filepath.Join(dir, "stars.png")
		So(DumpDetections(g, dets, pairs, "test", filename), ShouldBeNil)
		_, err = os.Stat(filename)
		So(err, ShouldBeNil)
	})
}
