package careduce

import(
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/abworrall/careduce/pkg/emath"
)

func TestDetect(t *testing.T) {
	Convey("Given a synthetic star field", t, func() {
		stars := makeStars(30, 256, 256, 16, 16, 42)
		g := renderField(256, 256, stars, nil, 7)
		cfg := DefaultDetectConfig()

		Convey("Every star is found, close to where it really is", func() {
			dets := Detect(g, cfg)
			So(len(dets), ShouldEqual, len(stars))
			for _, d := range dets {
				So(nearestStar(d, stars), ShouldBeLessThan, 0.1)
				So(d.SNR, ShouldBeGreaterThan, cfg.MinSNR)
				So(d.Radius, ShouldAlmostEqual, fieldPSFSigma, 0.5)
			}
		})

		Convey("Detections come out brightest first", func() {
			dets := Detect(g, cfg)
			for i:=1; i<len(dets); i++ {
				So(dets[i-1].Flux, ShouldBeGreaterThanOrEqualTo, dets[i].Flux)
			}
		})

		Convey("Running it twice gives identical results", func() {
			So(Detect(g, cfg), ShouldResemble, Detect(g, cfg))
		})

		Convey("MaxDetections keeps only the brightest", func() {
			all := Detect(g, cfg)
			cfg.MaxDetections = 5
			few := Detect(g, cfg)
			So(len(few), ShouldEqual, 5)
			So(few, ShouldResemble, all[:5])
		})
	})

	Convey("Given an empty sky", t, func() {
		g := renderField(128, 128, nil, nil, 3)

		Convey("Nothing is found, and that's not an error", func() {
			dets := Detect(g, DefaultDetectConfig())
			So(dets, ShouldNotBeNil)
			So(len(dets), ShouldEqual, 0)
		})
	})

	Convey("Noise peaks never come back as stars", t, func() {
		cfg := DefaultDetectConfig()
		for _, seed := range []int64{9, 11} {
			g := renderField(512, 512, nil, nil, seed)
			for _, d := range Detect(g, cfg) {
				So(d.SNR, ShouldBeGreaterThanOrEqualTo, cfg.MinSNR)
			}
		}

		Convey("even once the noise has been smeared by resampling", func() {
			g := renderField(512, 512, nil, nil, 9)
			tr, _ := NewTransform(Translation, []float64{-1.37, 0.82})
			warped, err := Resample(g, tr, 512, 512, DefaultResampleConfig())
			So(err, ShouldBeNil)
			for _, d := range Detect(warped, cfg) {
				So(d.SNR, ShouldBeGreaterThanOrEqualTo, cfg.MinSNR)
			}
		})
	})

	Convey("Given a grid smaller than a centroid window", t, func() {
		g := emath.NewFloatGrid(5, 5)
		So(len(Detect(g, DefaultDetectConfig())), ShouldEqual, 0)
	})

	Convey("Stars touching the edge are rejected", t, func() {
		g := renderField(128, 128, nil, nil, 3)
		addStar(&g, 2, 60, 0.5)
		addStar(&g, 64, 64, 0.5)

		dets := Detect(g, DefaultDetectConfig())
		So(len(dets), ShouldEqual, 1)
		So(dets[0].X, ShouldAlmostEqual, 64, 0.1)
	})

	Convey("Saturated stars are rejected", t, func() {
		g := renderField(128, 128, nil, nil, 3)
		addStar(&g, 40, 40, 5.0)  // will clip
		addStar(&g, 90, 90, 0.5)
		for y:=0; y<g.Dy(); y++ {
			for x:=0; x<g.Dx(); x++ {
				if g.Get(x,y) > 1.0 { g.Set(x, y, 1.0) }
			}
		}

		Convey("when guessing the saturation level", func() {
			dets := Detect(g, DefaultDetectConfig())
			So(len(dets), ShouldEqual, 1)
			So(dets[0].X, ShouldAlmostEqual, 90, 0.1)
		})

		Convey("when told the saturation level", func() {
			cfg := DefaultDetectConfig()
			cfg.SaturationLevel = 0.95
			dets := Detect(g, cfg)
			So(len(dets), ShouldEqual, 1)
			So(dets[0].X, ShouldAlmostEqual, 90, 0.1)
		})

		Convey("unless the check is disabled", func() {
			cfg := DefaultDetectConfig()
			cfg.SaturationLevel = -1
			So(len(Detect(g, cfg)), ShouldEqual, 2)
		})
	})

	Convey("Two peaks closer than the centroid radius are one star", t, func() {
		g := renderField(128, 128, nil, nil, 3)
		addStar(&g, 60, 60, 0.6)
		addStar(&g, 63, 60, 0.3)

		dets := Detect(g, DefaultDetectConfig())
		So(len(dets), ShouldEqual, 1)
	})
}

func TestEstimateBackground(t *testing.T) {
	Convey("Given a sky with a gradient", t, func() {
		g := emath.NewFloatGrid(200, 100)
		for y:=0; y<g.Dy(); y++ {
			for x:=0; x<g.Dx(); x++ {
				g.Set(x, y, 0.1 + 0.001*float64(x))
			}
		}
		addStar(&g, 100, 50, 0.8)

		bg := EstimateBackground(g, 32)

		Convey("The level follows the gradient, and ignores the star", func() {
			So(bg.Level.Get(100, 50), ShouldAlmostEqual, 0.2, 0.01)
			So(bg.Level.Get(50, 20), ShouldAlmostEqual, 0.15, 0.01)
		})

		Convey("The gradient barely registers as noise", func() {
			So(bg.Sigma.Get(20, 20), ShouldBeLessThan, 0.02)
		})
	})

	Convey("The noise estimate matches the noise", t, func() {
		g := renderField(128, 128, nil, nil, 11)
		bg := EstimateBackground(g, 32)
		So(bg.Level.Get(64, 64), ShouldAlmostEqual, fieldBackground, 0.002)
		So(bg.Sigma.Get(64, 64), ShouldAlmostEqual, fieldNoise, 0.001)
	})
}
