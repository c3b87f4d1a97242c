package careduce

import(
	"testing"

	"github.com/pkg/errors"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMatch(t *testing.T) {
	Convey("Given detections offset by a few pixels", t, func() {
		stars := makeStars(40, 512, 512, 20, 16, 5)
		ref := detsFromStars(stars, nil)
		tgt := detsFromStars(stars, shiftBy(-6.3, 4.1))
		cfg := DefaultMatchConfig()
		cfg.MinPairs = 3

		Convey("Every star is paired with itself", func() {
			pairs, err := Match(ref, tgt, cfg)
			So(err, ShouldBeNil)
			So(len(pairs), ShouldEqual, len(stars))
			for _, p := range pairs {
				So(p.Ref.X - p.Target.X, ShouldAlmostEqual, 6.3, 1e-9)
				So(p.Ref.Y - p.Target.Y, ShouldAlmostEqual, -4.1, 1e-9)
			}
		})

		Convey("The coarse shift is found", func() {
			sx, sy, support := coarseShift(ref, tgt, cfg)
			So(sx, ShouldAlmostEqual, 6.3, 0.1)
			So(sy, ShouldAlmostEqual, -4.1, 0.1)
			So(support, ShouldBeGreaterThanOrEqualTo, len(stars))
		})

		Convey("Extra stars in one channel are left unpaired", func() {
			extra := append([]Detection{}, tgt...)
			extra = append(extra, Detection{X: 100.5, Y: 300.5, Flux: 0.01}, Detection{X: 400, Y: 30, Flux: 0.02})
			pairs, err := Match(ref, extra, cfg)
			So(err, ShouldBeNil)
			So(len(pairs), ShouldEqual, len(stars))
		})

		Convey("A shift beyond the search radius finds nothing", func() {
			far := detsFromStars(stars, shiftBy(40, 40))
			cfg.MaxInitialOffset = 10
			pairs, err := Match(ref, far, cfg)
			So(errors.Is(err, ErrInsufficientCorrespondences), ShouldBeTrue)
			So(len(pairs), ShouldEqual, 0)
		})
	})

	Convey("Matching is one-to-one, even in a crowd", t, func() {
		ref := []Detection{
			{X: 100, Y: 100, Flux: 10},
			{X: 101, Y: 100, Flux: 9},
			{X: 200, Y: 150, Flux: 8},
			{X: 300, Y: 50, Flux: 7},
		}
		tgt := []Detection{
			{X: 100.4, Y: 100, Flux: 10},
			{X: 200.2, Y: 150, Flux: 8},
			{X: 300.1, Y: 50, Flux: 7},
		}
		cfg := MatchConfig{MaxInitialOffset: 10, MaxResidual: 2, MinPairs: 1}

		pairs, err := Match(ref, tgt, cfg)
		So(err, ShouldBeNil)
		So(len(pairs), ShouldEqual, 3)

		seenRef, seenTgt := map[Detection]bool{}, map[Detection]bool{}
		for _, p := range pairs {
			So(seenRef[p.Ref], ShouldBeFalse)
			So(seenTgt[p.Target], ShouldBeFalse)
			seenRef[p.Ref] = true
			seenTgt[p.Target] = true
		}

		// The brighter of the two crowded reference stars gets first pick
		So(pairs[0].Ref.X, ShouldEqual, 100)
		So(pairs[0].Target.X, ShouldEqual, 100.4)
	})

	Convey("Too few pairs is an error", t, func() {
		ref := []Detection{{X: 10, Y: 10, Flux: 1}, {X: 50, Y: 50, Flux: 1}}
		tgt := []Detection{{X: 11, Y: 10, Flux: 1}, {X: 51, Y: 50, Flux: 1}}
		_, err := Match(ref, tgt, MatchConfig{MinPairs: 3})
		So(errors.Is(err, ErrInsufficientCorrespondences), ShouldBeTrue)
	})

	Convey("Left at zero, MinPairs is the default transform's minimum", t, func() {
		ref := []Detection{{X: 10, Y: 10, Flux: 2}, {X: 50, Y: 50, Flux: 1}}
		tgt := []Detection{{X: 11, Y: 10, Flux: 2}, {X: 51, Y: 50, Flux: 1}}
		pairs, err := Match(ref, tgt, MatchConfig{})
		So(errors.Is(err, ErrInsufficientCorrespondences), ShouldBeTrue)
		So(len(pairs), ShouldBeLessThan, Affine.MinPairs())

		pairs, err = Match(ref, tgt, MatchConfig{MinPairs: 2})
		So(err, ShouldBeNil)
		So(len(pairs), ShouldEqual, 2)
		So(pairs[0].String(), ShouldContainSubstring, "10.000")
		So(pairs[0].Ref.String(), ShouldStartWith, "star(")
	})

	Convey("No detections at all is an error", t, func() {
		_, err := Match(nil, nil, DefaultMatchConfig())
		So(errors.Is(err, ErrInsufficientCorrespondences), ShouldBeTrue)
	})
}
