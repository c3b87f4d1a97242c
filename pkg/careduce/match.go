package careduce

import(
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"

	"github.com/abworrall/careduce/pkg/emath"
)

// A Pair is the same star, as seen in the reference and target channels
type Pair struct {
	Ref    Detection
	Target Detection
}

func (p Pair)String() string {
	return fmt.Sprintf("pair{ref(%8.3f,%8.3f) <- tgt(%8.3f,%8.3f)}", p.Ref.X, p.Ref.Y, p.Target.X, p.Target.Y)
}

type cell struct{ X, Y int }

// Match pairs up reference and target detections. It first finds the
// dominant shift between the channels by voting every plausible
// difference vector into a grid, then walks the reference stars
// (brightest first) and pairs each with the nearest unclaimed target
// star, once that shift is applied. No star is in more than one pair.
func Match(ref, target []Detection, cfg MatchConfig) ([]Pair, error) {
	cfg = cfg.withDefaults()
	floor := cfg.MinPairs

	shiftX, shiftY, support := coarseShift(ref, target, cfg)
	if support < floor {
		return []Pair{}, errors.Wrapf(ErrInsufficientCorrespondences,
			"coarse shift (%.2f,%.2f) supported by %d pairs, need %d", shiftX, shiftY, support, floor)
	}

	// Brightest reference stars get first pick
	order := make([]int, len(ref))
	for i := range order { order[i] = i }
	sort.SliceStable(order, func(i, j int) bool { return ref[order[i]].Flux > ref[order[j]].Flux })

	claimed := make([]bool, len(target))
	pairs := []Pair{}
	for _, ri := range order {
		r := ref[ri]
		bestTi, bestDist := -1, math.Inf(1)
		for ti, t := range target {
			if claimed[ti] { continue }
			dist := emath.Hypot(t.X + shiftX - r.X, t.Y + shiftY - r.Y)
			if dist <= cfg.MaxResidual && dist < bestDist {
				bestTi, bestDist = ti, dist
			}
		}
		if bestTi >= 0 {
			claimed[bestTi] = true
			pairs = append(pairs, Pair{Ref: r, Target: target[bestTi]})
		}
	}

	if len(pairs) < floor {
		return pairs, errors.Wrapf(ErrInsufficientCorrespondences, "%d pairs after refinement, need %d", len(pairs), floor)
	}
	return pairs, nil
}

func (mc MatchConfig)withDefaults() MatchConfig {
	def := DefaultMatchConfig()
	if mc.MaxInitialOffset <= 0 { mc.MaxInitialOffset = def.MaxInitialOffset }
	if mc.MaxResidual <= 0      { mc.MaxResidual = def.MaxResidual }
	if mc.MinPairs <= 0         { mc.MinPairs = DefaultFitConfig().Class.MinPairs() }
	return mc
}

// coarseShift returns the (ref - target) shift most of the stars
// agree on, and how many difference vectors lie within MaxResidual
// of it.
func coarseShift(ref, target []Detection, cfg MatchConfig) (float64, float64, int) {
	type vec struct{ X, Y float64 }

	size := cfg.MaxResidual
	votes := map[cell][]vec{}
	all := []vec{}
	for _, r := range ref {
		for _, t := range target {
			v := vec{r.X - t.X, r.Y - t.Y}
			if emath.Hypot(v.X, v.Y) > cfg.MaxInitialOffset {
				continue
			}
			c := cell{int(math.Floor(v.X/size)), int(math.Floor(v.Y/size))}
			votes[c] = append(votes[c], v)
			all = append(all, v)
		}
	}
	if len(all) == 0 {
		return 0, 0, 0
	}

	// Visit cells in a fixed order, so ties always resolve the same way
	cells := make([]cell, 0, len(votes))
	for c := range votes {
		cells = append(cells, c)
	}
	sort.Slice(cells, func(i, j int) bool {
		if cells[i].Y != cells[j].Y { return cells[i].Y < cells[j].Y }
		return cells[i].X < cells[j].X
	})

	bestCell, bestCount := cells[0], -1
	for _, c := range cells {
		n := 0
		for dy:=-1; dy<=1; dy++ {
			for dx:=-1; dx<=1; dx++ {
				n += len(votes[cell{c.X+dx, c.Y+dy}])
			}
		}
		if n > bestCount {
			bestCell, bestCount = c, n
		}
	}

	var sx, sy float64
	for dy:=-1; dy<=1; dy++ {
		for dx:=-1; dx<=1; dx++ {
			for _, v := range votes[cell{bestCell.X+dx, bestCell.Y+dy}] {
				sx += v.X
				sy += v.Y
			}
		}
	}
	sx, sy = sx/float64(bestCount), sy/float64(bestCount)

	// The neighbourhood mean is diluted by chance alignments at its
	// edges; re-center on just the votes close to it.
	var mx, my float64
	support := 0
	for _, v := range all {
		if emath.Hypot(v.X - sx, v.Y - sy) <= size {
			mx += v.X
			my += v.Y
			support++
		}
	}
	if support > 0 {
		sx, sy = mx/float64(support), my/float64(support)
	}

	return sx, sy, support
}
