package careduce

import(
	"context"
	"fmt"
	"image"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/codahale/hdrhistogram"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/careduce/pkg/emath"
)

// Diagnostics is what we learned aligning one channel. It is filled in
// as far as the channel got, even if it failed.
type Diagnostics struct {
	Channel          string         `yaml:"channel"`
	TransformClass   TransformClass `yaml:"transformClass"`
	Parameters       []float64      `yaml:"parameters,flow"`
	ShiftX           float64        `yaml:"shiftX"`            // how far the image center moved
	ShiftY           float64        `yaml:"shiftY"`
	RefDetections    int            `yaml:"refDetections"`
	TargetDetections int            `yaml:"targetDetections"`
	Pairs            int            `yaml:"pairs"`
	InlierCount      int            `yaml:"inlierCount"`
	OutlierCount     int            `yaml:"outlierCount"`
	RMSResidual      float64        `yaml:"rmsResidual"`
	ResidualP50      float64        `yaml:"residualP50"`
	ResidualP95      float64        `yaml:"residualP95"`
	Identity         bool           `yaml:"identity"`          // channel passed through unaligned
	Error            string         `yaml:"error,omitempty"`
	Elapsed          time.Duration  `yaml:"elapsed"`
}

func (d Diagnostics)String() string {
	str := fmt.Sprintf("%-5s %s shift(%+.3f,%+.3f) stars:%d/%d pairs:%d in:%d out:%d rms:%.3fpx p95:%.3fpx",
		d.Channel, d.TransformClass, d.ShiftX, d.ShiftY, d.RefDetections, d.TargetDetections,
		d.Pairs, d.InlierCount, d.OutlierCount, d.RMSResidual, d.ResidualP95)
	if d.Error != "" {
		str += fmt.Sprintf(" FAILED: %s", d.Error)
	}
	return str
}

func DiagnosticsAsYaml(diags []Diagnostics) string {
	b, err := yaml.Marshal(diags)
	if err != nil {
		log.Fatalf("Can't marshal diagnostics yaml: %v\n", err)
	}
	return string(b)
}

// An AlignmentJob is the work for one target channel. The reference is
// shared between jobs, and must not be modified; everything else is
// owned by the job.
type AlignmentJob struct {
	Name        string
	Reference  *emath.FloatGrid
	Target      emath.FloatGrid

	// Output
	Transform   Transform
	Warped      emath.FloatGrid
	Diagnostics Diagnostics
	Err         error
}

func NewAlignmentJob(name string, reference *emath.FloatGrid, target emath.FloatGrid) *AlignmentJob {
	return &AlignmentJob{Name: name, Reference: reference, Target: target}
}

type Aligner struct {
	Config
}

func NewAligner(cfg Config) (*Aligner, error) {
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return &Aligner{Config: cfg}, nil
}

// Align runs each job in its own goroutine. Input shape problems are
// returned before any work starts. A channel that can't be aligned
// records a ChannelError in its job; with OnFailure "abort" the first
// of those is returned, with "identity" the channel is passed through
// unchanged and Align carries on.
func (a *Aligner)Align(ctx context.Context, jobs ...*AlignmentJob) error {
	if len(jobs) == 0 {
		return errors.Wrap(ErrInputShapeMismatch, "no target channels")
	}
	for _, job := range jobs {
		if job.Reference == nil || job.Reference.Empty() {
			return errors.Wrapf(ErrInputShapeMismatch, "job '%s': no reference", job.Name)
		} else if !job.Reference.SameSize(job.Target) {
			return errors.Wrapf(ErrInputShapeMismatch, "job '%s': target %dx%d, reference %dx%d", job.Name,
				job.Target.Dx(), job.Target.Dy(), job.Reference.Dx(), job.Reference.Dy())
		}
	}

	// Each distinct reference only needs detecting once
	refDets := map[*emath.FloatGrid][]Detection{}
	for _, job := range jobs {
		if _, exists := refDets[job.Reference]; !exists {
			refDets[job.Reference] = Detect(*job.Reference, a.Config.Detect)
			if a.Verbosity > 1 {
				log.Printf(" -- reference %s: %d stars\n", job.Reference.Stats(), len(refDets[job.Reference]))
			}
			if a.Verbosity > 2 {
				for _, d := range refDets[job.Reference] {
					log.Printf("    %s\n", d)
				}
			}
			if a.DumpDir != "" {
				filename := filepath.Join(a.DumpDir, "stars-reference.png")
				if err := DumpDetections(*job.Reference, refDets[job.Reference], nil, "reference", filename); err != nil {
					log.Printf("dump '%s': %v\n", filename, err)
				}
			}
		}
	}

	var wg sync.WaitGroup
	for _, job := range jobs {
		wg.Add(1)
		go func(job *AlignmentJob) {
			defer wg.Done()
			a.alignJob(ctx, job, refDets[job.Reference])
		}(job)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	for _, job := range jobs {
		if job.Err == nil {
			continue
		}
		if a.OnFailure == OnFailureIdentity && job.Diagnostics.Identity {
			continue
		}
		return job.Err
	}
	return nil
}

func (a *Aligner)alignJob(ctx context.Context, job *AlignmentJob, refDets []Detection) {
	start := time.Now()
	class := a.Config.Fit.Class
	job.Diagnostics = Diagnostics{Channel: job.Name, TransformClass: class, RefDetections: len(refDets)}
	job.Transform = IdentityTransform(class)

	err := a.estimateJob(ctx, job, refDets)

	if err == nil {
		job.Warped, err = Resample(job.Target, job.Transform, job.Reference.Dx(), job.Reference.Dy(), a.Config.Resample)
	}

	if err != nil {
		job.Diagnostics.Error = err.Error()
		job.Err = &ChannelError{Channel: job.Name, Diagnostics: job.Diagnostics, Err: err}

		timedOut := errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil
		if a.OnFailure == OnFailureIdentity && (IsChannelFailure(err) || timedOut) {
			log.Printf("align '%s' failed, passing it through unaligned: %v\n", job.Name, err)
			job.Transform = IdentityTransform(class)
			job.Warped = *job.Target.Copy()
			job.Diagnostics.Identity = true
			job.Diagnostics.Parameters = job.Transform.Params
		}
	}

	job.Diagnostics.Elapsed = time.Since(start)
	if job.Err != nil {
		job.Err.(*ChannelError).Diagnostics = job.Diagnostics
	}

	if a.Verbosity > 0 {
		log.Printf("%s\n", job.Diagnostics)
	}
}

// estimateJob does detection, matching and fitting; the timeout, if
// there is one, only applies to matching and fitting.
func (a *Aligner)estimateJob(ctx context.Context, job *AlignmentJob, refDets []Detection) error {
	class := a.Config.Fit.Class
	d := &job.Diagnostics

	if len(refDets) < class.MinPairs() {
		return errors.Wrapf(ErrInsufficientDetections, "reference has %d stars, %s needs %d", len(refDets), class, class.MinPairs())
	}

	tgtDets := Detect(job.Target, a.Config.Detect)
	d.TargetDetections = len(tgtDets)
	if a.Verbosity > 1 {
		log.Printf(" -- %s: %d stars\n", job.Name, len(tgtDets))
	}
	if len(tgtDets) < class.MinPairs() {
		return errors.Wrapf(ErrInsufficientDetections, "%s has %d stars, %s needs %d", job.Name, len(tgtDets), class, class.MinPairs())
	}

	if a.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.Timeout)
		defer cancel()
	}

	pairs, err := Match(refDets, tgtDets, a.Config.Match)
	d.Pairs = len(pairs)
	if a.DumpDir != "" {
		filename := filepath.Join(a.DumpDir, fmt.Sprintf("stars-%s.png", job.Name))
		if dumpErr := DumpDetections(job.Target, tgtDets, pairs, job.Name, filename); dumpErr != nil {
			log.Printf("dump '%s': %v\n", filename, dumpErr)
		}
	}
	if err != nil {
		return err
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if a.Verbosity > 1 {
		log.Printf(" -- %s: %d pairs\n", job.Name, len(pairs))
	}
	if a.Verbosity > 2 {
		for _, p := range pairs {
			log.Printf("    %s\n", p)
		}
	}

	fit, err := Estimate(ctx, pairs, a.Config.Fit)
	if err == nil || errors.Is(err, ErrExcessiveResidual) {
		d.Parameters   = fit.Transform.Params
		d.InlierCount  = fit.InlierCount
		d.OutlierCount = fit.OutlierCount
		d.RMSResidual  = fit.RMSResidual
		d.ResidualP50, d.ResidualP95 = residualPercentiles(fit)
		d.ShiftX, d.ShiftY = fit.Transform.Shift(job.Target.Dx(), job.Target.Dy())
	}
	if err != nil {
		return err
	}

	job.Transform = fit.Transform
	if a.Verbosity > 1 {
		log.Printf(" -- %s: target->reference\n%s", job.Name, job.Transform.Matrix)
	}
	return nil
}

// residualPercentiles summarizes the inlier residuals, using a
// histogram of millipixels.
func residualPercentiles(fit Fit) (float64, float64) {
	const maxMillipixels = 1000000
	h := hdrhistogram.New(0, maxMillipixels, 3)
	for i, r := range fit.Residuals {
		if !fit.Inliers[i] { continue }
		mpx := int64(r * 1000)
		if mpx > maxMillipixels { mpx = maxMillipixels }
		if err := h.RecordValue(mpx); err != nil {
			log.Printf("residual histogram: %v\n", err)
		}
	}
	if h.TotalCount() == 0 {
		return 0, 0
	}
	return float64(h.ValueAtQuantile(50)) / 1000, float64(h.ValueAtQuantile(95)) / 1000
}

// AlignImage is the whole chromatic aberration workflow for one RGB
// image: split it, align the two other channels onto the reference
// channel, and put it back together.
func (a *Aligner)AlignImage(ctx context.Context, img image.Image) (*RGBImage, []*AlignmentJob, error) {
	channels, err := Split(img)
	if err != nil {
		return nil, nil, err
	}

	order := a.Config.ChannelOrder()
	ref := &channels[order.Reference]
	jobA := NewAlignmentJob(order.A.String(), ref, channels[order.A])
	jobB := NewAlignmentJob(order.B.String(), ref, channels[order.B])
	jobs := []*AlignmentJob{jobA, jobB}

	if err := a.Align(ctx, jobs...); err != nil {
		return nil, jobs, err
	}

	out, err := Recombine(*ref, jobA.Warped, jobB.Warped, order)
	return out, jobs, err
}
