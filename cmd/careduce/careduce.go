package main

import(
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/abworrall/careduce/pkg/careduce"
)

var(
	fVerbosity int
	fOutputDir string
	fReference string
	fClass string
	fKernel string
	fMinSNR float64
	fMaxStars int
	fMaxOffset float64
	fMaxResidual float64
	fThreshold float64
	fCeiling float64
	fOnFailure string
	fTimeout time.Duration
	fDump bool
)

func init() {
	flag.IntVar(&fVerbosity, "v", 0, "how verbose to get")
	flag.StringVar(&fOutputDir, "outdir", ".", "where to write the corrected images")

	flag.StringVar(&fReference, "ref", "green", "reference channel, that the others get aligned to")
	flag.StringVar(&fClass, "class", "affine", fmt.Sprintf("transform to fit, one of %v", careduce.TransformClasses))
	flag.StringVar(&fKernel, "kernel", "catmullrom", fmt.Sprintf("interpolation kernel, one of %v", careduce.Kernels))

	flag.Float64Var(&fMinSNR, "snr", 5, "min signal to noise ratio for a star")
	flag.IntVar(&fMaxStars, "maxstars", 200, "max stars to detect per channel")
	flag.Float64Var(&fMaxOffset, "offset", 24, "max offset (pixels) of a star between channels")
	flag.Float64Var(&fMaxResidual, "residual", 3, "max distance (pixels) between paired stars, after the coarse shift")
	flag.Float64Var(&fThreshold, "threshold", 1.5, "pairs further than this (pixels) from the fit are outliers")
	flag.Float64Var(&fCeiling, "ceiling", 1.0, "fail a channel if its rms residual (pixels) is over this")
	flag.StringVar(&fOnFailure, "onfailure", "abort", "what to do when a channel can't be aligned: abort, identity")
	flag.DurationVar(&fTimeout, "timeout", 0, "per-channel time limit on matching and fitting (0 for none)")
	flag.BoolVar(&fDump, "dump", false, "write out star detection overlays")
	flag.Parse()

	log.Printf("careduce starting\n")
}

// applyFlags copies over the flags that were actually set, so that a
// config file can supply the rest
func applyFlags(cfg *careduce.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "v":         cfg.Verbosity = fVerbosity
		case "ref":       cfg.ReferenceChannel = fReference
		case "class":     cfg.Fit.Class = careduce.TransformClass(fClass)
		case "kernel":    cfg.Resample.Kernel = careduce.Kernel(fKernel)
		case "snr":       cfg.Detect.MinSNR = fMinSNR
		case "maxstars":  cfg.Detect.MaxDetections = fMaxStars
		case "offset":    cfg.Match.MaxInitialOffset = fMaxOffset
		case "residual":  cfg.Match.MaxResidual = fMaxResidual
		case "threshold": cfg.Fit.RobustThreshold = fThreshold
		case "ceiling":   cfg.Fit.ResidualCeiling = fCeiling
		case "onfailure": cfg.OnFailure = fOnFailure
		case "timeout":   cfg.Timeout = fTimeout
		}
	})
	if fDump {
		cfg.DumpDir = fOutputDir
	}
}

func main() {
	in := careduce.NewInputs()
	if err := in.LoadFilesAndDirs(flag.Args()...); err != nil {
		log.Fatal(err)
	}
	if len(in.Images) == 0 {
		log.Fatal("no images to process (want .tif, .png or .hdr files)")
	}

	applyFlags(&in.Config)

	aligner, err := careduce.NewAligner(in.Config)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	if aligner.Verbosity > 0 {
		log.Printf("Final configuration:-\n\n%s\n", aligner.Config.AsYaml())
	}

	if err := os.MkdirAll(fOutputDir, 0755); err != nil {
		log.Fatalf("outdir '%s': %v", fOutputDir, err)
	}

	nFailed := 0
	for _, ii := range in.Images {
		if err := process(aligner, ii); err != nil {
			log.Printf("%s: %v\n", ii.Filename, err)
			nFailed++
		}
	}

	if nFailed > 0 {
		log.Fatalf("%d of %d images failed", nFailed, len(in.Images))
	}
}

func process(aligner *careduce.Aligner, ii careduce.InputImage) error {
	log.Printf("Processing %s\n", ii)

	cfg := aligner.Config
	if cfg.DumpDir != "" {
		cfg.DumpDir = filepath.Join(fOutputDir, ii.Basename()+"-stars")
		if err := os.MkdirAll(cfg.DumpDir, 0755); err != nil {
			return err
		}
	}
	a := careduce.Aligner{Config: cfg}

	out, jobs, err := a.AlignImage(context.Background(), ii.Image)

	if aligner.Verbosity > 0 && len(jobs) > 0 {
		diags := []careduce.Diagnostics{}
		for _, job := range jobs {
			diags = append(diags, job.Diagnostics)
		}
		log.Printf("Diagnostics:-\n\n%s\n", careduce.DiagnosticsAsYaml(diags))
	}

	if err != nil {
		return err
	}

	base := filepath.Join(fOutputDir, ii.Basename()+"-ca")
	if err := out.WriteHDR(base + ".hdr"); err != nil {
		return err
	} else if err := out.WriteTIFF16(base + ".tif"); err != nil {
		return err
	} else if err := out.WritePreviewPNG(base + ".png"); err != nil {
		return err
	}

	log.Printf("Wrote %s.{hdr,tif,png}\n", base)
	return nil
}
