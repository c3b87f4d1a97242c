package careduce

import(
	"io/ioutil"
	"log"
	"runtime"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const(
	OnFailureAbort    = "abort"     // a failed channel fails the whole image
	OnFailureIdentity = "identity"  // a failed channel is passed through unaligned
)

type Config struct {
	Verbosity        int            `yaml:"verbosity"`        // 1: per channel, 2: per phase, 3: per star

	ReferenceChannel string         `yaml:"referenceChannel"` // red, green or blue
	OnFailure        string         `yaml:"onFailure"`
	Timeout          time.Duration  `yaml:"timeout"`          // per channel, bounds matching+fitting; 0 is none
	DumpDir          string         `yaml:"dumpDir,omitempty"`// if set, detection overlays get written here

	Detect           DetectConfig   `yaml:"detect"`
	Match            MatchConfig    `yaml:"match"`
	Fit              FitConfig      `yaml:"fit"`
	Resample         ResampleConfig `yaml:"resample"`
}

type DetectConfig struct {
	MinSNR           float64 `yaml:"minSNR"`
	MaxDetections    int     `yaml:"maxDetections"`
	BackgroundWindow int     `yaml:"backgroundWindow"` // side of the square blocks used to model the sky
	CentroidRadius   int     `yaml:"centroidRadius"`
	SaturationLevel  float64 `yaml:"saturationLevel"`  // 0 means guess from the image; <0 disables the check
}

type MatchConfig struct {
	MaxInitialOffset float64 `yaml:"maxInitialOffset"` // pixels; how far apart a star can be in two channels
	MaxResidual      float64 `yaml:"maxResidual"`      // pixels; acceptance radius once the coarse shift is applied
	MinPairs         int     `yaml:"minPairs"`         // 0 means the minimum for the transform class (Finalize), or the default class
}

type FitConfig struct {
	Class            TransformClass `yaml:"transformClass"`
	RobustThreshold  float64        `yaml:"robustThreshold"`  // pixels; pairs further out than this are outliers
	Iterations       int            `yaml:"iterations"`
	Seed             int64          `yaml:"seed"`
	ResidualCeiling  float64        `yaml:"residualCeiling"`  // pixels; an RMS above this fails the fit
}

type ResampleConfig struct {
	Kernel           Kernel  `yaml:"interpolationKernel"`
	FillValue        float64 `yaml:"fillValue"`
	Workers          int     `yaml:"workers"`
}

func DefaultDetectConfig() DetectConfig {
	return DetectConfig{
		MinSNR:           5.0,
		MaxDetections:    200,
		BackgroundWindow: 32,
		CentroidRadius:   4,
	}
}

func DefaultMatchConfig() MatchConfig {
	return MatchConfig{
		MaxInitialOffset: 24.0,
		MaxResidual:      3.0,
	}
}

func DefaultFitConfig() FitConfig {
	return FitConfig{
		Class:            Affine,
		RobustThreshold:  1.5,
		Iterations:       256,
		Seed:             1,
		ResidualCeiling:  1.0,
	}
}

func DefaultResampleConfig() ResampleConfig {
	return ResampleConfig{
		Kernel:           CatmullRom,
	}
}

func NewConfig() Config {
	return Config{
		ReferenceChannel: "green",
		OnFailure:        OnFailureAbort,
		Detect:           DefaultDetectConfig(),
		Match:            DefaultMatchConfig(),
		Fit:              DefaultFitConfig(),
		Resample:         DefaultResampleConfig(),
	}
}

// NewConfigFromYaml overlays the yaml onto the defaults, so a config
// file need only list what it changes.
func NewConfigFromYaml(b []byte) (Config, error) {
	c := NewConfig()
	err := yaml.Unmarshal(b, &c)
	return c, err
}

func LoadConfig(filename string) (Config, error) {
	contents, err := ioutil.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrapf(err, "config read '%s'", filename)
	}

	c, err := NewConfigFromYaml(contents)
	if err != nil {
		return c, errors.Wrapf(err, "config parse '%s'", filename)
	}
	return c, nil
}

func (c Config)AsYaml() string {
	b, err := yaml.Marshal(c)
	if err != nil {
		log.Fatalf("Can't marshal config yaml: %v\n", err)
	}
	return string(b)
}

// Finalize checks the config, and resolves the names and the "0 means
// work it out" values into concrete settings.
func (c *Config)Finalize() error {
	c.ReferenceChannel = strings.ToLower(c.ReferenceChannel)
	if _, err := ParseChannel(c.ReferenceChannel); err != nil {
		return err
	}

	switch c.OnFailure = strings.ToLower(c.OnFailure); c.OnFailure {
	case "":                c.OnFailure = OnFailureAbort
	case OnFailureAbort:
	case OnFailureIdentity:
	default:
		return errors.Errorf("onFailure '%s': want '%s' or '%s'", c.OnFailure, OnFailureAbort, OnFailureIdentity)
	}

	if c.Timeout < 0 {
		return errors.Errorf("timeout '%s': must not be negative", c.Timeout)
	}

	if err := c.Detect.finalize(); err != nil {
		return err
	} else if err := c.Fit.finalize(); err != nil {
		return err
	} else if err := c.Match.finalize(c.Fit.Class); err != nil {
		return err
	}
	return c.Resample.finalize()
}

func (c Config)ChannelOrder() ChannelOrder {
	ref, err := ParseChannel(c.ReferenceChannel)
	if err != nil {
		return DefaultChannelOrder()
	}
	return ChannelOrderFor(ref)
}

func (dc *DetectConfig)finalize() error {
	if dc.MinSNR <= 0 {
		return errors.Errorf("minSNR '%g': must be positive", dc.MinSNR)
	} else if dc.MaxDetections <= 0 {
		return errors.Errorf("maxDetections '%d': must be positive", dc.MaxDetections)
	} else if dc.BackgroundWindow < 4 {
		return errors.Errorf("backgroundWindow '%d': must be at least 4", dc.BackgroundWindow)
	} else if dc.CentroidRadius < 1 {
		return errors.Errorf("centroidRadius '%d': must be at least 1", dc.CentroidRadius)
	}
	return nil
}

func (mc *MatchConfig)finalize(class TransformClass) error {
	if mc.MaxInitialOffset <= 0 {
		return errors.Errorf("maxInitialOffset '%g': must be positive", mc.MaxInitialOffset)
	} else if mc.MaxResidual <= 0 {
		return errors.Errorf("maxResidual '%g': must be positive", mc.MaxResidual)
	} else if mc.MinPairs < 0 {
		return errors.Errorf("minPairs '%d': must not be negative", mc.MinPairs)
	}
	if mc.MinPairs == 0 {
		mc.MinPairs = class.MinPairs()
	}
	return nil
}

func (fc *FitConfig)finalize() error {
	class, err := ParseTransformClass(string(fc.Class))
	if err != nil {
		return err
	}
	fc.Class = class

	if fc.RobustThreshold <= 0 {
		return errors.Errorf("robustThreshold '%g': must be positive", fc.RobustThreshold)
	} else if fc.Iterations < 1 {
		return errors.Errorf("iterations '%d': must be at least 1", fc.Iterations)
	} else if fc.ResidualCeiling <= 0 {
		return errors.Errorf("residualCeiling '%g': must be positive", fc.ResidualCeiling)
	}
	return nil
}

func (rc *ResampleConfig)finalize() error {
	kernel, err := ParseKernel(string(rc.Kernel))
	if err != nil {
		return err
	}
	rc.Kernel = kernel

	if rc.Workers < 0 {
		return errors.Errorf("workers '%d': must not be negative", rc.Workers)
	} else if rc.Workers == 0 {
		rc.Workers = runtime.GOMAXPROCS(0)
	}
	return nil
}
