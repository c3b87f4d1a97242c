package careduce

import (
	"fmt"
	"image"
	"image/png"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/pkg/errors"
	"github.com/rwcarlsen/goexif/exif"
	"golang.org/x/image/tiff"
)

// An InputImage is an RGB image to be corrected, plus whatever camera
// metadata we could find.
type InputImage struct {
	Filename string
	Image    image.Image

	Camera   string // EXIF Model, if present
	ISO      int64
	Exposure string // e.g. "1/250"
}

func (ii InputImage)String() string {
	str := fmt.Sprintf("%s %s", filepath.Base(ii.Filename), ii.Image.Bounds())
	if ii.Camera != "" {
		str += fmt.Sprintf(" [%s ISO%d %ss]", ii.Camera, ii.ISO, ii.Exposure)
	}
	return str
}

// Basename is the filename with no dir or extension
func (ii InputImage)Basename() string {
	base := filepath.Base(ii.Filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Inputs gathers up images (and an optional config) from the command line
type Inputs struct {
	Images     []InputImage
	Config     Config
	HaveConfig bool
}

func NewInputs() Inputs {
	return Inputs{Config: NewConfig()}
}

func (in *Inputs)LoadFilesAndDirs(args ...string) (error) {
	for _, arg := range args {
		item, err := os.Stat(arg)

		switch {

		case err != nil:
			return errors.Wrapf(err, "load '%s'", arg)

		case item.IsDir():
			// Is a dir, recurse into contents
			contents, err := ioutil.ReadDir(arg)
			if err != nil {
				return errors.Wrapf(err, "readdir '%s'", arg)
			}
			for _, content := range contents {
				if err := in.LoadFilesAndDirs(filepath.Join(arg, content.Name())); err != nil {
					return err
				}
			}

		default: // is a file, load it
			if err := in.loadFile(arg); err != nil {
				return errors.Wrapf(err, "loadfile '%s'", arg)
			}
		}
	}

	sort.SliceStable(in.Images, func(i, j int) bool { return in.Images[i].Filename < in.Images[j].Filename })
	return nil
}

func (in *Inputs)loadFile(filename string) error {
	switch strings.ToLower(filepath.Ext(filename)) {

	case ".tif", ".tiff", ".png", ".hdr":
		ii, err := LoadImage(filename)
		if err != nil {
			return err
		}
		in.Images = append(in.Images, ii)

	case ".yaml", ".yml":
		cfg, err := LoadConfig(filename)
		if err != nil {
			return err
		}
		in.Config = cfg
		in.HaveConfig = true
		log.Printf("Loaded base configuration from %s\n", filename)
	}

	// Anything else (e.g. our own outputs, sidecar files) is skipped
	return nil
}

// LoadImage decodes a TIFF, PNG or Radiance HDR file. For TIFFs it
// also reads the EXIF tags, if there are any.
func LoadImage(filename string) (InputImage, error) {
	ii := InputImage{Filename: filename}

	reader, err := os.Open(filename)
	if err != nil {
		return ii, errors.Wrapf(err, "open+r img '%s'", filename)
	}
	defer reader.Close()

	var img image.Image
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".tif", ".tiff": img, err = tiff.Decode(reader)
	case ".png":          img, err = png.Decode(reader)
	case ".hdr":          img, err = rgbe.Decode(reader)
	default:
		return ii, errors.Errorf("image '%s': unhandled extension '%s'", filename, ext)
	}
	if err != nil {
		return ii, errors.Wrapf(err, "decoding '%s'", filename)
	}
	ii.Image = img

	if strings.HasPrefix(strings.ToLower(filepath.Ext(filename)), ".tif") {
		loadExif(&ii)
	}

	return ii, nil
}

// loadExif fills in what it can; images exported from most tools have
// no EXIF at all, which is fine.
func loadExif(ii *InputImage) {
	reader, err := os.Open(ii.Filename)
	if err != nil {
		return
	}
	defer reader.Close()

	ex, err := exif.Decode(reader)
	if err != nil {
		return
	}

	if tag, err := ex.Get(exif.Model); err == nil {
		if val, err := tag.StringVal(); err == nil {
			ii.Camera = strings.TrimSpace(val)
		}
	}

	if tag, err := ex.Get(exif.ISOSpeedRatings); err == nil {
		if val, err := tag.Int64(0); err == nil {
			ii.ISO = val
		}
	}

	if tag, err := ex.Get(exif.ExposureTime); err == nil {
		if num, denom, err := tag.Rat2(0); err == nil {
			ii.Exposure = fmt.Sprintf("%d/%d", num, denom)
		}
	}
}
