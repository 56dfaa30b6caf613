package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/ayusman/iriscope/internal/detector"
	"github.com/ayusman/iriscope/internal/gallery"
)

// envPrefix prefixes the environment fallbacks of every flag.
const envPrefix = "IRISCOPE"

type options struct {
	Addr       string
	CameraID   int
	WebDir     string
	ImagesDir  string
	ImageWidth int
	ModelPath  string
	Delegate   string
	NumFaces   int
	PythonPath string
	Tray       bool
	Debug      bool
}

func defaultOptions() *options {
	d := detector.DefaultConfig()
	return &options{
		Addr:       ":8080",
		ImageWidth: gallery.DefaultDisplayWidth,
		ModelPath:  d.ModelAssetPath,
		Delegate:   d.Delegate,
		NumFaces:   d.NumFaces,
	}
}

func (o *options) bind(flags *pflag.FlagSet) {
	flags.StringVar(&o.Addr, "addr", o.Addr, "HTTP listen address")
	flags.IntVar(&o.CameraID, "camera", o.CameraID, "camera device id, negative disables the webcam")
	flags.StringVar(&o.WebDir, "web", o.WebDir, "static page directory (default: auto-detect web/)")
	flags.StringVar(&o.ImagesDir, "images", o.ImagesDir, "directory of clickable images (default: auto-detect images/)")
	flags.IntVar(&o.ImageWidth, "image-width", o.ImageWidth, "display width of gallery images")
	flags.StringVar(&o.ModelPath, "model", o.ModelPath, "face landmarker model path or URL")
	flags.StringVar(&o.Delegate, "delegate", o.Delegate, "inference delegate (GPU or CPU)")
	flags.IntVar(&o.NumFaces, "num-faces", o.NumFaces, "maximum number of faces to detect")
	flags.StringVar(&o.PythonPath, "python", o.PythonPath, "python interpreter for the landmarker service")
	flags.BoolVar(&o.Tray, "tray", o.Tray, "show a system tray menu")
	flags.BoolVar(&o.Debug, "debug", o.Debug, "enable debug logging")
}

func (o *options) detectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	cfg.ModelAssetPath = o.ModelPath
	cfg.Delegate = strings.ToUpper(o.Delegate)
	cfg.NumFaces = o.NumFaces
	return cfg
}

// envName maps a flag name to its environment variable, e.g. num-faces to
// IRISCOPE_NUM_FACES.
func envName(prefix, flag string) string {
	return prefix + "_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}

// applyEnv loads an optional .env file and fills every flag that was not set
// on the command line from its environment variable.
func applyEnv(flags *pflag.FlagSet, prefix string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}

	var errs []error
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		val, ok := os.LookupEnv(envName(prefix, f.Name))
		if !ok {
			return
		}
		if err := flags.Set(f.Name, val); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", envName(prefix, f.Name), err))
		}
	})
	return errors.Join(errs...)
}

// resolveDir returns dir if set, otherwise the first existing candidate
// named name near the working directory or under ~/.iriscope.
func resolveDir(dir, name string) string {
	if dir != "" {
		return dir
	}

	candidates := []string{name, filepath.Join("..", name), filepath.Join("..", "..", name)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".iriscope", name))
	}

	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			if abs, err := filepath.Abs(p); err == nil {
				return abs
			}
			return p
		}
	}
	return ""
}
