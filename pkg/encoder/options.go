// Package encoder converts captured video into palette-quantized GIFs with
// ffmpeg.
package encoder

import (
	"fmt"
	"strings"

	"github.com/devicelab-dev/screencast-runner/pkg/flow"
)

// Quality selects a palette size and dither algorithm.
type Quality string

// Quality tiers.
const (
	QualityLow    Quality = "low"
	QualityMedium Quality = "medium"
	QualityHigh   Quality = "high"
)

// Tier is the palette configuration for a quality level.
type Tier struct {
	Colors int
	Dither string
}

var tiers = map[Quality]Tier{
	QualityLow:    {Colors: 64, Dither: "sierra2_4a"},
	QualityMedium: {Colors: 128, Dither: "floyd_steinberg"},
	QualityHigh:   {Colors: 256, Dither: "floyd_steinberg"},
}

// TierFor returns the palette tier for q.
func TierFor(q Quality) (Tier, error) {
	t, ok := tiers[Quality(strings.ToLower(string(q)))]
	if !ok {
		return Tier{}, fmt.Errorf("unknown quality %q (want low, medium or high)", q)
	}
	return t, nil
}

// ditherModes are the paletteuse dither values.
var ditherModes = map[string]bool{
	"bayer":           true,
	"heckbert":        true,
	"floyd_steinberg": true,
	"sierra2":         true,
	"sierra2_4a":      true,
	"sierra3":         true,
	"burkes":          true,
	"atkinson":        true,
	"none":            true,
}

// ValidateDither rejects anything that is not a paletteuse dither mode.
func ValidateDither(dither string) error {
	if !ditherModes[dither] {
		return fmt.Errorf("unknown dither %q (want bayer, heckbert, floyd_steinberg, sierra2, sierra2_4a, sierra3, burkes, atkinson or none)", dither)
	}
	return nil
}

// ValidateScale accepts a scale expression such as "800:-1" or "iw/2:-2".
// Characters that would end the scale filter or open another one are
// rejected, since the expression is embedded in a filter graph.
func ValidateScale(scale string) error {
	if strings.TrimSpace(scale) == "" {
		return fmt.Errorf("scale must not be empty")
	}
	for _, c := range scale {
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case strings.ContainsRune(":-*/+.()_", c):
		default:
			return fmt.Errorf("scale %q contains invalid character %q", scale, c)
		}
	}
	return nil
}

// Options controls a transcode.
type Options struct {
	FPS      int
	Scale    string  // ffmpeg scale expression, e.g. "800:-1"
	Quality  Quality
	Start    float64 // trim start in seconds, 0 for none
	Duration float64 // trim length in seconds, 0 for the whole video
}

// DefaultOptions returns fps 10, scale 800:-1, medium quality.
func DefaultOptions() Options {
	return Options{FPS: 10, Scale: "800:-1", Quality: QualityMedium}
}

// Merge overlays the non-zero fields of a flow's gif options.
func (o Options) Merge(g *flow.GifOptions) Options {
	if g == nil {
		return o
	}
	if g.FPS > 0 {
		o.FPS = g.FPS
	}
	if g.Scale != "" {
		o.Scale = g.Scale
	}
	if g.Quality != "" {
		o.Quality = Quality(g.Quality)
	}
	if g.Start > 0 {
		o.Start = g.Start
	}
	if g.Duration > 0 {
		o.Duration = g.Duration
	}
	return o
}

// Validate checks the options before any process is started.
func (o Options) Validate() error {
	if o.FPS <= 0 {
		return fmt.Errorf("fps must be positive, got %d", o.FPS)
	}
	if err := ValidateScale(o.Scale); err != nil {
		return err
	}
	if o.Start < 0 || o.Duration < 0 {
		return fmt.Errorf("trim start and duration must not be negative")
	}
	_, err := TierFor(o.Quality)
	return err
}

func (o Options) trimArgs() []string {
	var args []string
	if o.Start > 0 {
		args = append(args, "-ss", formatSeconds(o.Start))
	}
	if o.Duration > 0 {
		args = append(args, "-t", formatSeconds(o.Duration))
	}
	return args
}

func formatSeconds(s float64) string {
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.3f", s), "0"), ".")
}
