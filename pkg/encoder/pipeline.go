package encoder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/devicelab-dev/screencast-runner/pkg/core"
	"github.com/devicelab-dev/screencast-runner/pkg/logger"
)

// diagnosticLines is how much of ffmpeg's output is kept on failure.
const diagnosticLines = 20

// Pipeline runs the two-pass palette transcode.
type Pipeline struct {
	FFmpegPath  string
	FFprobePath string
	Runner      Runner
}

// New creates a Pipeline. Empty paths default to "ffmpeg" and "ffprobe"
// on PATH.
func New(ffmpegPath, ffprobePath string) *Pipeline {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Pipeline{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath, Runner: ExecRunner{}}
}

// Result describes a produced GIF.
type Result struct {
	Path    string
	Size    int64
	Tier    Tier
	Elapsed time.Duration
}

// paletteStage is the output of pass one. Pass two only accepts this type,
// so it cannot run before a palette exists.
type paletteStage struct {
	path string
}

// Transcode converts videoPath into an animated GIF at outputPath.
func (p *Pipeline) Transcode(ctx context.Context, videoPath, outputPath string, opts Options) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, &core.EncodingFailure{Stage: core.StagePalette, Err: err}
	}
	tier, _ := TierFor(opts.Quality)

	info, err := os.Stat(videoPath)
	if err != nil {
		return nil, &core.EncodingFailure{Stage: core.StagePalette, Err: fmt.Errorf("input video: %w", err)}
	}
	if info.Size() == 0 {
		return nil, &core.EncodingFailure{Stage: core.StagePalette, Err: fmt.Errorf("input video %s is empty", videoPath)}
	}

	start := time.Now()
	logger.Info("Transcoding %s -> %s (fps=%d scale=%s quality=%s)", videoPath, outputPath, opts.FPS, opts.Scale, opts.Quality)

	palette, err := p.generatePalette(ctx, videoPath, outputPath, opts, tier)
	if palette.path != "" {
		defer os.Remove(palette.path)
	}
	if err != nil {
		return nil, err
	}

	if err := p.applyPalette(ctx, videoPath, palette, outputPath, opts, tier); err != nil {
		return nil, err
	}

	size, err := nonEmptySize(outputPath)
	if err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageApply, Err: err}
	}

	res := &Result{Path: outputPath, Size: size, Tier: tier, Elapsed: time.Since(start)}
	logger.Info("GIF written: %s (%d bytes, %s)", outputPath, size, res.Elapsed.Round(time.Millisecond))
	return res, nil
}

func (p *Pipeline) generatePalette(ctx context.Context, videoPath, outputPath string, opts Options, tier Tier) (paletteStage, error) {
	f, err := os.CreateTemp(filepath.Dir(outputPath), "palette-*.png")
	if err != nil {
		return paletteStage{}, &core.EncodingFailure{Stage: core.StagePalette, Err: fmt.Errorf("create palette file: %w", err)}
	}
	f.Close()
	stage := paletteStage{path: f.Name()}

	vf := fmt.Sprintf("fps=%d,scale=%s:flags=lanczos,palettegen=max_colors=%d:stats_mode=diff", opts.FPS, opts.Scale, tier.Colors)
	args := []string{"-y"}
	args = append(args, opts.trimArgs()...)
	args = append(args, "-i", videoPath, "-vf", vf, stage.path)

	logger.Debug("ffmpeg pass 1: %s", strings.Join(args, " "))
	if out, err := p.Runner.Run(ctx, p.FFmpegPath, args...); err != nil {
		return stage, &core.EncodingFailure{Stage: core.StagePalette, Diagnostic: tail(out), Err: err}
	}
	if _, err := nonEmptySize(stage.path); err != nil {
		return stage, &core.EncodingFailure{Stage: core.StagePalette, Err: err}
	}
	return stage, nil
}

func (p *Pipeline) applyPalette(ctx context.Context, videoPath string, palette paletteStage, outputPath string, opts Options, tier Tier) error {
	lavfi := fmt.Sprintf("fps=%d,scale=%s:flags=lanczos[x];[x][1:v]paletteuse=dither=%s", opts.FPS, opts.Scale, tier.Dither)
	args := []string{"-y"}
	args = append(args, opts.trimArgs()...)
	args = append(args, "-i", videoPath, "-i", palette.path, "-lavfi", lavfi, outputPath)

	logger.Debug("ffmpeg pass 2: %s", strings.Join(args, " "))
	if out, err := p.Runner.Run(ctx, p.FFmpegPath, args...); err != nil {
		return &core.EncodingFailure{Stage: core.StageApply, Diagnostic: tail(out), Err: err}
	}
	return nil
}

// Defaults for Optimize.
const (
	DefaultOptimizeColors = 128
	DefaultDither         = "floyd_steinberg"
)

// OptimizedPath returns <name>_opt<colors>.gif next to gif, never gif itself.
func OptimizedPath(gif string, colors int) string {
	ext := filepath.Ext(gif)
	return fmt.Sprintf("%s_opt%d%s", strings.TrimSuffix(gif, ext), colors, ext)
}

// Optimize re-quantizes an existing GIF in a single pass.
func (p *Pipeline) Optimize(ctx context.Context, inputPath, outputPath string, colors int, dither string) (*Result, error) {
	if colors < 2 || colors > 256 {
		return nil, &core.EncodingFailure{Stage: core.StageOptimize, Err: fmt.Errorf("colors must be between 2 and 256, got %d", colors)}
	}
	if dither == "" {
		dither = DefaultDither
	}
	if err := ValidateDither(dither); err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageOptimize, Err: err}
	}
	if inputPath == outputPath {
		return nil, &core.EncodingFailure{Stage: core.StageOptimize, Err: fmt.Errorf("output must differ from input")}
	}

	start := time.Now()
	graph := fmt.Sprintf("split[s0][s1];[s0]palettegen=max_colors=%d[p];[s1][p]paletteuse=dither=%s", colors, dither)
	args := []string{"-y", "-i", inputPath, "-vf", graph, outputPath}

	logger.Debug("ffmpeg optimize: %s", strings.Join(args, " "))
	if out, err := p.Runner.Run(ctx, p.FFmpegPath, args...); err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageOptimize, Diagnostic: tail(out), Err: err}
	}
	size, err := nonEmptySize(outputPath)
	if err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageOptimize, Err: err}
	}
	return &Result{Path: outputPath, Size: size, Tier: Tier{Colors: colors, Dither: dither}, Elapsed: time.Since(start)}, nil
}

// MediaInfo is what ffprobe reports about a media file.
type MediaInfo struct {
	Duration time.Duration `json:"duration"`
	Width    int           `json:"width"`
	Height   int           `json:"height"`
	Size     int64         `json:"size"`
}

// Probe reads duration and dimensions of a media file.
func (p *Pipeline) Probe(ctx context.Context, path string) (*MediaInfo, error) {
	args := []string{"-v", "error", "-select_streams", "v:0",
		"-show_entries", "format=duration,size:stream=width,height", "-of", "json", path}
	out, err := p.Runner.Run(ctx, p.FFprobePath, args...)
	if err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageProbe, Diagnostic: tail(out), Err: err}
	}

	var raw struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
		Format struct {
			Duration string `json:"duration"`
			Size     string `json:"size"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &raw); err != nil {
		return nil, &core.EncodingFailure{Stage: core.StageProbe, Diagnostic: tail(out), Err: fmt.Errorf("parse ffprobe output: %w", err)}
	}

	info := &MediaInfo{}
	if secs, err := strconv.ParseFloat(raw.Format.Duration, 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	if size, err := strconv.ParseInt(raw.Format.Size, 10, 64); err == nil {
		info.Size = size
	}
	if len(raw.Streams) > 0 {
		info.Width = raw.Streams[0].Width
		info.Height = raw.Streams[0].Height
	}
	return info, nil
}

func nonEmptySize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("expected output %s: %w", path, err)
	}
	if info.Size() == 0 {
		return 0, fmt.Errorf("output %s is empty", path)
	}
	return info.Size(), nil
}

func tail(out []byte) string {
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > diagnosticLines {
		lines = lines[len(lines)-diagnosticLines:]
	}
	return strings.Join(lines, "\n")
}
