package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Processor is the audio file primitive set used for page audio and human
// audio ingestion.
type Processor interface {
	// Concat joins MP3 files into outPath.
	Concat(ctx context.Context, inputs []string, outPath string) error
	// Slice extracts [start, end) seconds of input into outPath as MP3.
	// A non-positive end means to the end of input.
	Slice(ctx context.Context, input string, start, end float64, outPath string) error
	// ToMP3 converts an audio file (typically WAV) to MP3.
	ToMP3(ctx context.Context, input, outPath string) error
}

// FFmpeg implements Processor by running the ffmpeg binary.
type FFmpeg struct {
	Binary string // "ffmpeg" if empty
}

func (f FFmpeg) binary() string {
	if f.Binary == "" {
		return "ffmpeg"
	}
	return f.Binary
}

// Available checks that the binary is on PATH.
func (f FFmpeg) Available() error {
	if _, err := exec.LookPath(f.binary()); err != nil {
		return fmt.Errorf("%s not found in PATH: %w", f.binary(), err)
	}
	return nil
}

func (f FFmpeg) run(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, f.binary(), args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("ffmpeg failed: %w\nOutput: %s", err, string(output))
	}
	return nil
}

// Concat uses ffmpeg's concat demuxer. A single input is copied.
func (f FFmpeg) Concat(ctx context.Context, inputs []string, outPath string) error {
	if len(inputs) == 0 {
		return fmt.Errorf("no input files provided")
	}
	if len(inputs) == 1 {
		data, err := os.ReadFile(inputs[0])
		if err != nil {
			return fmt.Errorf("failed to read single input file: %w", err)
		}
		return os.WriteFile(outPath, data, 0o644)
	}

	listPath := outPath + ".txt"
	lines := make([]string, len(inputs))
	for i, in := range inputs {
		lines[i] = fmt.Sprintf("file '%s'", strings.ReplaceAll(in, "'", "'\\''"))
	}
	if err := os.WriteFile(listPath, []byte(strings.Join(lines, "\n")), 0o644); err != nil {
		return fmt.Errorf("failed to create concat list: %w", err)
	}
	defer os.Remove(listPath)

	// -safe 0 allows absolute paths; -c copy avoids re-encoding.
	return f.run(ctx, "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-y", outPath)
}

// Slice cuts a time range out of input and encodes it as MP3.
func (f FFmpeg) Slice(ctx context.Context, input string, start, end float64, outPath string) error {
	args := []string{"-i", input, "-ss", formatSeconds(start)}
	if end > 0 {
		if end <= start {
			return fmt.Errorf("invalid slice %.3f-%.3f", start, end)
		}
		args = append(args, "-to", formatSeconds(end))
	}
	args = append(args, "-codec:a", "libmp3lame", "-q:a", "2", "-y", outPath)
	return f.run(ctx, args...)
}

// ToMP3 converts input to MP3.
func (f FFmpeg) ToMP3(ctx context.Context, input, outPath string) error {
	return f.run(ctx, "-i", input, "-codec:a", "libmp3lame", "-q:a", "2", "-y", outPath)
}

func formatSeconds(s float64) string {
	return fmt.Sprintf("%.3f", s)
}
