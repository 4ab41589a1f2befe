package media

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"subforge/internal/logging"
	"subforge/internal/services"
)

type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Extractor converts source media into mono 16kHz WAV audio via ffmpeg and
// reads container metadata via ffprobe.
type Extractor struct {
	ffmpegBinary  string
	ffprobeBinary string
	timeout       time.Duration
	logger        *slog.Logger
	run           commandRunner
}

// ExtractorOption customizes the extractor.
type ExtractorOption func(*Extractor)

// WithCommandRunner sets a custom command runner (for testing).
func WithCommandRunner(runner commandRunner) ExtractorOption {
	return func(e *Extractor) {
		if runner != nil {
			e.run = runner
		}
	}
}

// WithTimeout bounds each external command invocation.
func WithTimeout(timeout time.Duration) ExtractorOption {
	return func(e *Extractor) {
		e.timeout = timeout
	}
}

// NewExtractor constructs an extractor using the given binaries. Empty names
// fall back to whatever is on PATH.
func NewExtractor(ffmpegBinary, ffprobeBinary string, logger *slog.Logger, opts ...ExtractorOption) *Extractor {
	if logger == nil {
		logger = logging.NewNop()
	}
	extractor := &Extractor{
		ffmpegBinary:  orBinary(ffmpegBinary, "ffmpeg"),
		ffprobeBinary: orBinary(ffprobeBinary, "ffprobe"),
		logger:        logging.NewComponentLogger(logger, "media"),
		run:           defaultCommandRunner,
	}
	for _, opt := range opts {
		opt(extractor)
	}
	return extractor
}

// Preflight verifies both binaries are resolvable before any job starts.
func (e *Extractor) Preflight() error {
	for _, binary := range []string{e.ffmpegBinary, e.ffprobeBinary} {
		if _, err := exec.LookPath(binary); err != nil {
			return services.Wrap(services.ErrConfiguration, "extracting", "preflight",
				fmt.Sprintf("%s not found on PATH", binary), err)
		}
	}
	return nil
}

// ExtractAudio pulls the default audio stream out of source as a mono 16kHz
// pcm_s16le WAV at dest.
func (e *Extractor) ExtractAudio(ctx context.Context, source, dest string) error {
	if strings.TrimSpace(source) == "" {
		return services.Wrap(services.ErrValidation, "extracting", "extract audio", "source path is empty", nil)
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", source,
		"-vn",
		"-sn",
		"-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if output, err := e.runCommand(ctx, e.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "extracting", "extract audio",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

// ExtractChunk cuts one planned chunk out of the extracted WAV. Existing
// output is reused so retried jobs skip completed work.
func (e *Extractor) ExtractChunk(ctx context.Context, source string, chunk Chunk, dest string) error {
	if chunk.Duration <= 0 {
		return services.Wrap(services.ErrValidation, "chunking", "extract chunk",
			fmt.Sprintf("invalid chunk duration %.3f", chunk.Duration), nil)
	}
	if info, err := os.Stat(dest); err == nil && info.Size() > 0 {
		return nil
	}
	args := []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-ss", formatSeconds(chunk.Start),
		"-t", formatSeconds(chunk.Duration),
		"-i", source,
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "pcm_s16le",
		dest,
	}
	if output, err := e.runCommand(ctx, e.ffmpegBinary, args...); err != nil {
		return services.Wrap(services.ErrExternalTool, "chunking", "extract chunk",
			strings.TrimSpace(string(output)), err)
	}
	return nil
}

type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// ProbeDuration returns the container duration of path in seconds.
func (e *Extractor) ProbeDuration(ctx context.Context, path string) (float64, error) {
	output, err := e.runCommand(ctx, e.ffprobeBinary,
		"-v", "error",
		"-hide_banner",
		"-show_format",
		"-of", "json",
		"--", path,
	)
	if err != nil {
		return 0, services.Wrap(services.ErrExternalTool, "extracting", "probe duration",
			strings.TrimSpace(string(output)), err)
	}
	var probe probeFormat
	if err := json.Unmarshal(output, &probe); err != nil {
		return 0, services.Wrap(services.ErrValidation, "extracting", "probe duration", "parse ffprobe output", err)
	}
	duration, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64)
	if err != nil || duration <= 0 {
		return 0, services.Wrap(services.ErrValidation, "extracting", "probe duration",
			fmt.Sprintf("unusable duration %q", probe.Format.Duration), nil)
	}
	return duration, nil
}

func (e *Extractor) runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	e.logger.Debug("running external command", logging.String("binary", name))
	return e.run(ctx, name, args...)
}

func defaultCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...) //nolint:gosec
	return cmd.CombinedOutput()
}

func formatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'f', 3, 64)
}

func orBinary(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
