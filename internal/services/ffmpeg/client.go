package ffmpeg

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"tonearm/internal/pipeline"
)

// DefaultBinary is used when no override is configured.
const DefaultBinary = "ffmpeg"

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string) error
}

// Option configures the client.
type Option func(*Client)

// WithExecutor injects a custom executor (primarily for tests).
func WithExecutor(exec Executor) Option {
	return func(c *Client) {
		if exec != nil {
			c.exec = exec
		}
	}
}

// Client wraps ffmpeg CLI interactions. It implements pipeline.Transcoder
// and pipeline.Tagger.
type Client struct {
	binary string
	exec   Executor
}

// New constructs an ffmpeg client.
func New(binary string, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	client := &Client{
		binary: binary,
		exec:   commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Available probes the binary so the daemon can degrade to pass-through when
// ffmpeg is not installed.
func (c *Client) Available(ctx context.Context) error {
	if err := c.exec.Run(ctx, c.binary, []string{"-version"}); err != nil {
		return fmt.Errorf("ffmpeg unavailable: %w", err)
	}
	return nil
}

// Transcode converts srcPath into the requested format next to the source
// and returns the encoded file path.
func (c *Client) Transcode(ctx context.Context, srcPath, format, quality string) (string, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	codecArgs, err := codecFor(format, quality)
	if err != nil {
		return "", err
	}

	outPath := replaceExt(srcPath, format)
	if outPath == srcPath {
		return srcPath, nil
	}

	args := []string{"-y", "-i", srcPath, "-vn"}
	args = append(args, codecArgs...)
	args = append(args, outPath)
	if err := c.exec.Run(ctx, c.binary, args); err != nil {
		_ = os.Remove(outPath)
		return "", fmt.Errorf("ffmpeg transcode to %s: %w", format, err)
	}
	if _, err := os.Stat(outPath); err != nil {
		return "", fmt.Errorf("ffmpeg produced no output: %w", err)
	}
	return outPath, nil
}

// Tag rewrites the file in place with the resolved metadata embedded. The
// audio stream is copied, not re-encoded.
func (c *Client) Tag(ctx context.Context, path string, meta pipeline.TrackMetadata) error {
	tmpPath := tempTagPath(path)
	args := []string{"-y", "-i", path, "-c", "copy"}
	for _, pair := range metadataPairs(meta) {
		args = append(args, "-metadata", pair)
	}
	args = append(args, tmpPath)

	if err := c.exec.Run(ctx, c.binary, args); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("ffmpeg tag: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replace tagged file: %w", err)
	}
	return nil
}

func metadataPairs(meta pipeline.TrackMetadata) []string {
	var pairs []string
	if meta.Title != "" {
		pairs = append(pairs, "title="+meta.Title)
	}
	if meta.Artist != "" {
		pairs = append(pairs, "artist="+meta.Artist)
	}
	if meta.Album != "" {
		pairs = append(pairs, "album="+meta.Album)
	}
	if meta.Year > 0 {
		pairs = append(pairs, "date="+strconv.Itoa(meta.Year))
	}
	if meta.TrackNumber > 0 {
		pairs = append(pairs, "track="+strconv.Itoa(meta.TrackNumber))
	}
	return pairs
}

// codecFor maps a target format to its encoder arguments. Lossy formats
// honor the requested bitrate; flac ignores it.
func codecFor(format, quality string) ([]string, error) {
	bitrate := strings.ToLower(strings.TrimSpace(quality))
	switch format {
	case "mp3":
		return withBitrate([]string{"-codec:a", "libmp3lame"}, bitrate), nil
	case "m4a":
		return withBitrate([]string{"-codec:a", "aac"}, bitrate), nil
	case "opus", "webm":
		return withBitrate([]string{"-codec:a", "libopus"}, bitrate), nil
	case "flac":
		return []string{"-codec:a", "flac"}, nil
	default:
		return nil, fmt.Errorf("unsupported transcode format %q", format)
	}
}

func withBitrate(args []string, bitrate string) []string {
	if bitrate == "" {
		return args
	}
	return append(args, "-b:a", bitrate)
}

func replaceExt(path, format string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + format
}

// tempTagPath keeps the original extension so ffmpeg infers the right muxer.
func tempTagPath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".tagged" + ext
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err != nil {
		detail := strings.TrimSpace(lastLines(string(output), 5))
		if detail != "" {
			return fmt.Errorf("%w: %s", err, detail)
		}
		return err
	}
	return nil
}

// lastLines keeps the tail of ffmpeg's output, where the actual failure
// reason lands.
func lastLines(output string, n int) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	if len(lines) <= n {
		return strings.Join(lines, "\n")
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
