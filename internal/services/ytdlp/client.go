package ytdlp

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"tonearm/internal/pipeline"
	"tonearm/internal/services"
)

// DefaultBinary is used when no override is configured.
const DefaultBinary = "yt-dlp"

// defaultSearchLimit bounds how many provider results one resolution
// considers.
const defaultSearchLimit = 5

// Executor abstracts command execution for testability.
type Executor interface {
	Run(ctx context.Context, binary string, args []string, onLine func(string)) error
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

// WithSearchLimit overrides how many search results are considered.
func WithSearchLimit(limit int) Option {
	return func(c *Client) {
		if limit > 0 {
			c.searchLimit = limit
		}
	}
}

// Client wraps yt-dlp CLI interactions. It implements pipeline.Resolver and
// pipeline.Fetcher.
type Client struct {
	binary      string
	searchLimit int
	exec        Executor
}

// New constructs a yt-dlp client.
func New(binary string, opts ...Option) *Client {
	binary = strings.TrimSpace(binary)
	if binary == "" {
		binary = DefaultBinary
	}
	client := &Client{
		binary:      binary,
		searchLimit: defaultSearchLimit,
		exec:        commandExecutor{},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Available probes the binary so callers can degrade gracefully when yt-dlp
// is not installed.
func (c *Client) Available(ctx context.Context) error {
	if err := c.exec.Run(ctx, c.binary, []string{"--version"}, nil); err != nil {
		return fmt.Errorf("yt-dlp unavailable: %w", err)
	}
	return nil
}

// Resolve searches the provider for the track and returns ranked source
// candidates together with the best result's metadata.
func (c *Client) Resolve(ctx context.Context, trackID string) (*pipeline.Resolution, error) {
	query := searchQuery(trackID, c.searchLimit)
	args := []string{"--dump-json", "--no-playlist", "--skip-download", query}

	var lines []string
	runErr := c.exec.Run(ctx, c.binary, args, func(line string) {
		lines = append(lines, line)
	})

	results := parseSearchResults(lines)
	if runErr != nil {
		if isRateLimited(runErr.Error()) || isRateLimited(strings.Join(lines, "\n")) {
			return nil, &services.RateLimitError{Err: fmt.Errorf("yt-dlp search: %w", runErr)}
		}
		// yt-dlp can exit non-zero after emitting usable results for some
		// entries; only fail when nothing was produced.
		if len(results) == 0 {
			return nil, fmt.Errorf("yt-dlp search: %w", runErr)
		}
	}
	if len(results) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "resolve", "provider search", fmt.Sprintf("no sources for %q", trackID), nil)
	}

	rankResults(results)
	best := results[0]

	candidates := make([]pipeline.SourceCandidate, 0, len(results))
	for _, result := range results {
		candidates = append(candidates, pipeline.SourceCandidate{
			Locator: result.locator(),
			Format:  result.Ext,
			Label:   result.Title,
		})
	}

	return &pipeline.Resolution{
		Metadata:   best.metadata(trackID),
		Candidates: candidates,
	}, nil
}

// Fetch downloads the candidate's best audio stream into destDir and returns
// the downloaded file path.
func (c *Client) Fetch(ctx context.Context, candidate pipeline.SourceCandidate, destDir string) (string, error) {
	if candidate.Locator == "" {
		return "", errors.New("source candidate has no locator")
	}
	template := filepath.Join(destDir, "%(id)s.%(ext)s")
	args := []string{
		"--format", "bestaudio",
		"--no-playlist",
		"--no-progress",
		"--output", template,
		candidate.Locator,
	}

	var lines []string
	if err := c.exec.Run(ctx, c.binary, args, func(line string) {
		lines = append(lines, line)
	}); err != nil {
		if isRateLimited(err.Error()) || isRateLimited(strings.Join(lines, "\n")) {
			return "", &services.RateLimitError{Err: fmt.Errorf("yt-dlp fetch: %w", err)}
		}
		return "", fmt.Errorf("yt-dlp fetch: %w", err)
	}

	path, err := newestAudioFile(destDir)
	if err != nil {
		return "", fmt.Errorf("yt-dlp fetch: %w", err)
	}
	return path, nil
}

// isRateLimited matches the provider throttle responses yt-dlp surfaces in
// its output.
func isRateLimited(output string) bool {
	lowered := strings.ToLower(output)
	return strings.Contains(lowered, "http error 429") ||
		strings.Contains(lowered, "too many requests") ||
		strings.Contains(lowered, "rate-limit") ||
		strings.Contains(lowered, "rate limit")
}

// newestAudioFile picks the most recently written complete file in dir,
// skipping yt-dlp's in-progress artifacts.
func newestAudioFile(dir string) (string, error) {
	items, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}
	var (
		newest     string
		newestTime time.Time
	)
	for _, item := range items {
		if item.IsDir() {
			continue
		}
		name := strings.ToLower(item.Name())
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".ytdl") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		info, err := item.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestTime) {
			newest = filepath.Join(dir, item.Name())
			newestTime = info.ModTime()
		}
	}
	if newest == "" {
		return "", errors.New("no audio file produced")
	}
	return newest, nil
}

type commandExecutor struct{}

func (commandExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	cmd := exec.CommandContext(ctx, binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start command: %w", err)
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	forward := func(line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		onLine(line)
		mu.Unlock()
	}
	scan := func(r io.Reader) {
		defer wg.Done()
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			forward(scanner.Text())
		}
	}

	wg.Add(2)
	go scan(stdout)
	go scan(stderr)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("wait command: %w", err)
	}
	return nil
}
