package ytdlp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"tonearm/internal/pipeline"
	"tonearm/internal/services"
)

// fakeExecutor feeds scripted output lines and captures invocations.
type fakeExecutor struct {
	lines   []string
	err     error
	onRun   func(binary string, args []string)
	invoked int
}

func (f *fakeExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	f.invoked++
	if f.onRun != nil {
		f.onRun(binary, args)
	}
	if onLine != nil {
		for _, line := range f.lines {
			onLine(line)
		}
	}
	return f.err
}

func TestSearchQuery(t *testing.T) {
	if got := searchQuery("https://example.com/watch?v=abc", 5); got != "https://example.com/watch?v=abc" {
		t.Fatalf("URL should pass through, got %q", got)
	}
	if got := searchQuery("  Miles Davis So What ", 5); got != "ytsearch5:Miles Davis So What" {
		t.Fatalf("searchQuery = %q", got)
	}
}

func TestParseSearchResultsSkipsDiagnostics(t *testing.T) {
	lines := []string{
		"[youtube] Extracting URL",
		`{"id":"abc","title":"Song (Official Audio)","ext":"webm"}`,
		"WARNING: unable to download thumbnail",
		`{"id":"","webpage_url":""}`,
		`{broken json`,
		`{"id":"def","title":"Song (Live)","ext":"m4a"}`,
	}
	results := parseSearchResults(lines)
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].ID != "abc" || results[1].ID != "def" {
		t.Fatalf("unexpected ids %q %q", results[0].ID, results[1].ID)
	}
}

func TestRankResultsPrefersStudioAudio(t *testing.T) {
	results := []*searchResult{
		{ID: "live", Title: "Song (Live at the Fillmore)", Duration: 400},
		{ID: "video", Title: "Song (Official Video)", Duration: 300},
		{ID: "audio", Title: "Song (Official Audio)", Duration: 300},
		{ID: "remix", Title: "Song (DJ Remix)", Duration: 300},
	}
	rankResults(results)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.ID
	}
	want := "audio,video,live,remix"
	if strings.Join(got, ",") != want {
		t.Fatalf("rank order = %s, want %s", strings.Join(got, ","), want)
	}
}

func TestMetadataPrefersMusicFields(t *testing.T) {
	result := &searchResult{
		Title:      "Artist Name - Track Title (Official Audio)",
		Track:      "Track Title",
		Artist:     "Artist Name",
		Album:      "Album Name",
		Uploader:   "SomeChannel",
		UploadDate: "19590817",
	}
	meta := result.metadata("track-1")
	if meta.Title != "Track Title" || meta.Artist != "Artist Name" || meta.Album != "Album Name" {
		t.Fatalf("metadata = %+v", meta)
	}
	if meta.Year != 1959 {
		t.Fatalf("year = %d, want 1959", meta.Year)
	}
}

func TestMetadataSplitsUploadTitle(t *testing.T) {
	result := &searchResult{
		Title:    "Nina Simone - Sinnerman",
		Uploader: "RandomUploads",
	}
	meta := result.metadata("track-1")
	if meta.Artist != "Nina Simone" || meta.Title != "Sinnerman" {
		t.Fatalf("metadata = %+v, want Artist - Title split", meta)
	}
}

func TestResolveRanksAndReturnsCandidates(t *testing.T) {
	exec := &fakeExecutor{lines: []string{
		`{"id":"v1","title":"Song (Live)","ext":"webm","webpage_url":"https://example.com/v1","duration":300}`,
		`{"id":"v2","title":"Song (Official Audio)","ext":"webm","webpage_url":"https://example.com/v2","duration":300,"track":"Song","artist":"Band"}`,
	}}
	client := New("", WithExecutor(exec))

	resolution, err := client.Resolve(context.Background(), "Band Song")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(resolution.Candidates) != 2 {
		t.Fatalf("candidates = %d, want 2", len(resolution.Candidates))
	}
	if resolution.Candidates[0].Locator != "https://example.com/v2" {
		t.Fatalf("best candidate = %q, want the official audio upload", resolution.Candidates[0].Locator)
	}
	if resolution.Metadata.Title != "Song" || resolution.Metadata.Artist != "Band" {
		t.Fatalf("metadata = %+v", resolution.Metadata)
	}
}

func TestResolvePassesSearchArgs(t *testing.T) {
	var gotArgs []string
	exec := &fakeExecutor{
		lines: []string{`{"id":"v1","title":"Song","ext":"webm"}`},
		onRun: func(binary string, args []string) { gotArgs = args },
	}
	client := New("", WithExecutor(exec), WithSearchLimit(3))

	if _, err := client.Resolve(context.Background(), "some track"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	want := []string{"--dump-json", "--no-playlist", "--skip-download", "ytsearch3:some track"}
	if strings.Join(gotArgs, " ") != strings.Join(want, " ") {
		t.Fatalf("args = %v, want %v", gotArgs, want)
	}
}

func TestResolveNoResultsIsNotFound(t *testing.T) {
	client := New("", WithExecutor(&fakeExecutor{}))

	_, err := client.Resolve(context.Background(), "nothing here")
	if services.Kind(err) != services.KindNotFound {
		t.Fatalf("error kind = %s, want not found", services.Kind(err))
	}
}

func TestResolveClassifiesRateLimit(t *testing.T) {
	exec := &fakeExecutor{err: errors.New("ERROR: HTTP Error 429: Too Many Requests")}
	client := New("", WithExecutor(exec))

	_, err := client.Resolve(context.Background(), "throttled track")
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limit classification, got %v", err)
	}
}

func TestResolveToleratesPartialFailure(t *testing.T) {
	exec := &fakeExecutor{
		lines: []string{`{"id":"v1","title":"Song","ext":"webm"}`},
		err:   errors.New("exit status 1"),
	}
	client := New("", WithExecutor(exec))

	resolution, err := client.Resolve(context.Background(), "some track")
	if err != nil {
		t.Fatalf("resolve should use the emitted results: %v", err)
	}
	if len(resolution.Candidates) != 1 {
		t.Fatalf("candidates = %d, want 1", len(resolution.Candidates))
	}
}

type writingExecutor struct {
	filename string
}

func (w *writingExecutor) Run(ctx context.Context, binary string, args []string, onLine func(string)) error {
	// The --output template's directory is where the download lands.
	var template string
	for i, arg := range args {
		if arg == "--output" && i+1 < len(args) {
			template = args[i+1]
		}
	}
	if template == "" {
		return errors.New("no output template")
	}
	dir := filepath.Dir(template)
	for _, name := range []string{w.filename, "leftover.part"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("audio"), 0o644); err != nil {
			return err
		}
	}
	return nil
}

func TestFetchReturnsDownloadedFile(t *testing.T) {
	dir := t.TempDir()
	client := New("", WithExecutor(&writingExecutor{filename: "v1.webm"}))

	path, err := client.Fetch(context.Background(), pipeline.SourceCandidate{Locator: "https://example.com/v1"}, dir)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if filepath.Base(path) != "v1.webm" {
		t.Fatalf("path = %q, want the completed download, not the .part file", path)
	}
}

func TestFetchRequiresLocator(t *testing.T) {
	client := New("", WithExecutor(&fakeExecutor{}))
	if _, err := client.Fetch(context.Background(), pipeline.SourceCandidate{}, t.TempDir()); err == nil {
		t.Fatal("expected error for empty locator")
	}
}

func TestFetchClassifiesRateLimitFromOutput(t *testing.T) {
	exec := &fakeExecutor{lines: []string{"ERROR: unable to download: rate-limit reached"}, err: errors.New("exit status 1")}
	client := New("", WithExecutor(exec))

	_, err := client.Fetch(context.Background(), pipeline.SourceCandidate{Locator: "x"}, t.TempDir())
	if !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("expected rate limit classification, got %v", err)
	}
}

func TestFetchFailsWithoutProducedFile(t *testing.T) {
	client := New("", WithExecutor(&fakeExecutor{}))
	if _, err := client.Fetch(context.Background(), pipeline.SourceCandidate{Locator: "x"}, t.TempDir()); err == nil {
		t.Fatal("expected error when no file was produced")
	}
}
