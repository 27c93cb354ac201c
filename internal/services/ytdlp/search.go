package ytdlp

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"tonearm/internal/pipeline"
)

// searchResult is the subset of yt-dlp's JSON output the resolver consumes.
type searchResult struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Track      string  `json:"track"`
	Artist     string  `json:"artist"`
	Album      string  `json:"album"`
	Uploader   string  `json:"uploader"`
	Channel    string  `json:"channel"`
	Ext        string  `json:"ext"`
	Duration   float64 `json:"duration"`
	WebpageURL string  `json:"webpage_url"`
	Thumbnail  string  `json:"thumbnail"`
	UploadDate string  `json:"upload_date"`
	score      int
}

// searchQuery builds the yt-dlp search locator. Explicit URLs pass through
// untouched.
func searchQuery(trackID string, limit int) string {
	trimmed := strings.TrimSpace(trackID)
	if strings.HasPrefix(trimmed, "http://") || strings.HasPrefix(trimmed, "https://") {
		return trimmed
	}
	return fmt.Sprintf("ytsearch%d:%s", limit, trimmed)
}

// parseSearchResults decodes one JSON document per output line, skipping
// non-JSON diagnostics interleaved by yt-dlp.
func parseSearchResults(lines []string) []*searchResult {
	var results []*searchResult
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var result searchResult
		if err := json.Unmarshal([]byte(line), &result); err != nil {
			continue
		}
		if result.ID == "" && result.WebpageURL == "" {
			continue
		}
		results = append(results, &result)
	}
	return results
}

// rankResults orders results toward studio audio uploads: official audio and
// lyric uploads rank above music videos, live recordings, and rework uploads.
// The sort is stable so the provider's own relevance breaks ties.
func rankResults(results []*searchResult) {
	for _, result := range results {
		result.score = scoreResult(result)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].score > results[j].score
	})
}

func scoreResult(result *searchResult) int {
	title := strings.ToLower(result.Title)
	score := 0
	if strings.Contains(title, "official audio") {
		score += 30
	} else if strings.Contains(title, "audio") {
		score += 10
	}
	if strings.Contains(title, "lyric") {
		score += 5
	}
	if strings.Contains(title, "official video") || strings.Contains(title, "music video") {
		score -= 10
	}
	if strings.Contains(title, "live") {
		score -= 15
	}
	if strings.Contains(title, "remix") || strings.Contains(title, "cover") || strings.Contains(title, "reaction") {
		score -= 20
	}
	// Track-length uploads beat full sets and shorts.
	if result.Duration >= 60 && result.Duration <= 1200 {
		score += 5
	}
	return score
}

// locator returns the fetchable reference for the result.
func (r *searchResult) locator() string {
	if r.WebpageURL != "" {
		return r.WebpageURL
	}
	return r.ID
}

// metadata maps provider fields into track metadata, preferring the explicit
// music fields over the upload title.
func (r *searchResult) metadata(trackID string) pipeline.TrackMetadata {
	meta := pipeline.TrackMetadata{
		TrackID:    trackID,
		Title:      r.Track,
		Artist:     r.Artist,
		Album:      r.Album,
		ArtworkURL: r.Thumbnail,
	}
	if meta.Title == "" {
		meta.Title = r.Title
	}
	if meta.Artist == "" {
		meta.Artist = r.Uploader
	}
	if meta.Artist == "" {
		meta.Artist = r.Channel
	}
	// "Artist - Title" upload names carry better splits than channel names.
	if r.Track == "" {
		if artist, title, ok := strings.Cut(r.Title, " - "); ok {
			meta.Artist = strings.TrimSpace(artist)
			meta.Title = strings.TrimSpace(title)
		}
	}
	if len(r.UploadDate) >= 4 {
		if year, err := strconv.Atoi(r.UploadDate[:4]); err == nil {
			meta.Year = year
		}
	}
	return meta
}
