// Package organizer derives library paths for finished downloads and moves
// artifacts into place atomically so partially written files are never
// visible under the library root.
package organizer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"tonearm/internal/config"
	"tonearm/internal/fileutil"
)

var illegalPathChars = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f]`)

var titleCaser = cases.Title(language.Und)

// Organizer places completed artifacts under the library directory.
type Organizer struct {
	libraryDir string
}

// New builds an organizer rooted at the configured library directory.
func New(cfg *config.Config) *Organizer {
	return &Organizer{libraryDir: cfg.Paths.LibraryDir}
}

// TargetPath derives the final library location for a track:
// <library>/<artist>/<album>/<artist> - <title>.<format>. Missing metadata
// fields fall back to placeholders so placement never fails on sparse tags.
func (o *Organizer) TargetPath(artist, album, title, format string) string {
	artist = CleanName(artist)
	if artist == "" {
		artist = "Unknown Artist"
	}
	album = CleanName(album)
	if album == "" {
		album = "Unknown Album"
	}
	title = CleanName(title)
	if title == "" {
		title = "Unknown Title"
	}
	format = strings.ToLower(strings.TrimSpace(format))
	if format == "" {
		format = "bin"
	}
	filename := fmt.Sprintf("%s - %s.%s", artist, title, format)
	return filepath.Join(o.libraryDir, artist, album, filename)
}

// Place moves the artifact to its target path. The destination directory is
// created as needed and the move is atomic with respect to the final path.
func (o *Organizer) Place(artifactPath, artist, album, title, format string) (string, error) {
	if artifactPath == "" {
		return "", fmt.Errorf("artifact path is empty")
	}
	if _, err := os.Stat(artifactPath); err != nil {
		return "", fmt.Errorf("stat artifact: %w", err)
	}

	target := o.TargetPath(artist, album, title, format)
	if err := fileutil.MoveFileAtomic(artifactPath, target); err != nil {
		return "", fmt.Errorf("place artifact: %w", err)
	}
	return target, nil
}

// CleanName sanitizes a metadata field for filesystem use: Unicode NFC
// normalization, illegal character removal, whitespace collapse. Catalog
// sources sometimes deliver shouting-case names; those are re-cased.
func CleanName(value string) string {
	value = norm.NFC.String(strings.TrimSpace(value))
	value = illegalPathChars.ReplaceAllString(value, "")
	value = strings.Join(strings.Fields(value), " ")
	value = strings.Trim(value, ". ")
	if value != "" && value == strings.ToUpper(value) && value != strings.ToLower(value) {
		value = titleCaser.String(strings.ToLower(value))
	}
	return value
}
