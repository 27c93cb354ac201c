package pipeline

import "context"

// TrackMetadata is the resolved catalog description of a track, used for
// tagging and library placement.
type TrackMetadata struct {
	TrackID     string
	Title       string
	Artist      string
	Album       string
	Year        int
	TrackNumber int
	ArtworkURL  string
}

// SourceCandidate is one fetchable location for a track's audio, in resolver
// rank order.
type SourceCandidate struct {
	Locator string
	Format  string
	Label   string
}

// Resolution is the catalog resolver's answer for a track id.
type Resolution struct {
	Metadata   TrackMetadata
	Candidates []SourceCandidate
}

// Resolver maps a catalog track id to metadata and ranked source candidates.
// Implementations return services.ErrNotFound (wrapped) when the catalog has
// no entry for the track.
type Resolver interface {
	Resolve(ctx context.Context, trackID string) (*Resolution, error)
}

// Fetcher downloads a source candidate into destDir and returns the local
// artifact path.
type Fetcher interface {
	Fetch(ctx context.Context, candidate SourceCandidate, destDir string) (string, error)
}

// Transcoder converts an artifact to the requested format and quality,
// returning the encoded artifact path. Optional collaborator; absence means
// pass-through policy.
type Transcoder interface {
	Transcode(ctx context.Context, srcPath, format, quality string) (string, error)
}

// Tagger embeds resolved metadata into the artifact. Tag failures never
// abort a task.
type Tagger interface {
	Tag(ctx context.Context, path string, meta TrackMetadata) error
}

// Placer moves a finished artifact into the shared output namespace
// atomically. Satisfied by organizer.Organizer.
type Placer interface {
	Place(artifactPath, artist, album, title, format string) (string, error)
}
