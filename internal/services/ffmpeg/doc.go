// Package ffmpeg wraps the ffmpeg CLI for audio transcoding and metadata
// tagging. The daemon probes availability at startup; when ffmpeg is missing
// the pipeline runs without these collaborators and applies its pass-through
// policy instead.
package ffmpeg
