// Package ytdlp wraps the yt-dlp CLI as the catalog resolver and audio
// fetcher. Resolution searches the provider and ranks results toward studio
// audio uploads; fetching downloads the best available audio stream into the
// task's staging directory.
package ytdlp
