// Package ytdlp drives the yt-dlp command-line extractor.
//
// The Client runs one process per request under a hard wall-clock timeout,
// killing the whole process group on expiry, and bounds concurrency with a
// weighted semaphore. Two modes are supported: stream mode asks yt-dlp for the
// direct media URL (the last http line on stdout wins), while download mode
// extracts audio into a scratch directory and reads the <id>.info.json
// sidecar for authoritative title and duration.
//
// Strategy adapts the client to extraction.Strategy by trying each configured
// client profile (format selector, spoofed player client, user agent) in order.
package ytdlp
