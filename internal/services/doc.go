// Package services defines shared utilities consumed by the extraction
// strategies and the resolution pipeline.
//
// Key responsibilities:
//   - Context helpers that stamp video IDs, strategy names, and correlation
//     identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper so strategy failures can
//     be classified uniformly (timeout, missing tool, upstream rejection).
//
// Subpackages hold the concrete integrations: the yt-dlp subprocess client,
// third-party conversion APIs, the native player client, and oEmbed metadata.
package services
