// Package audiocache stores audio files downloaded by the extractor and serves
// them back to clients.
//
// Files live flat under the cache directory as <video-id>.<ext>. A SQLite index
// in the state directory records title, duration, size, checksum, and access
// times. Writers take a per-id file lock so concurrent publishers of the same
// video cannot interleave; the first completed write wins and later writers
// reuse it. Pruning evicts least-recently-used entries until the cache fits its
// size budget and the filesystem keeps its free-space floor.
package audiocache
