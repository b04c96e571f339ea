// Package daemon coordinates the long-running audiorelay process.
//
// It wires configuration, the resolution pipeline, and the audio cache into a
// single lifecycle with flock-based locking to prevent multiple instances on
// the same state directory. The daemon owns the HTTP surface (extraction,
// health, cached file serving) and a background prune loop that keeps the
// audio cache inside its size and free-space limits.
//
// Keep orchestration logic here: strategy behaviour belongs to the pipeline
// and services packages while the daemon focuses on startup, shutdown, and
// request plumbing.
package daemon
