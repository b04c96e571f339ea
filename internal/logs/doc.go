// Package logs reads the daemon's log files for `audiorelay logs`.
//
// The daemon writes one file per run and repoints audiorelay.log at the
// newest one. Tailer reads through that pointer, so a follow session keeps
// working across daemon restarts: when the file behind the pointer shrinks
// below the saved offset the reader starts again from the top.
package logs
