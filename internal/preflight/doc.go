// Package preflight provides readiness checks for the binaries, directories,
// and upstream services the relay depends on.
//
// These checks run in three contexts:
//   - The daemon logs RunAll results at startup so a missing yt-dlp or an
//     unwritable cache directory is visible before the first request.
//   - The health endpoint reports CheckSystemDeps so callers can see which
//     strategies can actually run.
//   - The CLI "audiorelay status" command renders every check as a table.
//
// Each check is gated by its config toggle -- disabled features are skipped.
package preflight
