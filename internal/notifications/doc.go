// Package notifications sends operator alerts to an ntfy topic.
//
// Alerts are events the operator should act on: the daemon came up, the
// extractor binary cannot be launched, or every strategy has been failing
// long enough that clients keep receiving the fallback clip. When no topic is
// configured NewService returns a no-op implementation so callers never need
// to nil-check.
package notifications
