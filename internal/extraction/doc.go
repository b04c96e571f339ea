// Package extraction defines the contract shared by every audio extraction
// strategy: the Strategy interface, the Result it produces, and the error
// taxonomy the resolution pipeline uses to decide whether to continue with the
// next strategy, degrade to the fallback clip, or surface a fatal error.
//
// A strategy either returns a Result whose AudioURL is an absolute http(s)
// URL, or an error that matches ErrStrategyFailed (try the next one) or
// ErrLaunch (the host cannot run extractors at all).
package extraction
