// Package pipeline turns a video page URL into a playable audio URL.
//
// The Resolver parses the URL, consults the file and stream caches, then tries
// each configured extraction strategy in order with its own timeout. The first
// strategy to return an http URL wins. When every strategy fails the outcome
// carries the configured fallback clip with Success=false; only an invalid URL
// or a host-level extractor launch failure surfaces as an error. The page
// title is fetched concurrently and replaced by strategy-provided metadata
// when a strategy supplies it.
package pipeline
