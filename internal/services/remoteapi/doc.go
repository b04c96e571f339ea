// Package remoteapi implements extraction strategies backed by third-party
// conversion services. Each service is a single GET against an endpoint
// template whose JSON response is decoded by a named mapper.
package remoteapi
