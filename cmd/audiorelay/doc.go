// Command audiorelay is the operator CLI for the audio relay daemon.
//
// It runs the HTTP daemon in the foreground (serve) or detached (start),
// stops and inspects it, resolves single URLs through the same strategy
// pipeline for debugging, and maintains the on-disk audio cache.
package main
