// Package textutil provides small text helpers shared by the metadata and
// cache layers: title normalization, filename sanitization, and identifier
// token checks.
package textutil
