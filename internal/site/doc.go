// Package site models the static asset tree that pagehaul packages,
// publishes and serves.
//
// A Tree wraps a billy filesystem so production code works on a real
// directory while tests work on an in-memory one. The package also produces
// the deterministic tar archive that becomes the image layer.
package site
