// Package builder packages the asset tree into a container image and
// publishes it under the mutable and immutable tags.
//
// The entry file is verified before any registry interaction, so a broken
// tree never leaves partial state behind. Registry failures are fatal and
// never retried; operators re-trigger the run.
package builder
