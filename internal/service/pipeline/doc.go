// Package pipeline runs a full release: build, then deploy on build
// success, with the optional publisher started independently on the same
// trigger.
//
// The run outcome is build-and-deploy; a publisher failure is recorded but
// never changes it. A marker-file lock prevents overlapping runs from one
// working directory; runs from different machines are not serialized, so
// two rapid triggers can race on the mutable tag. Every run lands in the
// local history file.
package pipeline
