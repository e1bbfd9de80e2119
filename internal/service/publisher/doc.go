// Package publisher mirrors the raw asset tree to a static hosting
// surface, replacing its prior content wholesale.
//
// Two backends exist: "pages" replaces the content of a git branch and
// "bucket" synchronizes the tree to an S3 bucket. The publisher has no
// dependency on the build or deploy steps; in the combined pipeline its
// failure is recorded but never changes the run outcome.
package publisher
