// Package config defines the pagehaul project settings and provides helpers
// to load, validate and save them in YAML format.
//
// The Config type describes the asset tree, the image to build, the remote
// host to update and the optional static publishing target. Secrets (SSH key
// material, publish tokens) are supplied through PAGEHAUL_* environment
// variables and are never written back to the YAML file.
package config
