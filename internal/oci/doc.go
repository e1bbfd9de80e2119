// Package oci assembles the site image and talks to the container registry.
//
// An image is the configured base plus one layer holding the asset tree.
// Publishing writes the image under the mutable tag, then adds the
// immutable tag against the already-uploaded manifest, so both tags always
// resolve to the same digest. Registry credentials come from the
// environment, from the user-scoped credentials file written by `pagehaul
// login`, or fall back to anonymous access.
package oci
