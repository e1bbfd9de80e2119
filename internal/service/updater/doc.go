// Package updater self-updates the pagehaul binary.
//
// It fetches a YAML release manifest, compares semantic versions against
// the running binary, downloads the platform asset, verifies its SHA-512
// checksum and applies the replacement in place. A marker file with a
// process check prevents concurrent updates.
package updater
