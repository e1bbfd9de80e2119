// Package deployer updates the remote host over SSH.
//
// It renders the deployment descriptor, uploads it to the target directory
// and runs the fetch-and-restart command. Every step must succeed before
// the next one runs; any failure is fatal to the run and nothing is rolled
// back on the host.
package deployer
