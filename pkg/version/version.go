// Package version pins the release version shown by the CLI.
package version

// Version is the current release, set at build time for tagged builds.
var Version = "v0.1.0"
