// Package version carries the release version stamped into binaries.
package version

// Current is the release version, semver without a leading "v".
const Current = "0.1.0"
