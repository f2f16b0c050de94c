// Package version holds build version metadata.
package version

// Version is the semantic version, overridable at build time with
// -ldflags "-X github.com/hearthd/hearth/internal/version.Version=...".
var Version = "0.3.0"
