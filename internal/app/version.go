package app

// Version is the semantic version of toolgate, set at build time via -ldflags.
var Version = "0.1.0"

// Build is the git commit hash or build identifier, set at build time via -ldflags.
var Build = "dev"
