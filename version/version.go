package version

// Version is set at build time.
var Version = "0.0.0"
