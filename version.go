package taorunner

// Version is the library version, overridable at build time with
// -ldflags "-X github.com/oat-sa/tao-offline-runner.Version=...".
var Version = "0.1.0"
