package version

// Version holds the release string stamped by build.go through -ldflags.
var Version = "dev" // left as-is under `go run`

// BuildDate is the UTC build time in RFC 3339, also stamped at build time.
var BuildDate = "not set"
