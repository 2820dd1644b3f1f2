// Package version carries the build version stamped in via ldflags.
package version

// Version is the release identifier. Builds without ldflags report "dev".
var Version = "dev"

// UserAgent identifies littleci on outbound HTTP requests.
func UserAgent() string {
	return "littleci/" + Version
}
