// Package version carries build identification stamped in via ldflags.
package version

// Set during the build process using ldflags, e.g.
//
//	go build -ldflags "-X fotad.sh/internal/version.Version=v1.2.0 \
//	  -X fotad.sh/internal/version.CommitSHA=$(git rev-parse --short HEAD)"
var (
	Version   = "development"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// String returns the full human-readable version string.
func String() string {
	return Version + " (" + CommitSHA + ") built at " + BuildTime
}

// UserAgent returns the value fotactl sends in the User-Agent header.
func UserAgent() string {
	return "fotactl/" + Version
}
