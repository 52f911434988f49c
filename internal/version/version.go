package version

import "fmt"

var (
	AppName   = "aivestor"
	Version   = "0.1.0"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}
