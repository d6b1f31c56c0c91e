package version

// Set via -ldflags "-X github.com/bhbghghbgb/pate-trigger-sv-mgr/internal/version.Version=...".
var (
	Version = "0.1.0-dev"
	Commit  = "none"
	Date    = "unknown"
)
