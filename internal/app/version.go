package app

// Build-time variables set via -ldflags. For example:
//
//	go build -ldflags "-X github.com/large-farva/storytime/internal/app.Version=v0.3.0"
//
// Version is also reported to the backend as the page's lib_version.
var (
	Version   = "dev"
	GoVersion = "unknown"
	BuiltAt   = "unknown"
)
