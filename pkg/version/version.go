package version

// Current defines the application version.
// It defaults to "dev" and is overwritten at build time with -ldflags "-X".
var Current = "dev"

// AppName is used in the user agent and the OpenTelemetry service name.
const AppName = "cloudtail"
