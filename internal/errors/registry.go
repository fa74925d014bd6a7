package errors

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// ============================================
	// Configuration Errors (E100-E109)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Invalid configuration file",
		Detail:   "The configuration file could not be read or parsed.",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Source root not found",
		Detail:   "The configured source directory does not exist or is not a directory.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Refusing to clean destination",
		Detail:   "The destination directory overlaps the project or source directory.",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
	},

	// ============================================
	// Build Errors (E110-E119)
	// ============================================

	"E110": {
		Category: CategoryBuild,
		Message:  "Stylesheet compilation failed",
	},
	"E111": {
		Category: CategoryBuild,
		Message:  "Script bundling failed",
	},
	"E112": {
		Category: CategoryBuild,
		Message:  "Image compression failed",
	},
	"E113": {
		Category: CategoryBuild,
		Message:  "File copy failed",
	},

	// ============================================
	// Toolchain Errors (E120-E129)
	// ============================================

	"E120": {
		Category: CategoryBuild,
		Message:  "Dart Sass binary unavailable",
		Detail:   "The Dart Sass standalone binary could not be found or installed.",
	},

	// ============================================
	// Dev Server Errors (E130-E139)
	// ============================================

	"E130": {
		Category: CategoryServer,
		Message:  "Dev server failed",
	},
	"E131": {
		Category: CategoryWatch,
		Message:  "File watcher failed",
	},

	// ============================================
	// Publish Errors (E140-E149)
	// ============================================

	"E140": {
		Category: CategoryPublish,
		Message:  "Publish failed",
	},

	// ============================================
	// Task Graph Errors (E150-E159)
	// ============================================

	"E150": {
		Category: CategoryGraph,
		Message:  "Invalid task graph",
	},
}
