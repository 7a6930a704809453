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
	// Configuration Errors (E100-E119)
	// ============================================

	"E100": {
		Category: CategoryConfig,
		Message:  "Configuration file not found",
		Detail:   "The configuration file passed with --config does not exist.",
	},
	"E101": {
		Category: CategoryConfig,
		Message:  "Configuration file is not valid TOML",
		Detail:   "The configuration file could not be parsed.",
	},
	"E102": {
		Category: CategoryConfig,
		Message:  "Invalid configuration value",
		Detail:   "A configuration value is out of range or inconsistent with another value.",
	},
	"E103": {
		Category: CategoryConfig,
		Message:  "Unknown configuration key",
		Detail:   "The configuration file contains a key that is not recognised. Check for typos.",
	},

	// ============================================
	// CLI Errors (E120-E139)
	// ============================================

	"E120": {
		Category: CategoryCLI,
		Message:  "Invalid argument",
		Detail:   "A command argument could not be parsed.",
	},
	"E121": {
		Category: CategoryCLI,
		Message:  "Invalid JSON argument",
		Detail:   "Request arguments and TSON input are given as JSON values.",
	},
	"E122": {
		Category: CategoryCLI,
		Message:  "Invalid hex input",
		Detail:   "TSON input must be hexadecimal, optionally separated by whitespace.",
	},

	// ============================================
	// Transport Errors (E140-E159)
	// ============================================

	"E140": {
		Category: CategoryTransport,
		Message:  "Connection failed",
		Detail:   "The WebSocket endpoint could not be reached.",
	},
	"E141": {
		Category: CategoryTransport,
		Message:  "Server failed",
		Detail:   "The HTTP server stopped with an error.",
	},
	"E142": {
		Category: CategoryTransport,
		Message:  "Disconnected",
		Detail:   "The connection ended before the request completed.",
	},

	// ============================================
	// Protocol and Service Errors (E160-E179)
	// ============================================

	"E160": {
		Category: CategoryProtocol,
		Message:  "TSON encoding failed",
		Detail:   "The value cannot be represented in TSON.",
	},
	"E161": {
		Category: CategoryProtocol,
		Message:  "TSON decoding failed",
		Detail:   "The input is not a valid TSON value.",
	},
	"E170": {
		Category: CategoryService,
		Message:  "Request failed",
		Detail:   "The remote service replied with an error.",
	},
	"E171": {
		Category: CategoryService,
		Message:  "Object storage unavailable",
		Detail:   "The S3 client for the objects service could not be configured.",
	},
}

// GetAllCodes returns all registered error codes.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}

// Register adds a new error template to the registry.
func Register(code string, template ErrorTemplate) {
	registry[code] = template
}
