// Package output provides JSON/YAML/styled output formatting and error handling.
package output

// Process exit codes.
const (
	ExitOK             = 0  // Success
	ExitUsage          = 1  // Invalid arguments or flags
	ExitNotFound       = 2  // Resource not found
	ExitAuth           = 3  // Not authenticated
	ExitForbidden      = 4  // Access denied
	ExitNetwork        = 6  // Connection/DNS/timeout error
	ExitAPI            = 7  // Server returned error
	ExitConfiguration  = 9  // Required configuration missing
	ExitListenerStart  = 10 // Callback port unavailable
	ExitCSRFMismatch   = 11 // Callback state did not match
	ExitDenied         = 12 // Provider denied the authorization
	ExitTimeout        = 13 // No callback before the deadline
	ExitExchange       = 14 // Code or refresh exchange failed
	ExitValidation     = 15 // Rejected input record
	ExitInfrastructure = 16 // Secret store unavailable
	ExitBusy           = 17 // Another login attempt is running
)

// Error codes for the JSON envelope.
const (
	CodeUsage          = "usage"
	CodeNotFound       = "not_found"
	CodeAuth           = "auth_required"
	CodeForbidden      = "forbidden"
	CodeNetwork        = "network"
	CodeAPI            = "api_error"
	CodeConfiguration  = "configuration"
	CodeListenerStart  = "listener_start"
	CodeCSRFMismatch   = "state_mismatch"
	CodeDenied         = "denied"
	CodeTimeout        = "timed_out"
	CodeExchange       = "exchange_failed"
	CodeValidation     = "validation"
	CodeInfrastructure = "infrastructure"
	CodeBusy           = "login_in_progress"
)

// ExitCodeFor returns the exit code for a given error code.
func ExitCodeFor(code string) int {
	switch code {
	case CodeUsage:
		return ExitUsage
	case CodeNotFound:
		return ExitNotFound
	case CodeAuth:
		return ExitAuth
	case CodeForbidden:
		return ExitForbidden
	case CodeNetwork:
		return ExitNetwork
	case CodeAPI:
		return ExitAPI
	case CodeConfiguration:
		return ExitConfiguration
	case CodeListenerStart:
		return ExitListenerStart
	case CodeCSRFMismatch:
		return ExitCSRFMismatch
	case CodeDenied:
		return ExitDenied
	case CodeTimeout:
		return ExitTimeout
	case CodeExchange:
		return ExitExchange
	case CodeValidation:
		return ExitValidation
	case CodeInfrastructure:
		return ExitInfrastructure
	case CodeBusy:
		return ExitBusy
	default:
		return ExitAPI
	}
}
