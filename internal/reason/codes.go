// Package reason defines the closed taxonomy of reason codes that classify
// why an operation did not succeed, and the explanation records that turn
// each code into user-facing text.
package reason

import "strings"

// Code is a canonical classification of a non-success outcome. Codes are
// partitioned into three families by prefix: EMPTY_* (a query legitimately
// returned nothing), BLOCKED_* (policy, permission, validation, or safety
// prevented execution), ERROR_* (infrastructure or execution failure).
type Code string

// EMPTY_* codes.
const (
	EmptyDataNotFound     Code = "EMPTY_DATA_NOT_FOUND"
	EmptyResults          Code = "EMPTY_RESULTS"
	EmptyClientNotFound   Code = "EMPTY_CLIENT_NOT_FOUND"
	EmptyProjectNotFound  Code = "EMPTY_PROJECT_NOT_FOUND"
	EmptyContractNotFound Code = "EMPTY_CONTRACT_NOT_FOUND"
	EmptyInvoiceNotFound  Code = "EMPTY_INVOICE_NOT_FOUND"
)

// BLOCKED_* codes.
const (
	BlockedPermissionDenied     Code = "BLOCKED_PERMISSION_DENIED"
	BlockedValidationFailed     Code = "BLOCKED_VALIDATION_FAILED"
	BlockedToolNotFound         Code = "BLOCKED_TOOL_NOT_FOUND"
	BlockedToolDisabled         Code = "BLOCKED_TOOL_DISABLED"
	BlockedDangerousOperator    Code = "BLOCKED_DANGEROUS_OPERATOR"
	BlockedConfirmationRequired Code = "BLOCKED_CONFIRMATION_REQUIRED"
)

// ERROR_* codes.
const (
	ErrorUnknown         Code = "ERROR_UNKNOWN"
	ErrorToolExecution   Code = "ERROR_TOOL_EXECUTION"
	ErrorDatabaseQuery   Code = "ERROR_DATABASE_QUERY"
	ErrorNetwork         Code = "ERROR_NETWORK"
	ErrorLLMTimeout      Code = "ERROR_LLM_TIMEOUT"
	ErrorLLMUnavailable  Code = "ERROR_LLM_UNAVAILABLE"
	ErrorSerialization   Code = "ERROR_SERIALIZATION"
	ErrorDeserialization Code = "ERROR_DESERIALIZATION"
)

// Family groups codes by outcome class.
type Family string

const (
	FamilyEmpty   Family = "empty"
	FamilyBlocked Family = "blocked"
	FamilyError   Family = "error"
)

// Severity is presentation metadata. It never changes control flow.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// FamilyOf derives the family from the code's prefix alone. Codes outside
// the known prefixes classify as FamilyError.
func FamilyOf(code Code) Family {
	switch {
	case strings.HasPrefix(string(code), "EMPTY_"):
		return FamilyEmpty
	case strings.HasPrefix(string(code), "BLOCKED_"):
		return FamilyBlocked
	default:
		return FamilyError
	}
}

// IsRetryable reports whether retrying the same operation unchanged could
// plausibly succeed.
func IsRetryable(code Code) bool {
	return ExplanationOf(code).CanRetry
}

// All returns every code in the taxonomy.
func All() []Code {
	codes := make([]Code, 0, len(explanations))
	for code := range explanations {
		codes = append(codes, code)
	}
	return codes
}
