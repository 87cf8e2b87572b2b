package reason

import "strings"

// moduleNotFound refines a generic not-found signal into the
// entity-specific empty code for recognized suite modules.
var moduleNotFound = map[string]Code{
	"client":   EmptyClientNotFound,
	"clients":  EmptyClientNotFound,
	"project":  EmptyProjectNotFound,
	"projects": EmptyProjectNotFound,
	"contract": EmptyContractNotFound,
	"invoice":  EmptyInvoiceNotFound,
	"invoices": EmptyInvoiceNotFound,
	"billing":  EmptyInvoiceNotFound,
}

// Infer classifies a raw technical error code or message into the taxonomy.
// Matching is case-insensitive substring search, applied in priority order;
// database keywords are checked before network ones so that "database
// connection refused" classifies as a database failure. Anything
// unrecognized falls through to ERROR_UNKNOWN.
func Infer(raw string, ctx *Context) Code {
	s := strings.ToLower(raw)
	switch {
	case containsAny(s, "permission", "denied", "unauthorized", "forbidden"):
		return BlockedPermissionDenied
	case containsAny(s, "not_found", "not found", "notfound", "no_results", "no results"):
		if ctx != nil {
			if code, ok := moduleNotFound[strings.ToLower(ctx.Module)]; ok {
				return code
			}
		}
		return EmptyDataNotFound
	case containsAny(s, "validation", "invalid"):
		return BlockedValidationFailed
	case strings.Contains(s, "disabled"):
		return BlockedToolDisabled
	case strings.Contains(s, "dangerous"):
		return BlockedDangerousOperator
	case containsAny(s, "timeout", "timed out", "deadline exceeded"):
		return ErrorLLMTimeout
	case containsAny(s, "database", "mongo", "sqlite", "sql"):
		return ErrorDatabaseQuery
	case containsAny(s, "network", "connection", "connect", "unreachable"):
		return ErrorNetwork
	default:
		return ErrorUnknown
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
