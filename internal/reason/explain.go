package reason

import (
	"fmt"
	"strings"
)

// Explanation is the invariant user-facing record behind one reason code.
type Explanation struct {
	UserMessage string
	Suggestion  string
	CanRetry    bool
	Severity    Severity
}

// Context carries request-scoped details used to sharpen explanations and
// to refine inferred codes. Any field may be empty.
type Context struct {
	EntityName string
	EntityType string
	Operation  string
	Module     string
}

// explanations maps every code in the taxonomy to exactly one record.
// EMPTY_* and BLOCKED_* are never retryable; ERROR_* are retryable except
// the two codec failures, which repeating cannot fix.
var explanations = map[Code]Explanation{
	EmptyDataNotFound: {
		UserMessage: "No matching records were found.",
		Suggestion:  "Try widening the search or checking the filters.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},
	EmptyResults: {
		UserMessage: "The query returned no results.",
		Suggestion:  "Adjust the criteria and search again.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},
	EmptyClientNotFound: {
		UserMessage: "No client matching the request was found.",
		Suggestion:  "Check the client name, or create the client first.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},
	EmptyProjectNotFound: {
		UserMessage: "No project matching the request was found.",
		Suggestion:  "Check the project name, or list projects to see what exists.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},
	EmptyContractNotFound: {
		UserMessage: "No contract matching the request was found.",
		Suggestion:  "Check the contract number or the client it belongs to.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},
	EmptyInvoiceNotFound: {
		UserMessage: "No invoice matching the request was found.",
		Suggestion:  "Check the invoice number or the billing period.",
		CanRetry:    false,
		Severity:    SeverityInfo,
	},

	BlockedPermissionDenied: {
		UserMessage: "You do not have permission to perform this action.",
		Suggestion:  "Ask an administrator to grant you access.",
		CanRetry:    false,
		Severity:    SeverityWarning,
	},
	BlockedValidationFailed: {
		UserMessage: "The request is missing required information or contains invalid values.",
		Suggestion:  "Correct the parameters and resubmit.",
		CanRetry:    false,
		Severity:    SeverityWarning,
	},
	BlockedToolNotFound: {
		UserMessage: "The requested capability is not available.",
		Suggestion:  "Check the capability name against the tool catalog.",
		CanRetry:    false,
		Severity:    SeverityWarning,
	},
	BlockedToolDisabled: {
		UserMessage: "This capability is currently disabled.",
		Suggestion:  "An administrator can re-enable it in the tool catalog.",
		CanRetry:    false,
		Severity:    SeverityWarning,
	},
	BlockedDangerousOperator: {
		UserMessage: "The request was rejected because it contains a potentially dangerous operation.",
		Suggestion:  "Rephrase the request without raw query operators.",
		CanRetry:    false,
		Severity:    SeverityError,
	},
	BlockedConfirmationRequired: {
		UserMessage: "This action needs your confirmation before it runs.",
		Suggestion:  "Confirm the pending action to continue.",
		CanRetry:    false,
		Severity:    SeverityWarning,
	},

	ErrorUnknown: {
		UserMessage: "Something went wrong while processing the request.",
		Suggestion:  "Contact support if the problem persists.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorToolExecution: {
		UserMessage: "The operation failed while executing.",
		Suggestion:  "Wait a moment before retrying.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorDatabaseQuery: {
		UserMessage: "The data store could not complete the query.",
		Suggestion:  "Wait a moment before retrying.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorNetwork: {
		UserMessage: "A network problem interrupted the operation.",
		Suggestion:  "Check connectivity before retrying.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorLLMTimeout: {
		UserMessage: "The assistant took too long to respond.",
		Suggestion:  "A shorter request is more likely to finish in time.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorLLMUnavailable: {
		UserMessage: "The assistant service is temporarily unavailable.",
		Suggestion:  "Wait a few minutes before retrying.",
		CanRetry:    true,
		Severity:    SeverityError,
	},
	ErrorSerialization: {
		UserMessage: "The result could not be encoded.",
		Suggestion:  "Report this to support together with the action you attempted.",
		CanRetry:    false,
		Severity:    SeverityError,
	},
	ErrorDeserialization: {
		UserMessage: "The stored data could not be decoded.",
		Suggestion:  "Report this to support; the underlying record may be corrupted.",
		CanRetry:    false,
		Severity:    SeverityError,
	},
}

// entityLabels maps module identifiers to the label used in entity-aware
// messages.
var entityLabels = map[string]string{
	"client":   "client",
	"clients":  "client",
	"project":  "project",
	"projects": "project",
	"contract": "contract",
	"invoice":  "invoice",
	"invoices": "invoice",
	"billing":  "invoice",
}

// ExplanationOf returns the explanation record for code. It is total:
// unknown codes yield the ERROR_UNKNOWN record instead of failing.
func ExplanationOf(code Code) Explanation {
	if exp, ok := explanations[code]; ok {
		return exp
	}
	return explanations[ErrorUnknown]
}

// ContextMessage rewrites the base user message for code when ctx supplies
// an entity name or an operation. CanRetry and Severity are unaffected;
// callers needing those read the explanation record.
func ContextMessage(code Code, ctx *Context) string {
	base := ExplanationOf(code).UserMessage
	if ctx == nil {
		return base
	}
	switch FamilyOf(code) {
	case FamilyEmpty:
		if ctx.EntityName != "" {
			return fmt.Sprintf("No %s matching %q was found.", entityLabel(ctx), ctx.EntityName)
		}
	case FamilyBlocked:
		if code == BlockedPermissionDenied && ctx.Operation != "" {
			return fmt.Sprintf("You do not have permission to perform %q.", ctx.Operation)
		}
	}
	return base
}

func entityLabel(ctx *Context) string {
	for _, key := range []string{ctx.EntityType, ctx.Module} {
		if label, ok := entityLabels[strings.ToLower(key)]; ok {
			return label
		}
	}
	return "record"
}
