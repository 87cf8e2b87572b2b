package reason

import "testing"

func TestInfer(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ctx  *Context
		want Code
	}{
		{"permission", "PERMISSION_DENIED", nil, BlockedPermissionDenied},
		{"unauthorized", "401 unauthorized", nil, BlockedPermissionDenied},
		{"not found with module", "NOT_FOUND", &Context{Module: "project"}, EmptyProjectNotFound},
		{"not found client module", "NOT_FOUND", &Context{Module: "clients"}, EmptyClientNotFound},
		{"not found unknown module", "NOT_FOUND", &Context{Module: "warehouse"}, EmptyDataNotFound},
		{"not found without module", "NOT_FOUND", nil, EmptyDataNotFound},
		{"validation", "validation error: missing field", nil, BlockedValidationFailed},
		{"invalid", "INVALID_PARAMS", nil, BlockedValidationFailed},
		{"disabled", "tool disabled by admin", nil, BlockedToolDisabled},
		{"dangerous", "dangerous operator in filter", nil, BlockedDangerousOperator},
		{"timeout", "request timed out", nil, ErrorLLMTimeout},
		{"deadline", "context deadline exceeded", nil, ErrorLLMTimeout},
		{"mongo", "mongo_error", nil, ErrorDatabaseQuery},
		{"database before network", "database connection refused", nil, ErrorDatabaseQuery},
		{"network", "network unreachable", nil, ErrorNetwork},
		{"connection", "connection reset by peer", nil, ErrorNetwork},
		{"unknown", "totally_unknown", nil, ErrorUnknown},
		{"empty input", "", nil, ErrorUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Infer(tt.raw, tt.ctx); got != tt.want {
				t.Errorf("Infer(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}
