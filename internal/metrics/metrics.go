// Package metrics holds the service's Prometheus collectors. Everything is
// registered through promauto at init, so importing packages just update
// the exported vars and the HTTP layer exposes /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ChatRequests counts chat requests by outcome: "ok", "llm_error",
	// "rejected".
	ChatRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "chat_requests_total",
			Help:      "Chat requests handled, by outcome.",
		},
		[]string{"outcome"},
	)

	// ToolExecutions counts gatekeeper dispatches by tool and outcome
	// ("ok", "blocked", "error").
	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "copilot",
			Name:      "tool_executions_total",
			Help:      "Tool executions dispatched, by tool and outcome.",
		},
		[]string{"tool", "outcome"},
	)

	// LLMRequestSeconds measures completion-call latency per provider.
	LLMRequestSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "llm_request_seconds",
			Help:      "Latency of language-model completion calls.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	// ChatRounds records how many model rounds each chat request used.
	ChatRounds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "copilot",
			Name:      "chat_rounds",
			Help:      "Model rounds consumed per chat request.",
			Buckets:   []float64{1, 2, 3, 4, 5, 6},
		},
	)
)
