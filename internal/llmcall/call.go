// Package llmcall records LLM API calls for cost reporting and traceability.
// Every call made by an annotation phase is recorded with its prompt,
// response, cost and retry count, including calls that failed.
package llmcall

import (
	"time"

	"github.com/google/uuid"

	"github.com/jackzampolin/clara/internal/providers"
)

// Call is the record of one LLM invocation.
type Call struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Duration  float64   `json:"duration"` // seconds

	// Context references
	ProjectID string `json:"project_id,omitempty"`
	Phase     string `json:"phase,omitempty"`
	Operation string `json:"operation,omitempty"`

	Provider string `json:"provider"`
	Model    string `json:"model"`

	Prompt   string `json:"prompt"`
	Response string `json:"response"`

	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	Retries      int     `json:"retries"`

	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// RecordOptions provides context for recording an LLM call.
type RecordOptions struct {
	ProjectID string
	Phase     string
	Operation string
}

// FromChatResult creates a Call from a request and its result. Returns nil
// if result is nil.
func FromChatResult(req *providers.ChatRequest, result *providers.ChatResult, opts RecordOptions) *Call {
	if result == nil {
		return nil
	}

	call := &Call{
		ID:           uuid.New().String(),
		Timestamp:    time.Now(),
		Duration:     result.ExecutionTime.Seconds(),
		ProjectID:    opts.ProjectID,
		Phase:        opts.Phase,
		Operation:    opts.Operation,
		Provider:     result.Provider,
		Model:        result.ModelUsed,
		Response:     result.Content,
		InputTokens:  result.PromptTokens,
		OutputTokens: result.CompletionTokens,
		Cost:         result.CostUSD,
		Success:      result.Success,
	}
	if req != nil {
		call.Prompt = req.Prompt()
	}
	if result.Attempts > 1 {
		call.Retries = result.Attempts - 1
	}
	if !result.Success {
		call.Error = result.ErrorMessage
	}
	return call
}

// TotalCost sums the cost of calls.
func TotalCost(calls []*Call) float64 {
	total := 0.0
	for _, c := range calls {
		total += c.Cost
	}
	return total
}

// CostByPhase sums the cost of calls per phase.
func CostByPhase(calls []*Call) map[string]float64 {
	out := make(map[string]float64)
	for _, c := range calls {
		out[c.Phase] += c.Cost
	}
	return out
}
