package providers

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const MockClientName = "mock"

// MockClient is an LLMClient for testing. Responses are taken, in order,
// from Handler if set, then from Responses, then ResponseText.
type MockClient struct {
	Latency      time.Duration
	ShouldFail   bool
	FailAfter    int // fail after N requests (0 = never)
	ResponseText string
	Responses    []string
	Handler      func(req *ChatRequest) (string, error)
	CostPerCall  float64

	mu           sync.Mutex
	next         int
	prompts      []string
	requestCount atomic.Int64
}

// NewMockClient creates a new mock client with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		ResponseText: "mock response",
		CostPerCall:  0.001,
	}
}

// Name returns the client identifier.
func (c *MockClient) Name() string {
	return MockClientName
}

// Chat returns the next scripted response.
func (c *MockClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResult, error) {
	start := time.Now()
	count := c.requestCount.Add(1)

	result := &ChatResult{
		RequestID: fmt.Sprintf("mock-%d", count),
		Provider:  MockClientName,
		ModelUsed: req.Model,
		Attempts:  1,
		CostUSD:   c.CostPerCall,
	}

	c.mu.Lock()
	c.prompts = append(c.prompts, req.Prompt())
	c.mu.Unlock()

	if c.ShouldFail || (c.FailAfter > 0 && int(count) > c.FailAfter) {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = "mock client configured to fail"
		result.ExecutionTime = time.Since(start)
		return result, fmt.Errorf("mock client configured to fail")
	}

	if c.Latency > 0 {
		select {
		case <-time.After(c.Latency):
		case <-ctx.Done():
			result.ErrorType = "context_cancelled"
			result.ErrorMessage = ctx.Err().Error()
			result.ExecutionTime = time.Since(start)
			return result, ctx.Err()
		}
	}

	content, err := c.respond(req)
	result.ExecutionTime = time.Since(start)
	if err != nil {
		result.ErrorType = "mock_failure"
		result.ErrorMessage = err.Error()
		return result, err
	}

	result.Success = true
	result.Content = content
	result.PromptTokens = len(req.Prompt()) / 4
	result.CompletionTokens = len(content) / 4
	result.TotalTokens = result.PromptTokens + result.CompletionTokens
	return result, nil
}

func (c *MockClient) respond(req *ChatRequest) (string, error) {
	if c.Handler != nil {
		return c.Handler(req)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next < len(c.Responses) {
		r := c.Responses[c.next]
		c.next++
		return r, nil
	}
	return c.ResponseText, nil
}

// RequestCount returns the number of requests made.
func (c *MockClient) RequestCount() int64 {
	return c.requestCount.Load()
}

// Prompts returns the prompts received so far.
func (c *MockClient) Prompts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.prompts...)
}

var _ LLMClient = (*MockClient)(nil)

// MockTTS is a TTSProvider for testing that returns fixed bytes.
type MockTTS struct {
	ProviderName string
	Audio        []byte
	ShouldFail   bool

	requestCount atomic.Int64
}

// NewMockTTS creates a mock TTS provider.
func NewMockTTS() *MockTTS {
	return &MockTTS{ProviderName: "mock-tts", Audio: []byte("ID3mock")}
}

// Name returns the provider identifier.
func (p *MockTTS) Name() string {
	return p.ProviderName
}

// Generate returns the configured audio.
func (p *MockTTS) Generate(_ context.Context, req *TTSRequest) (*TTSResult, error) {
	p.requestCount.Add(1)
	if p.ShouldFail {
		return &TTSResult{ErrorMessage: "mock tts configured to fail"}, fmt.Errorf("mock tts configured to fail")
	}
	return &TTSResult{
		Success:   true,
		Audio:     append([]byte(nil), p.Audio...),
		Format:    "mp3",
		CharCount: len(req.Text),
	}, nil
}

// RequestCount returns the number of requests made.
func (p *MockTTS) RequestCount() int64 {
	return p.requestCount.Load()
}

var _ TTSProvider = (*MockTTS)(nil)
