// Package mocks provides test doubles for the gateway's Provider interface.
//
// Usage:
//
//	provider := mocks.NewMockProvider().
//	    WithResponse("Hello, World!").
//	    WithTokenUsage(100, 50)
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/agentflow/llmgateway/gateway"
	"github.com/agentflow/llmgateway/types"
)

// MockProvider is a configurable test double for gateway.Provider.
type MockProvider struct {
	mu sync.RWMutex

	name              string
	response          string
	groundedEffective bool
	citations         []gateway.Citation
	err               *types.Error

	promptTokens     int
	completionTokens int

	calls          []MockProviderCall
	completionFunc func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error)

	delay     time.Duration
	failAfter int
	callCount int
}

// MockProviderCall records one Completion invocation.
type MockProviderCall struct {
	Request  *gateway.ChatRequest
	Response *gateway.ChatResponse
	Error    *types.Error
}

// NewMockProvider creates a MockProvider that returns a fixed response.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

func (m *MockProvider) WithError(err *types.Error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

func (m *MockProvider) WithGroundedEffective(grounded bool, citations []gateway.Citation) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groundedEffective = grounded
	m.citations = citations
	return m
}

func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter makes every call after the Nth return err (or a default error).
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

func (m *MockProvider) Name() string { return m.name }

func (m *MockProvider) SupportsGrounding() bool { return true }

func (m *MockProvider) HealthCheck(ctx context.Context) (*gateway.HealthStatus, *gateway.Error) {
	return &gateway.HealthStatus{Healthy: true, Latency: time.Millisecond, CheckedAt: time.Now()}, nil
}

func (m *MockProvider) Completion(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, *gateway.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.callCount++
	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			err := types.NewError(types.ErrCancelled, "mock provider: context cancelled during delay")
			m.calls = append(m.calls, MockProviderCall{Request: req, Error: err})
			return nil, err
		}
	}

	if m.failAfter > 0 && m.callCount > m.failAfter {
		err := m.err
		if err == nil {
			err = types.NewError(types.ErrServiceUnavailable, "mock provider: configured to fail after N calls")
		}
		m.calls = append(m.calls, MockProviderCall{Request: req, Error: err})
		return nil, err
	}

	if m.err != nil {
		m.calls = append(m.calls, MockProviderCall{Request: req, Error: m.err})
		return nil, m.err
	}

	if m.completionFunc != nil {
		resp, err := m.completionFunc(ctx, req)
		m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
		return resp, err
	}

	resp := &gateway.ChatResponse{
		Content:           m.response,
		GroundedEffective: m.groundedEffective,
		Citations:         m.citations,
		Success:           true,
		Usage: gateway.Usage{
			Prompt:     m.promptTokens,
			Completion: m.completionTokens,
			Total:      m.promptTokens + m.completionTokens,
		},
	}
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp})
	return resp, nil
}

// GetCalls returns every recorded Completion call.
func (m *MockProvider) GetCalls() []MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]MockProviderCall{}, m.calls...)
}

func (m *MockProvider) GetCallCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.callCount
}

func (m *MockProvider) GetLastCall() *MockProviderCall {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

func (m *MockProvider) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.callCount = 0
	m.err = nil
}

// NewSuccessProvider creates a provider that always succeeds with response.
func NewSuccessProvider(response string) *MockProvider {
	return NewMockProvider().WithResponse(response)
}

// NewErrorProvider creates a provider that always fails with err.
func NewErrorProvider(err *types.Error) *MockProvider {
	return NewMockProvider().WithError(err)
}

// NewFlakeyProvider creates a provider that fails starting with call N+1.
func NewFlakeyProvider(failAfter int, response string) *MockProvider {
	return NewMockProvider().WithResponse(response).WithFailAfter(failAfter)
}
