package agent

import (
	"context"
	"sync"

	"github.com/hearthd/hearth/ha"
)

// mockGenerator is a test double for the language-model collaborator. The
// script function receives the 1-based call number and the prompt.
type mockGenerator struct {
	mu     sync.Mutex
	calls  int
	script func(call int, prompt string) (string, error)
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, _ float32) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.mu.Unlock()
	if m.script != nil {
		return m.script(call, prompt)
	}
	return "", context.DeadlineExceeded
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

type serviceCallRecord struct {
	Domain   string
	Service  string
	EntityID string
}

// mockBackend is an in-memory home-automation backend recording every call.
type mockBackend struct {
	mu           sync.Mutex
	entities     map[string][]ha.Entity // keyed by domain; "" covers the all-domains case
	details      map[string]ha.Detail
	listCalls    []string
	detailCalls  [][]string
	serviceCalls []serviceCallRecord
	serviceErr   error
}

func (m *mockBackend) ListEntities(_ context.Context, domain string) ([]ha.Entity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listCalls = append(m.listCalls, domain)
	return m.entities[domain], nil
}

func (m *mockBackend) GetDetails(_ context.Context, entityIDs []string) ([]ha.Detail, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detailCalls = append(m.detailCalls, append([]string(nil), entityIDs...))
	var out []ha.Detail
	for _, id := range entityIDs {
		if d, ok := m.details[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *mockBackend) CallService(_ context.Context, domain, service, entityID string, _ map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.serviceErr != nil {
		return m.serviceErr
	}
	m.serviceCalls = append(m.serviceCalls, serviceCallRecord{Domain: domain, Service: service, EntityID: entityID})
	return nil
}

func (m *mockBackend) serviceCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.serviceCalls)
}

func (m *mockBackend) detailCallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.detailCalls)
}
