// Package memory provides in-process reference implementations of the
// domain stores. They carry the same compare-and-swap transition semantics
// as the Postgres stores and back the test suites and dev mode.
package memory

import (
	"context"
	"sync"

	"github.com/VictorVVedtion/ai-perp-dex-sub001/internal/domain"
)

// AgentStore implements domain.AgentStore in memory.
type AgentStore struct {
	mu       sync.RWMutex
	byID     map[string]domain.Agent
	byWallet map[string]string // wallet -> agent ID
}

// NewAgentStore creates an empty AgentStore.
func NewAgentStore() *AgentStore {
	return &AgentStore{
		byID:     make(map[string]domain.Agent),
		byWallet: make(map[string]string),
	}
}

// Create inserts a new agent. Wallet uniqueness is enforced.
func (s *AgentStore) Create(_ context.Context, agent domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[agent.ID]; ok {
		return domain.ErrAlreadyExists
	}
	if _, ok := s.byWallet[agent.Wallet]; ok {
		return domain.ErrAlreadyExists
	}
	s.byID[agent.ID] = agent
	s.byWallet[agent.Wallet] = agent.ID
	return nil
}

// GetByID returns an agent by ID.
func (s *AgentStore) GetByID(_ context.Context, id string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agent, ok := s.byID[id]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return agent, nil
}

// GetByWallet returns an agent by wallet address.
func (s *AgentStore) GetByWallet(_ context.Context, wallet string) (domain.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byWallet[wallet]
	if !ok {
		return domain.Agent{}, domain.ErrNotFound
	}
	return s.byID[id], nil
}

// Update overwrites an existing agent.
func (s *AgentStore) Update(_ context.Context, agent domain.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[agent.ID]; !ok {
		return domain.ErrNotFound
	}
	s.byID[agent.ID] = agent
	return nil
}

var _ domain.AgentStore = (*AgentStore)(nil)
