package registry

import (
	"context"
	"sync"
)

// Source supplies discovery candidates. Filtering and truncation are applied
// by the registry, so a source may return a superset.
type Source interface {
	Query(ctx context.Context, f Filter) ([]Agent, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, f Filter) ([]Agent, error)

func (fn SourceFunc) Query(ctx context.Context, f Filter) ([]Agent, error) { return fn(ctx, f) }

// StaticSource serves a fixed in-memory catalog.
type StaticSource struct {
	mu     sync.RWMutex
	agents []Agent
}

// NewStaticSource returns a source over the given agents.
func NewStaticSource(agents ...Agent) *StaticSource {
	s := &StaticSource{}
	for i := range agents {
		s.agents = append(s.agents, agents[i].clone())
	}
	return s
}

// Add appends an agent to the catalog.
func (s *StaticSource) Add(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents = append(s.agents, a.clone())
}

func (s *StaticSource) Query(ctx context.Context, _ Filter) ([]Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agent, len(s.agents))
	for i := range s.agents {
		out[i] = s.agents[i].clone()
	}
	return out, nil
}

// DefaultCatalog is the built-in agent network.
func DefaultCatalog() []Agent {
	return []Agent{
		catalogAgent("EmailBot", "1.0.0", "AI-powered email writing and editing assistant",
			"https://emailbot.a2a.example.com", "email_management", "writing_assistance"),
		catalogAgent("GrammarBot", "1.2.0", "Grammar and style checking for professional communication",
			"https://grammarbot.a2a.example.com", "grammar_check", "style_analysis"),
		catalogAgent("CRMConnector", "1.1.0", "CRM integration and contact enrichment",
			"https://crm.a2a.example.com", "contact_management", "crm_integration"),
		catalogAgent("NetworkAnalyzer", "1.0.0", "Professional network analysis and opportunity identification",
			"https://network.a2a.example.com", "network_analysis", "opportunity_matching"),
	}
}

func catalogAgent(name, version, desc, endpoint string, caps ...string) Agent {
	return Agent{
		Name:           name,
		Version:        version,
		Description:    desc,
		Endpoint:       endpoint,
		ConnectionType: ConnHTTP,
		Capabilities:   caps,
		Protocols:      []string{"A2A"},
		Status:         StatusOnline,
	}
}
