package llm

import (
	"fmt"
	"sort"
)

// ClientPool holds one ProviderClient per configured physical model. It is
// populated once at startup; there is no hot reload.
type ClientPool struct {
	clients map[string]ProviderClient
}

// NewClientPool builds a pool from the given clients, keyed by Name().
func NewClientPool(clients ...ProviderClient) *ClientPool {
	m := make(map[string]ProviderClient, len(clients))
	for _, c := range clients {
		m[c.Name()] = c
	}
	return &ClientPool{clients: m}
}

// Get returns the client for a physical model name.
func (p *ClientPool) Get(physical string) (ProviderClient, error) {
	c, ok := p.clients[physical]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, physical)
	}
	return c, nil
}

// Models returns the sorted physical model names held by the pool.
func (p *ClientPool) Models() []string {
	names := make([]string, 0, len(p.clients))
	for name := range p.clients {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
