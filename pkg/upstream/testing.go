package upstream

import mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

// InjectSession wires a pre-connected session into the pool, bypassing
// AddUpstream's real transport-creation path. Intended for test
// infrastructure that wires in-memory MCP servers.
func (p *Pool) InjectSession(name string, client *mcpsdk.Client, session *mcpsdk.ClientSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.configs[name]; !ok {
		p.configs[name] = Config{Name: name}
	}
	p.sessions[name] = session
	p.clients[name] = client
	p.states[name] = StateConnected
	delete(p.errors, name)
}
