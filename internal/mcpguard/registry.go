package mcpguard

import "sync"

// maxRegistryTools caps the number of tracked tool names so a malicious
// server flooding unique names cannot grow the registry without bound.
const maxRegistryTools = 10000

// toolRegistry maps folded tool names to the trusted server that first
// declared them. Safe for concurrent use.
type toolRegistry struct {
	mu     sync.Mutex
	owners map[string]string // folded tool name → folded server name
}

func newToolRegistry() *toolRegistry {
	return &toolRegistry{owners: make(map[string]string)}
}

// owner returns the server that declared a tool name, if any.
func (r *toolRegistry) owner(tool string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[tool]
	return owner, ok
}

// claim records a tool name for a server. The first claimant keeps the name;
// new names are silently dropped at capacity.
func (r *toolRegistry) claim(tool, server string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.owners[tool]; exists {
		return
	}
	if len(r.owners) >= maxRegistryTools {
		return
	}
	r.owners[tool] = server
}
