// Package vars merges variable scopes and renders them into task parameters.
package vars

import (
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/eniac111/plumbapi/internal/types"
)

// Manager resolves the variables visible to a host. It is built once per run.
type Manager struct {
	inv   *types.Inventory
	extra map[string]any

	mu         sync.Mutex
	registered map[string]map[string]any // host -> register name -> payload
}

// NewManager creates a Manager over inv. extra takes precedence over every
// other source.
func NewManager(inv *types.Inventory, extra map[string]any) *Manager {
	if inv == nil {
		inv = &types.Inventory{}
	}
	return &Manager{
		inv:        inv,
		extra:      extra,
		registered: map[string]map[string]any{},
	}
}

// HostVars merges, lowest to highest: inventory vars, group vars (groups in
// name order), host vars, play vars, registered results, extra vars.
func (m *Manager) HostVars(host types.Host, play map[string]any) map[string]any {
	out := map[string]any{}
	maps.Copy(out, m.inv.Vars)
	for _, group := range groupsOf(m.inv, host.Name) {
		maps.Copy(out, m.inv.GroupVars[group])
	}
	maps.Copy(out, host.Vars)
	maps.Copy(out, play)

	m.mu.Lock()
	maps.Copy(out, m.registered[host.Name])
	m.mu.Unlock()

	maps.Copy(out, m.extra)
	out["inventory_hostname"] = host.Name
	return out
}

// Register stores a task payload under name for later tasks on host.
func (m *Manager) Register(host, name string, payload types.Payload) {
	if name == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.registered[host] == nil {
		m.registered[host] = map[string]any{}
	}
	m.registered[host][name] = map[string]any(payload)
}

func groupsOf(inv *types.Inventory, host string) []string {
	var groups []string
	for name, members := range inv.Groups {
		if slices.Contains(members, host) {
			groups = append(groups, name)
		}
	}
	sort.Strings(groups)
	return groups
}
