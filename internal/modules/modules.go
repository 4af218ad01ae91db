// Package modules maps module names used in playbooks to implementations.
package modules

import (
	"context"
	"sort"

	"github.com/eniac111/plumbapi/internal/connection"
	"github.com/eniac111/plumbapi/internal/modules/command"
	"github.com/eniac111/plumbapi/internal/modules/copy"
	"github.com/eniac111/plumbapi/internal/modules/debug"
	"github.com/eniac111/plumbapi/internal/modules/file"
	"github.com/eniac111/plumbapi/internal/modules/ping"
	"github.com/eniac111/plumbapi/internal/modules/shell"
	"github.com/eniac111/plumbapi/internal/types"
)

// Module runs one task against one host. Params are already rendered.
type Module interface {
	Run(ctx context.Context, conn connection.Connection, task types.TaskDefinition, opts types.ModuleOptions) types.ModuleResult
}

var registry = map[string]Module{
	"command": command.CommandModule{},
	"copy":    copy.CopyModule{},
	"debug":   debug.DebugModule{},
	"file":    file.FileModule{},
	"ping":    ping.PingModule{},
	"shell":   shell.ShellModule{},
}

// Lookup returns the module registered under name.
func Lookup(name string) (Module, bool) {
	m, ok := registry[name]
	return m, ok
}

// Names lists the registered modules, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
