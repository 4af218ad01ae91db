// Package inventory resolves an inventory source into the hosts of a run.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/eniac111/plumbapi/internal/logger"
	"github.com/eniac111/plumbapi/internal/types"
	"gopkg.in/yaml.v3"
)

// Load resolves source, which is one of:
//
//   - an ec2:// URL (see ParseEC2Source)
//   - a comma separated host list such as "web1,web2," or "localhost,"
//   - a path to a YAML inventory file
//
// A YAML path that does not exist is not an error: the warning is logged and
// the inventory is empty, so plays report that no host matched.
func Load(ctx context.Context, source string, log *logger.Logger) (*types.Inventory, error) {
	switch {
	case strings.HasPrefix(source, ec2Scheme):
		src, err := ParseEC2Source(source)
		if err != nil {
			return nil, err
		}
		return src.Load(ctx)
	case strings.Contains(source, ","):
		return parseHostList(source), nil
	}

	data, err := os.ReadFile(source)
	if errors.Is(err, fs.ErrNotExist) {
		log.Warnf("unable to parse %s as an inventory source, using an empty inventory", source)
		return &types.Inventory{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML inventory document.
func Parse(data []byte) (*types.Inventory, error) {
	var inv types.Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("failed to parse inventory: %w", err)
	}

	seen := map[string]bool{}
	for i, h := range inv.Hosts {
		if h.Name == "" {
			return nil, fmt.Errorf("inventory host #%d has no name", i+1)
		}
		if seen[h.Name] {
			return nil, fmt.Errorf("inventory host %q listed twice", h.Name)
		}
		seen[h.Name] = true
	}
	for group, members := range inv.Groups {
		if seen[group] {
			return nil, fmt.Errorf("group %q has the same name as a host", group)
		}
		for _, m := range members {
			if !seen[m] {
				return nil, fmt.Errorf("group %q references unknown host %q", group, m)
			}
		}
	}
	return &inv, nil
}

func parseHostList(source string) *types.Inventory {
	inv := &types.Inventory{}
	seen := map[string]bool{}
	for _, name := range strings.Split(source, ",") {
		name = strings.TrimSpace(name)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		inv.Hosts = append(inv.Hosts, types.Host{Name: name})
	}
	return inv
}
