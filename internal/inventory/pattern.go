package inventory

import (
	"slices"
	"strings"

	"github.com/eniac111/plumbapi/internal/types"
)

// Select returns the hosts matched by pattern, in inventory order.
//
// A pattern is a list of terms separated by "," or ":". A term is "all", "*",
// a host name or a group name; a term prefixed with "!" removes its hosts.
// "localhost" always matches: when no inventory host carries that name an
// implicit host using the local connection is returned.
func Select(inv *types.Inventory, pattern string) []types.Host {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		pattern = "all"
	}

	include := map[string]bool{}
	exclude := map[string]bool{}
	implicitLocal := false

	terms := strings.FieldsFunc(pattern, func(r rune) bool { return r == ',' || r == ':' })
	for _, term := range terms {
		term = strings.TrimSpace(term)
		negate := false
		if rest, ok := strings.CutPrefix(term, "!"); ok {
			term, negate = rest, true
		}
		names := resolveTerm(inv, term)
		if term == "localhost" && len(names) == 0 {
			implicitLocal = !negate
			continue
		}
		for _, n := range names {
			if negate {
				exclude[n] = true
			} else {
				include[n] = true
			}
		}
	}

	var out []types.Host
	for _, h := range inv.Hosts {
		if include[h.Name] && !exclude[h.Name] {
			out = append(out, h)
		}
	}
	if implicitLocal {
		out = append(out, types.Host{Name: "localhost", Connection: "local"})
	}
	return out
}

func resolveTerm(inv *types.Inventory, term string) []string {
	if term == "all" || term == "*" {
		names := make([]string, 0, len(inv.Hosts))
		for _, h := range inv.Hosts {
			names = append(names, h.Name)
		}
		return names
	}
	if members, ok := inv.Groups[term]; ok {
		return members
	}
	if hasHost(inv, term) {
		return []string{term}
	}
	return nil
}

func hasHost(inv *types.Inventory, name string) bool {
	return slices.ContainsFunc(inv.Hosts, func(h types.Host) bool { return h.Name == name })
}
