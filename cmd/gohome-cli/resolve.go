package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/joshp123/gohome-melcloud/plugins/melcloud"
)

func normalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.NewReplacer(" ", "_", "-", "_").Replace(name)
	for strings.Contains(name, "__") {
		name = strings.ReplaceAll(name, "__", "_")
	}
	return name
}

// resolveUnit matches input against unit ids first, then display names.
func resolveUnit(input string, units []melcloud.UnitInfo) (string, error) {
	for _, u := range units {
		if u.ID == input {
			return u.ID, nil
		}
	}
	needle := normalizeName(input)
	var matches []string
	for _, u := range units {
		if normalizeName(u.Name) == needle {
			matches = append(matches, u.ID)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		available := make([]string, 0, len(units))
		for _, u := range units {
			available = append(available, u.Name)
		}
		sort.Strings(available)
		return "", fmt.Errorf("unit %q not found. Available: %s", input, strings.Join(available, ", "))
	default:
		return "", fmt.Errorf("unit name %q is ambiguous; use one of the ids %s", input, strings.Join(matches, ", "))
	}
}
