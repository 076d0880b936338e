package legal

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed jurisdictions.yaml
var jurisdictionsYAML []byte

// Link is a titled URL.
type Link struct {
	Title string `yaml:"title" json:"title"`
	URL   string `yaml:"url" json:"url"`
}

// JurisdictionInfo is the static metadata for one province or state.
type JurisdictionInfo struct {
	Key        string   `yaml:"-" json:"key"`
	Name       string   `yaml:"name" json:"name"`
	Country    string   `yaml:"country" json:"country"`
	Aliases    []string `yaml:"aliases" json:"-"`
	RegimeNote string   `yaml:"regime" json:"regimeNote"`
	Statutes   []Link   `yaml:"statutes" json:"statutes"`
	Resources  []Link   `yaml:"resources" json:"resources"`
}

var (
	jurisdictions map[string]*JurisdictionInfo
	aliases       map[string]string
)

func init() {
	var err error
	jurisdictions, aliases, err = parseJurisdictions(jurisdictionsYAML)
	if err != nil {
		panic(fmt.Sprintf("legal: invalid embedded jurisdiction table: %v", err))
	}
}

func parseJurisdictions(data []byte) (map[string]*JurisdictionInfo, map[string]string, error) {
	var raw map[string]*JurisdictionInfo
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, nil, err
	}

	table := make(map[string]*JurisdictionInfo, len(raw))
	alias := make(map[string]string)
	for key, info := range raw {
		if info == nil || info.Name == "" {
			return nil, nil, fmt.Errorf("jurisdiction %q has no name", key)
		}
		norm := NormalizeJurisdiction(key)
		info.Key = norm
		table[norm] = info
		for _, a := range info.Aliases {
			alias[NormalizeJurisdiction(a)] = norm
		}
	}
	return table, alias, nil
}

// NormalizeJurisdiction lowercases, trims and collapses inner whitespace.
func NormalizeJurisdiction(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// LookupJurisdiction returns the table entry for a name, key or alias.
func LookupJurisdiction(s string) (*JurisdictionInfo, bool) {
	key := NormalizeJurisdiction(s)
	if canonical, ok := aliases[key]; ok {
		key = canonical
	}
	info, ok := jurisdictions[key]
	return info, ok
}

// IsKnownJurisdiction reports whether s names a jurisdiction in the table.
func IsKnownJurisdiction(s string) bool {
	_, ok := LookupJurisdiction(s)
	return ok
}

// Jurisdictions returns every table entry sorted by country then name.
func Jurisdictions() []JurisdictionInfo {
	out := make([]JurisdictionInfo, 0, len(jurisdictions))
	for _, info := range jurisdictions {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Country != out[j].Country {
			return out[i].Country < out[j].Country
		}
		return out[i].Name < out[j].Name
	})
	return out
}
