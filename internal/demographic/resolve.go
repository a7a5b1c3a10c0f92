package demographic

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Identity is the canonical (indicator, group) pair an alias stands for.
type Identity struct {
	Code  string `json:"code" yaml:"code"`
	Group string `json:"group" yaml:"group"`
}

func (id Identity) String() string { return id.Code + "/" + id.Group }

// Resolver maps alias tokens to identities. It is immutable after construction
// and safe for concurrent use.
type Resolver struct {
	aliases map[string]Identity
}

// defaultAliases covers every alias that appears in the source archive,
// including historical spellings (avginv, lowedu, highinc, ...).
var defaultAliases = map[string]Identity{
	"avgedu":  {"edu", "avg"},
	"ledu":    {"edu", "low"},
	"lowedu":  {"edu", "low"},
	"hedu":    {"edu", "high"},
	"highedu": {"edu", "high"},

	"avginc":  {"inc", "avg"},
	"avginv":  {"inc", "avg"},
	"linc":    {"inc", "low"},
	"lowinc":  {"inc", "low"},
	"hinc":    {"inc", "high"},
	"highinc": {"inc", "high"},

	"german":    {"cit", "ger"},
	"nongerman": {"cit", "nonger"},

	"east": {"loc", "east"},
	"west": {"loc", "west"},

	"male":   {"gen", "male"},
	"female": {"gen", "female"},

	"age1": {"age", "1"},
	"age2": {"age", "2"},
	"age3": {"age", "3"},
	"age4": {"age", "4"},
	"age5": {"age", "5"},
}

// NewResolver builds a Resolver from the built-in alias table overlaid with extra.
// Extra entries win over built-in ones with the same alias.
func NewResolver(extra map[string]Identity) *Resolver {
	m := make(map[string]Identity, len(defaultAliases)+len(extra))
	for k, v := range defaultAliases {
		m[k] = v
	}
	for k, v := range extra {
		m[k] = v
	}
	return &Resolver{aliases: m}
}

// DefaultResolver returns a Resolver with only the built-in aliases.
func DefaultResolver() *Resolver { return NewResolver(nil) }

// Resolve looks up a single alias. Unknown aliases return ok=false; this is
// not an error because keys may carry unrelated tokens such as version markers.
func (r *Resolver) Resolve(alias string) (Identity, bool) {
	if r == nil {
		return Identity{}, false
	}
	id, ok := r.aliases[alias]
	return id, ok
}

// ResolveAll resolves tokens in order. Resolved identities keep token order;
// tokens that did not resolve are returned separately.
func (r *Resolver) ResolveAll(tokens []string) (resolved []Identity, unresolved []string) {
	for _, tok := range tokens {
		if id, ok := r.Resolve(tok); ok {
			resolved = append(resolved, id)
			continue
		}
		unresolved = append(unresolved, tok)
	}
	return resolved, unresolved
}

// Aliases returns all known aliases sorted by name.
func (r *Resolver) Aliases() []string {
	out := make([]string, 0, len(r.aliases))
	for k := range r.aliases {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// aliasFile is the on-disk shape of an alias override file:
//
//	aliases:
//	  lowincome: {code: inc, group: low}
type aliasFile struct {
	Aliases map[string]Identity `yaml:"aliases"`
}

// LoadAliasFile reads extra aliases from a YAML file.
//
// Errors:
//   - the file cannot be read or parsed
//   - an entry has an empty alias, code or group
func LoadAliasFile(path string) (map[string]Identity, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	var f aliasFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse alias file %s: %w", path, err)
	}
	for alias, id := range f.Aliases {
		if strings.TrimSpace(alias) == "" || id.Code == "" || id.Group == "" {
			return nil, fmt.Errorf("alias file %s: incomplete entry %q -> %v", path, alias, id)
		}
	}
	return f.Aliases, nil
}
