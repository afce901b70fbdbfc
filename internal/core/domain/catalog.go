package domain

// SynonymEntry maps user phrasings to the canonical game term.
type SynonymEntry struct {
	Canonical string   `yaml:"canonical" json:"canonical"`
	Synonyms  []string `yaml:"synonyms" json:"synonyms"`
}

// AliasEntry maps a faction nickname, abbreviation or alternate spelling to teams.
type AliasEntry struct {
	Alias string   `yaml:"alias" json:"alias"`
	Teams []string `yaml:"teams" json:"teams"`
}

type Team struct {
	Name       string   `yaml:"name" json:"name"`
	Operatives []string `yaml:"operatives" json:"operatives"`
	Ploys      []string `yaml:"ploys" json:"ploys"`
	Equipment  []string `yaml:"equipment" json:"equipment"`
	Rules      []string `yaml:"rules" json:"rules"`
	Notes      string   `yaml:"notes,omitempty" json:"notes,omitempty"`
}

// Abilities lists every named ploy, equipment item and faction rule of the team.
func (t Team) Abilities() []string {
	out := make([]string, 0, len(t.Ploys)+len(t.Equipment)+len(t.Rules))
	out = append(out, t.Ploys...)
	out = append(out, t.Equipment...)
	out = append(out, t.Rules...)
	return out
}

type TeamCatalog struct {
	Teams []Team `yaml:"teams" json:"teams"`
}

func (c TeamCatalog) Names() []string {
	out := make([]string, 0, len(c.Teams))
	for _, t := range c.Teams {
		out = append(out, t.Name)
	}
	return out
}

func (c TeamCatalog) Lookup(name string) (Team, bool) {
	for _, t := range c.Teams {
		if t.Name == name {
			return t, true
		}
	}
	return Team{}, false
}

// Tables bundles the curated lookup tables used by query expansion and
// entity filtering. A Tables value is immutable once published.
type Tables struct {
	Synonyms []SynonymEntry
	Aliases  []AliasEntry
	Catalog  TeamCatalog
}
