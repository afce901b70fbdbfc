package tables

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/rules-qa/internal/core/domain"
)

// Loader reads the curated tables from three YAML files. An empty path
// leaves the corresponding table empty.
type Loader struct {
	SynonymsPath string
	AliasesPath  string
	CatalogPath  string
}

func NewLoader(synonymsPath, aliasesPath, catalogPath string) *Loader {
	return &Loader{
		SynonymsPath: synonymsPath,
		AliasesPath:  aliasesPath,
		CatalogPath:  catalogPath,
	}
}

type synonymsFile struct {
	Synonyms []domain.SynonymEntry `yaml:"synonyms"`
}

type aliasesFile struct {
	Aliases []domain.AliasEntry `yaml:"aliases"`
}

func (l *Loader) Load(ctx context.Context) (domain.Tables, error) {
	var out domain.Tables

	var syn synonymsFile
	if err := readYAML(ctx, l.SynonymsPath, &syn); err != nil {
		return domain.Tables{}, err
	}
	var aliases aliasesFile
	if err := readYAML(ctx, l.AliasesPath, &aliases); err != nil {
		return domain.Tables{}, err
	}
	if err := readYAML(ctx, l.CatalogPath, &out.Catalog); err != nil {
		return domain.Tables{}, err
	}
	out.Synonyms = syn.Synonyms
	out.Aliases = aliases.Aliases

	if err := validate(out); err != nil {
		return domain.Tables{}, domain.WrapError(domain.ErrInvalidInput, "validate tables", err)
	}
	return out, nil
}

func readYAML(ctx context.Context, path string, dst any) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tables %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return domain.WrapError(domain.ErrInvalidInput, "parse tables "+path, err)
	}
	return nil
}

func validate(t domain.Tables) error {
	var errs []error
	for i, entry := range t.Synonyms {
		if strings.TrimSpace(entry.Canonical) == "" {
			errs = append(errs, fmt.Errorf("synonym %d: empty canonical term", i))
		}
		if len(entry.Synonyms) == 0 {
			errs = append(errs, fmt.Errorf("synonym %q: no synonyms", entry.Canonical))
		}
	}

	names := make(map[string]struct{}, len(t.Catalog.Teams))
	for _, team := range t.Catalog.Teams {
		name := strings.TrimSpace(team.Name)
		if name == "" {
			errs = append(errs, errors.New("catalog: team without name"))
			continue
		}
		if _, dup := names[name]; dup {
			errs = append(errs, fmt.Errorf("catalog: duplicate team %q", name))
		}
		names[name] = struct{}{}
	}

	for _, alias := range t.Aliases {
		if strings.TrimSpace(alias.Alias) == "" {
			errs = append(errs, errors.New("aliases: empty alias"))
			continue
		}
		if len(names) == 0 {
			continue
		}
		for _, team := range alias.Teams {
			if _, ok := names[team]; !ok {
				errs = append(errs, fmt.Errorf("alias %q: unknown team %q", alias.Alias, team))
			}
		}
	}
	return errors.Join(errs...)
}
