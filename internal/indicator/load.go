package indicator

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// rulesFile is the on-disk shape of an indicator rules file.
type rulesFile struct {
	Sets []RuleSet `yaml:"sets"`
}

// LoadRuleSets reads rule sets from a YAML file and overlays them on the
// defaults: a set in the file replaces the default set of the same name.
// Every resulting set is validated.
func LoadRuleSets(path string) (map[string]RuleSet, error) {
	sets := DefaultRuleSets()
	if path == "" {
		return sets, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "indicator: read rules file %s", path)
	}
	parsed, err := ParseRuleSets(data)
	if err != nil {
		return nil, err
	}
	for _, s := range parsed {
		sets[s.Name] = s
	}
	for _, s := range sets {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return sets, nil
}

// ParseRuleSets decodes rule sets from YAML.
func ParseRuleSets(data []byte) ([]RuleSet, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "indicator: parse rules yaml")
	}
	for i, s := range f.Sets {
		if s.Name == "" {
			return nil, eris.Errorf("indicator: rule set %d has no name", i)
		}
	}
	return f.Sets, nil
}

// MarshalRuleSets renders rule sets as YAML in the LoadRuleSets format.
func MarshalRuleSets(sets ...RuleSet) ([]byte, error) {
	out, err := yaml.Marshal(rulesFile{Sets: sets})
	if err != nil {
		return nil, eris.Wrap(err, "indicator: marshal rules yaml")
	}
	return out, nil
}
