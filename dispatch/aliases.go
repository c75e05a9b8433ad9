package dispatch

import (
	_ "embed"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/simscript/errors"
	"github.com/wippyai/simscript/value"
)

//go:embed aliases.yaml
var defaultAliases []byte

// AliasTable maps legacy names to current ones.
type AliasTable struct {
	Functions []FunctionAlias `yaml:"functions"`
	Variables []VariableAlias `yaml:"variables"`
}

// FunctionAlias maps an old function name to a current one.
type FunctionAlias struct {
	Old string `yaml:"old"`
	New string `yaml:"new"`
}

// VariableAlias maps an old variable name either to a current variable
// (New) or to a literal value (Value).
type VariableAlias struct {
	Value any    `yaml:"value"`
	Old   string `yaml:"old"`
	New   string `yaml:"new"`
}

// ParseAliases decodes and validates a YAML alias table.
func ParseAliases(data []byte) (*AliasTable, error) {
	var t AliasTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(errors.PhaseLoad, errors.KindInvalidData, err, "parse alias table")
	}
	if err := t.validate(); err != nil {
		return nil, err
	}
	return &t, nil
}

// DefaultAliases returns the alias table shipped with the package.
func DefaultAliases() *AliasTable {
	t, err := ParseAliases(defaultAliases)
	if err != nil {
		panic("dispatch: invalid embedded alias table: " + err.Error())
	}
	return t
}

func (t *AliasTable) validate() error {
	for i, a := range t.Functions {
		if a.Old == "" || a.New == "" {
			return aliasError("functions", i, "old and new names are required")
		}
	}
	for i, a := range t.Variables {
		if a.Old == "" {
			return aliasError("variables", i, "old name is required")
		}
		if (a.New == "") == (a.Value == nil) {
			return aliasError("variables", i, "exactly one of new and value is required")
		}
		if a.Value != nil {
			if _, ok := value.From(a.Value); !ok {
				return aliasError("variables", i, "unsupported value type")
			}
		}
	}
	return nil
}

func aliasError(section string, i int, detail string) error {
	return errors.New(errors.PhaseLoad, errors.KindInvalidData).
		Path(section).
		Detail("entry %d: %s", i, detail).
		Build()
}
