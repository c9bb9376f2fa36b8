package domain

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"strata/internal/plan"
)

// Loader supplies a planning hierarchy: per level a theory reference, a
// mapping reference and an initial-state/final-goal pair, keyed by level
// index. Implementations are external collaborators; FileLoader is the
// built-in one.
type Loader interface {
	Load() (*Hierarchy, error)
}

// manifest is the on-disk shape of a hierarchy definition.
type manifest struct {
	Name   string          `yaml:"name"`
	Levels []manifestLevel `yaml:"levels"`
}

type manifestLevel struct {
	Index   int               `yaml:"index"`
	Theory  string            `yaml:"theory"` // path to a .mg source, relative to the manifest
	Mapping *manifestMapping  `yaml:"mapping"`
	Initial map[string]string `yaml:"initial"`
	Goal    manifestGoal      `yaml:"goal"`
}

type manifestMapping struct {
	Kind   string              `yaml:"kind"`
	Groups map[string][]string `yaml:"groups"`
	Tasks  map[string][]string `yaml:"tasks"`
}

type manifestGoal struct {
	Positive []string `yaml:"positive"`
	Negative []string `yaml:"negative"`
}

// FileLoader reads a yaml hierarchy manifest and the Mangle theory sources
// it references.
type FileLoader struct {
	Path string
}

// NewFileLoader returns a loader for the given manifest path.
func NewFileLoader(path string) *FileLoader { return &FileLoader{Path: path} }

// Load reads, parses and validates the hierarchy.
func (fl *FileLoader) Load() (*Hierarchy, error) {
	data, err := os.ReadFile(fl.Path)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy manifest: %w", err)
	}
	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, &plan.ConfigurationError{Field: "manifest", Reason: err.Error()}
	}

	baseDir := filepath.Dir(fl.Path)
	levels := make([]*Level, 0, len(m.Levels))
	for _, ml := range m.Levels {
		level, err := fl.buildLevel(baseDir, ml)
		if err != nil {
			return nil, err
		}
		levels = append(levels, level)
	}
	return NewHierarchy(levels)
}

func (fl *FileLoader) buildLevel(baseDir string, ml manifestLevel) (*Level, error) {
	source, err := os.ReadFile(filepath.Join(baseDir, ml.Theory))
	if err != nil {
		return nil, fmt.Errorf("read theory for level %d: %w", ml.Index, err)
	}

	level := &Level{
		Index:   ml.Index,
		Theory:  Theory{Name: ml.Theory, Source: string(source)},
		Initial: plan.State(ml.Initial),
	}

	for _, s := range ml.Goal.Positive {
		l, err := ParseLiteral(s)
		if err != nil {
			return nil, err
		}
		l.Positive = true
		level.Goal.Positive = append(level.Goal.Positive, l)
	}
	for _, s := range ml.Goal.Negative {
		l, err := ParseLiteral(s)
		if err != nil {
			return nil, err
		}
		l.Positive = false
		level.Goal.Negative = append(level.Goal.Negative, l)
	}

	if ml.Mapping != nil {
		mapping, err := buildMapping(ml.Mapping)
		if err != nil {
			return nil, err
		}
		level.Mapping = mapping
	}
	return level, nil
}

func buildMapping(mm *manifestMapping) (*Mapping, error) {
	mapping := &Mapping{Kind: MappingKind(mm.Kind)}
	if len(mm.Groups) > 0 {
		mapping.Groups = make(map[plan.Literal][]plan.Literal, len(mm.Groups))
		for abstract, group := range mm.Groups {
			key, err := ParseLiteral(abstract)
			if err != nil {
				return nil, err
			}
			members, err := parseLiterals(group)
			if err != nil {
				return nil, err
			}
			mapping.Groups[key] = members
		}
	}
	if len(mm.Tasks) > 0 {
		mapping.Tasks = make(map[plan.Literal][]plan.Literal, len(mm.Tasks))
		for task, concrete := range mm.Tasks {
			key, err := ParseLiteral(task)
			if err != nil {
				return nil, err
			}
			members, err := parseLiterals(concrete)
			if err != nil {
				return nil, err
			}
			mapping.Tasks[key] = members
		}
	}
	return mapping, nil
}

func parseLiterals(in []string) ([]plan.Literal, error) {
	out := make([]plan.Literal, 0, len(in))
	for _, s := range in {
		l, err := ParseLiteral(s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

// ParseLiteral parses "fluent=value" or "fluent!=value".
func ParseLiteral(s string) (plan.Literal, error) {
	if f, v, ok := strings.Cut(s, "!="); ok {
		return plan.Literal{Fluent: strings.TrimSpace(f), Value: strings.TrimSpace(v), Positive: false}, nil
	}
	if f, v, ok := strings.Cut(s, "="); ok {
		return plan.Literal{Fluent: strings.TrimSpace(f), Value: strings.TrimSpace(v), Positive: true}, nil
	}
	return plan.Literal{}, &plan.ConfigurationError{Field: "literal",
		Reason: "literal must be fluent=value or fluent!=value, got " + s}
}
