package catalog

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"lifeboard.app/core/internal/domain"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

type fileDef struct {
	Events []eventDef `yaml:"events"`
}

type eventDef struct {
	EventType   string         `yaml:"event_type"`
	Category    string         `yaml:"category"`
	Module      string         `yaml:"module"`
	Keywords    []string       `yaml:"keywords"`
	Fields      []fieldDef     `yaml:"fields"`
	Required    []string       `yaml:"required"`
	Derive      []deriveDef    `yaml:"derive"`
	Secondaries []secondaryDef `yaml:"secondaries"`
}

type fieldDef struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"`
	Pattern string `yaml:"pattern"`
}

type deriveDef struct {
	Require []string `yaml:"require"`
	Absent  []string `yaml:"absent"`
	Target  string   `yaml:"target"`
	Op      string   `yaml:"op"`
	Args    []string `yaml:"args"`
	Set     string   `yaml:"set"`
}

type secondaryDef struct {
	Event   string            `yaml:"event"`
	Require []string          `yaml:"require"`
	NonZero []string          `yaml:"nonzero"`
	Map     map[string]string `yaml:"map"`
	Set     map[string]string `yaml:"set"`
}

var validCategories = map[domain.Category]bool{
	domain.CategoryMoney:    true,
	domain.CategoryFleet:    true,
	domain.CategoryHealth:   true,
	domain.CategoryFood:     true,
	domain.CategoryCalendar: true,
}

var validModules = map[domain.Module]bool{
	domain.ModuleAccounting: true,
	domain.ModuleFleet:      true,
	domain.ModuleHealth:     true,
	domain.ModulePantry:     true,
	domain.ModuleCalendar:   true,
}

var validKinds = map[FieldKind]bool{
	FieldCurrency: true,
	FieldVolume:   true,
	FieldInteger:  true,
	FieldNumber:   true,
	FieldString:   true,
	FieldDate:     true,
}

// Default builds the catalog from the embedded definition. Catalog errors
// are fatal at startup by design, so callers typically os.Exit on failure.
func Default() (*Catalog, error) {
	return Load(defaultCatalogYAML)
}

// LoadFile builds a catalog from an external YAML definition.
func LoadFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	return Load(raw)
}

// Load parses and validates a YAML catalog definition. Duplicate event
// types, unknown modules or categories, required fields outside the
// identifiable set, rules referencing undeclared fields, unknown extraction
// patterns, and cyclic secondary rules are all fatal.
func Load(raw []byte) (*Catalog, error) {
	var def fileDef
	if err := yaml.Unmarshal(raw, &def); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	if len(def.Events) == 0 {
		return nil, fmt.Errorf("catalog defines no events")
	}

	cat := &Catalog{descriptors: make(map[domain.EventType]*Descriptor)}

	for i, ed := range def.Events {
		d, err := buildDescriptor(ed, i)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", ed.EventType, err)
		}
		if _, dup := cat.descriptors[d.EventType]; dup {
			return nil, fmt.Errorf("duplicate event type %q", d.EventType)
		}
		cat.descriptors[d.EventType] = d
		cat.ordered = append(cat.ordered, d)
	}

	if err := validateSecondaries(cat); err != nil {
		return nil, err
	}

	return cat, nil
}

func buildDescriptor(ed eventDef, order int) (*Descriptor, error) {
	if ed.EventType == "" {
		return nil, fmt.Errorf("missing event_type")
	}
	if !validCategories[domain.Category(ed.Category)] {
		return nil, fmt.Errorf("unknown category %q", ed.Category)
	}
	if !validModules[domain.Module(ed.Module)] {
		return nil, fmt.Errorf("unknown module %q", ed.Module)
	}
	if len(ed.Keywords) == 0 {
		return nil, fmt.Errorf("no keywords declared")
	}

	d := &Descriptor{
		EventType:  domain.EventType(ed.EventType),
		Category:   domain.Category(ed.Category),
		Module:     domain.Module(ed.Module),
		Keywords:   ed.Keywords,
		Required:   ed.Required,
		declOrder:  order,
		fieldIndex: make(map[string]*FieldSpec),
	}

	for _, fd := range ed.Fields {
		kind := FieldKind(fd.Kind)
		if !validKinds[kind] {
			return nil, fmt.Errorf("field %q: unknown kind %q", fd.Name, fd.Kind)
		}
		spec := FieldSpec{Name: fd.Name, Kind: kind, Pattern: fd.Pattern}
		if fd.Pattern != "" {
			re, ok := builtinPatterns[fd.Pattern]
			if !ok {
				return nil, fmt.Errorf("field %q: unknown pattern %q", fd.Name, fd.Pattern)
			}
			spec.re = re
		}
		d.Fields = append(d.Fields, spec)
	}
	for i := range d.Fields {
		f := &d.Fields[i]
		if _, dup := d.fieldIndex[f.Name]; dup {
			return nil, fmt.Errorf("duplicate field %q", f.Name)
		}
		d.fieldIndex[f.Name] = f
	}

	for _, req := range ed.Required {
		if !d.Identifiable(req) {
			return nil, fmt.Errorf("required field %q not in identifiable fields", req)
		}
	}

	for _, dd := range ed.Derive {
		rule, err := buildDeriveRule(d, dd)
		if err != nil {
			return nil, err
		}
		d.DeriveRules = append(d.DeriveRules, rule)
	}

	for _, sd := range ed.Secondaries {
		if sd.Event == "" {
			return nil, fmt.Errorf("secondary rule missing event")
		}
		d.SecondaryRules = append(d.SecondaryRules, SecondaryRule{
			Event:   domain.EventType(sd.Event),
			Require: sd.Require,
			NonZero: sd.NonZero,
			Map:     sd.Map,
			Set:     sd.Set,
		})
	}

	for _, kw := range d.Keywords {
		d.keywordRes = append(d.keywordRes, compileKeyword(kw))
	}

	return d, nil
}

func buildDeriveRule(d *Descriptor, dd deriveDef) (DeriveRule, error) {
	if dd.Target == "" {
		return DeriveRule{}, fmt.Errorf("derive rule missing target")
	}
	if !d.Identifiable(dd.Target) {
		return DeriveRule{}, fmt.Errorf("derive target %q not in identifiable fields", dd.Target)
	}
	for _, f := range append(append([]string{}, dd.Require...), dd.Absent...) {
		if !d.Identifiable(f) {
			return DeriveRule{}, fmt.Errorf("derive rule references undeclared field %q", f)
		}
	}

	rule := DeriveRule{
		Require: dd.Require,
		Absent:  dd.Absent,
		Target:  dd.Target,
		Args:    dd.Args,
		Set:     dd.Set,
	}

	switch dd.Op {
	case "mul":
		rule.Op = OpMul
	case "div":
		rule.Op = OpDiv
	case "", "set":
		if dd.Set == "" {
			return DeriveRule{}, fmt.Errorf("derive rule for %q has neither op nor set", dd.Target)
		}
		rule.Op = OpSet
	default:
		return DeriveRule{}, fmt.Errorf("unknown derive op %q", dd.Op)
	}

	if rule.Op == OpMul || rule.Op == OpDiv {
		if len(dd.Args) != 2 {
			return DeriveRule{}, fmt.Errorf("derive op %s needs exactly two args", dd.Op)
		}
		for _, arg := range dd.Args {
			if !d.Identifiable(arg) {
				return DeriveRule{}, fmt.Errorf("derive arg %q not in identifiable fields", arg)
			}
		}
	}

	// The rewrite shape is "compute B from A with B absent": the target must
	// be part of the absence precondition or the rule would overwrite data.
	if !contains(rule.Absent, rule.Target) {
		return DeriveRule{}, fmt.Errorf("derive target %q must appear in absent preconditions", rule.Target)
	}

	return rule, nil
}

func validateSecondaries(cat *Catalog) error {
	for _, d := range cat.ordered {
		for _, r := range d.SecondaryRules {
			target, ok := cat.descriptors[r.Event]
			if !ok {
				return fmt.Errorf("event %q: secondary rule targets unknown event %q", d.EventType, r.Event)
			}
			// Fan-out depth is one: a secondary target generating its own
			// secondaries would cascade.
			if len(target.SecondaryRules) > 0 {
				return fmt.Errorf("event %q: secondary target %q has secondary rules of its own", d.EventType, r.Event)
			}
			for dst := range r.Map {
				if !target.Identifiable(dst) {
					return fmt.Errorf("event %q: secondary map target %q not identifiable on %q", d.EventType, dst, r.Event)
				}
			}
			for _, src := range r.Map {
				if !d.Identifiable(src) {
					return fmt.Errorf("event %q: secondary map source %q not identifiable", d.EventType, src)
				}
			}
			for dst := range r.Set {
				if !target.Identifiable(dst) {
					return fmt.Errorf("event %q: secondary set target %q not identifiable on %q", d.EventType, dst, r.Event)
				}
			}
		}
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
