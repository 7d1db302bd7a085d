package catalog

import (
	"regexp"
	"sort"
	"strings"

	"lifeboard.app/core/internal/domain"
)

// FieldKind declares how a field's value is typed and rounded.
type FieldKind string

const (
	FieldCurrency FieldKind = "currency"
	FieldVolume   FieldKind = "volume"
	FieldInteger  FieldKind = "integer"
	FieldNumber   FieldKind = "number"
	FieldString   FieldKind = "string"
	FieldDate     FieldKind = "date"
)

// Precision returns the number of fractional digits results are rounded to
// (half-to-even). Currency 2, volume 3, generic numbers 4.
func (k FieldKind) Precision() int32 {
	switch k {
	case FieldCurrency:
		return 2
	case FieldVolume:
		return 3
	case FieldInteger:
		return 0
	default:
		return 4
	}
}

// Numeric reports whether values of this kind carry a decimal.
func (k FieldKind) Numeric() bool {
	switch k {
	case FieldCurrency, FieldVolume, FieldInteger, FieldNumber:
		return true
	}
	return false
}

// FieldSpec describes one identifiable field of an event type. Pattern, when
// set, names a built-in extraction regexp the classifier may lift the value
// with directly from the utterance.
type FieldSpec struct {
	Name    string
	Kind    FieldKind
	Pattern string

	re *regexp.Regexp
}

// DeriveOp is the arithmetic a derivation rule performs.
type DeriveOp string

const (
	OpMul DeriveOp = "mul"
	OpDiv DeriveOp = "div"
	OpSet DeriveOp = "set"
)

// DeriveRule is a conditional rewrite over extracted data: if all of Require
// are present and all of Absent are absent, compute Target. Rules are data,
// interpreted by a single evaluator; catalog validation guarantees Target
// stays inside the descriptor's identifiable fields.
type DeriveRule struct {
	Require []string
	Absent  []string
	Target  string
	Op      DeriveOp
	Args    []string
	Set     string
}

// SecondaryRule synthesizes a coordinated side-effect event when its
// predicate holds on the derived data. Map renames source fields into the
// secondary's vocabulary; Set injects constants. Fan-out depth is one: the
// target event's descriptor must not carry secondary rules of its own.
type SecondaryRule struct {
	Event   domain.EventType
	Require []string
	NonZero []string
	Map     map[string]string
	Set     map[string]string
}

// Descriptor is the static metadata for one event type. Immutable after
// startup.
type Descriptor struct {
	EventType      domain.EventType
	Category       domain.Category
	Module         domain.Module
	Keywords       []string
	Fields         []FieldSpec
	Required       []string
	DeriveRules    []DeriveRule
	SecondaryRules []SecondaryRule

	declOrder  int
	fieldIndex map[string]*FieldSpec
	keywordRes []*regexp.Regexp
}

// Field returns the spec for an identifiable field, or nil.
func (d *Descriptor) Field(name string) *FieldSpec {
	return d.fieldIndex[name]
}

// Identifiable reports whether name is one of the descriptor's identifiable
// fields.
func (d *Descriptor) Identifiable(name string) bool {
	_, ok := d.fieldIndex[name]
	return ok
}

// Catalog is the process-wide read-only event type registry. Built once at
// startup, readable without locks.
type Catalog struct {
	descriptors map[domain.EventType]*Descriptor
	ordered     []*Descriptor
}

// DescriptorFor looks up the descriptor for an event type.
func (c *Catalog) DescriptorFor(et domain.EventType) (*Descriptor, bool) {
	d, ok := c.descriptors[et]
	return d, ok
}

// EventTypes returns every known event type in declaration order.
func (c *Catalog) EventTypes() []domain.EventType {
	out := make([]domain.EventType, len(c.ordered))
	for i, d := range c.ordered {
		out[i] = d.EventType
	}
	return out
}

// KeywordMatch is one catalog candidate produced by keyword scanning.
type KeywordMatch struct {
	EventType domain.EventType
	Keywords  []string // matched keywords, declaration order
	Longest   int      // length of the longest matched keyword
}

// CandidatesForKeywords scans the utterance against every descriptor's
// keyword set. Matching is case-insensitive and whole-phrase. Candidates are
// ordered by matched-keyword count desc, longest matched keyword desc, then
// declaration order asc. Declaration order encodes domain priority, so fuel
// keywords outrank generic purchase keywords on ties.
func (c *Catalog) CandidatesForKeywords(utterance string) []KeywordMatch {
	lowered := strings.ToLower(utterance)

	var matches []KeywordMatch
	for _, d := range c.ordered {
		var matched []string
		longest := 0
		for i, re := range d.keywordRes {
			if re.MatchString(lowered) {
				kw := d.Keywords[i]
				matched = append(matched, kw)
				if len(kw) > longest {
					longest = len(kw)
				}
			}
		}
		if len(matched) > 0 {
			matches = append(matches, KeywordMatch{
				EventType: d.EventType,
				Keywords:  matched,
				Longest:   longest,
			})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if len(a.Keywords) != len(b.Keywords) {
			return len(a.Keywords) > len(b.Keywords)
		}
		if a.Longest != b.Longest {
			return a.Longest > b.Longest
		}
		return c.descriptors[a.EventType].declOrder < c.descriptors[b.EventType].declOrder
	})

	return matches
}

func compileKeyword(kw string) *regexp.Regexp {
	// Whole-phrase match: keyword bounded by non-word characters so "gas"
	// matches "got gas," but not "gasket".
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.ToLower(kw)) + `\b`)
}
