package classifier

import (
	"fmt"

	"lifeboard.app/core/internal/catalog"
	"lifeboard.app/core/internal/domain"
	"lifeboard.app/core/internal/parser"
)

// Config tunes confidence scoring. Zero values fall back to defaults.
type Config struct {
	MinConfidence    float64 // default 0.5
	SecondaryPenalty float64 // default 0.05
}

const (
	defaultMinConfidence    = 0.5
	defaultSecondaryPenalty = 0.05

	keywordBase     = 0.7
	parserBase      = 0.6
	perKeywordBonus = 0.05
	keywordBonusCap = 0.2
	completenessCap = 0.1
)

// Classifier fuses the deterministic keyword engine with the parser's
// interpretation. It is a pure function over (utterance, parser output,
// catalog); no state survives a call.
type Classifier struct {
	catalog *catalog.Catalog
	cfg     Config
}

func New(cat *catalog.Catalog, cfg Config) *Classifier {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = defaultMinConfidence
	}
	if cfg.SecondaryPenalty == 0 {
		cfg.SecondaryPenalty = defaultSecondaryPenalty
	}
	return &Classifier{catalog: cat, cfg: cfg}
}

// Classify produces the canonical classification for an utterance. po is nil
// when the parser failed; the keyword engine then carries the command alone.
func (c *Classifier) Classify(utterance string, po *parser.Output) (*domain.ClassificationResult, error) {
	keyword := c.catalog.CandidatesForKeywords(utterance)
	proposed := c.parserCandidates(po)

	var diags []string
	if po != nil {
		diags = append(diags, po.Diagnostics...)
	}

	primaryType, source, selDiags := c.selectPrimary(keyword, proposed, po)
	diags = append(diags, selDiags...)
	if primaryType == "" {
		return nil, domain.E(domain.KindUnclassifiable,
			"no keyword or parser candidate for utterance")
	}

	desc, ok := c.catalog.DescriptorFor(primaryType)
	if !ok {
		return nil, domain.E(domain.KindUnclassifiable, "no descriptor for %s", primaryType)
	}

	data := c.assembleData(desc, utterance, po)
	diags = append(diags, desc.Derive(data)...)

	if missing := desc.MissingRequired(data); len(missing) > 0 {
		return nil, domain.ValidationError(desc.EventType, missing)
	}

	confidence, err := c.score(desc, source, keyword, po, data)
	if err != nil {
		return nil, err
	}

	result := &domain.ClassificationResult{
		Primary: domain.ClassifiedEvent{
			EventType:     desc.EventType,
			Category:      desc.Category,
			Module:        desc.Module,
			ExtractedData: data,
			Confidence:    confidence,
		},
		Source:     source,
		Unresolved: unresolvedFields(desc, data),
	}

	secondaries, secDiags := c.buildSecondaries(desc, utterance, keyword, data, confidence)
	result.Secondaries = secondaries
	result.Diagnostics = append(diags, secDiags...)

	return result, nil
}

// parserCandidates intersects the parser's proposals with the catalog. The
// parser client already drops unknown types; the re-check keeps the
// classifier total over arbitrary inputs.
func (c *Classifier) parserCandidates(po *parser.Output) []domain.EventType {
	if po == nil {
		return nil
	}
	var out []domain.EventType
	for _, et := range po.ProposedEventTypes {
		if _, ok := c.catalog.DescriptorFor(et); ok {
			out = append(out, et)
		}
	}
	return out
}

// selectPrimary applies the explicit-keywords-win rule: the top keyword
// candidate is the primary whenever any keyword matched, merged with the
// parser when it agrees. The parser only decides on its own when no keyword
// matched at all.
func (c *Classifier) selectPrimary(keyword []catalog.KeywordMatch, proposed []domain.EventType, po *parser.Output) (domain.EventType, domain.Source, []string) {
	var diags []string

	if len(keyword) > 0 {
		top := keyword[0].EventType
		if containsType(proposed, top) {
			return top, domain.SourceMerged, diags
		}
		if po != nil && (len(proposed) > 0 || po.PrimaryEvent != "") {
			diags = append(diags, fmt.Sprintf(
				"parser disagreed with keyword selection: keyword=%s parser_primary=%s",
				top, po.PrimaryEvent))
		}
		return top, domain.SourceKeyword, diags
	}

	if len(proposed) > 0 {
		if po.PrimaryEvent != "" && containsType(proposed, po.PrimaryEvent) {
			return po.PrimaryEvent, domain.SourceParser, diags
		}
		return proposed[0], domain.SourceParser, diags
	}

	return "", "", diags
}

// assembleData merges parser-extracted values with fields lifted from the
// utterance by the descriptor's patterns. Lifted values win; the parser only
// fills fields the patterns could not see. Keys outside the identifiable set
// are discarded.
func (c *Classifier) assembleData(desc *catalog.Descriptor, utterance string, po *parser.Output) map[string]domain.Value {
	data := make(map[string]domain.Value)

	if po != nil {
		for name, v := range po.ExtractedData {
			if desc.Identifiable(name) {
				data[name] = v
			}
		}
	}
	for name, v := range desc.LiftFields(utterance) {
		data[name] = v
	}

	return data
}

// score computes the primary's confidence. Below the threshold the
// classification fails unless the parser corroborated the keyword choice, in
// which case it is accepted at exactly the threshold.
func (c *Classifier) score(desc *catalog.Descriptor, source domain.Source, keyword []catalog.KeywordMatch, po *parser.Output, data map[string]domain.Value) (float64, error) {
	base := parserBase
	if source == domain.SourceKeyword || source == domain.SourceMerged {
		base = keywordBase
	}

	var kwBonus float64
	if len(keyword) > 0 && keyword[0].EventType == desc.EventType {
		kwBonus = perKeywordBonus * float64(len(keyword[0].Keywords))
		if kwBonus > keywordBonusCap {
			kwBonus = keywordBonusCap
		}
	}

	var completeness float64
	if n := len(desc.Fields); n > 0 {
		completeness = completenessCap * float64(len(data)) / float64(n)
	}

	score := base + kwBonus + completeness
	if po != nil && po.Confidence > score {
		score = po.Confidence
	}
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}

	if score < c.cfg.MinConfidence {
		if source == domain.SourceMerged {
			return c.cfg.MinConfidence, nil
		}
		return 0, &domain.Error{
			Kind:      domain.KindLowConfidence,
			EventType: desc.EventType,
			Message:   fmt.Sprintf("confidence %.2f below threshold %.2f", score, c.cfg.MinConfidence),
		}
	}

	return score, nil
}

// buildSecondaries synthesizes coordinated side-effect events from two
// sources, in order: remaining keyword candidates, then the primary
// descriptor's secondary rules. Fan-out depth is one, so a secondary's own
// rules are never evaluated. Secondaries that fail validation or fall below
// the confidence floor are dropped with a diagnostic, never an error.
func (c *Classifier) buildSecondaries(primary *catalog.Descriptor, utterance string, keyword []catalog.KeywordMatch, data map[string]domain.Value, primaryConfidence float64) ([]domain.ClassifiedEvent, []string) {
	var (
		out   []domain.ClassifiedEvent
		diags []string
	)
	confidence := primaryConfidence - c.cfg.SecondaryPenalty
	seen := map[domain.EventType]bool{primary.EventType: true}

	add := func(target *catalog.Descriptor, secData map[string]domain.Value) {
		if seen[target.EventType] {
			return
		}
		if confidence < c.cfg.MinConfidence {
			diags = append(diags, fmt.Sprintf(
				"secondary %s dropped: confidence %.2f below threshold", target.EventType, confidence))
			return
		}
		diags = append(diags, target.Derive(secData)...)
		if missing := target.MissingRequired(secData); len(missing) > 0 {
			diags = append(diags, fmt.Sprintf(
				"secondary %s dropped: missing %v", target.EventType, missing))
			return
		}
		seen[target.EventType] = true
		out = append(out, domain.ClassifiedEvent{
			EventType:     target.EventType,
			Category:      target.Category,
			Module:        target.Module,
			ExtractedData: secData,
			Confidence:    confidence,
			IsSecondary:   true,
		})
	}

	for _, km := range keyword[min(1, len(keyword)):] {
		target, ok := c.catalog.DescriptorFor(km.EventType)
		if !ok {
			continue
		}
		secData := catalog.RestrictTo(target, data)
		for name, v := range target.LiftFields(utterance) {
			if _, taken := secData[name]; !taken {
				secData[name] = v
			}
		}
		add(target, secData)
	}

	for _, rule := range primary.SecondaryRules {
		if !rule.Fires(data) {
			continue
		}
		target, ok := c.catalog.DescriptorFor(rule.Event)
		if !ok {
			continue
		}
		add(target, catalog.BuildSecondaryData(target, rule, data))
	}

	return out, diags
}

// unresolvedFields lists identifiable fields still unpopulated after
// derivation, in declared order.
func unresolvedFields(desc *catalog.Descriptor, data map[string]domain.Value) []string {
	var out []string
	for _, f := range desc.Fields {
		if _, ok := data[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

func containsType(list []domain.EventType, et domain.EventType) bool {
	for _, v := range list {
		if v == et {
			return true
		}
	}
	return false
}
