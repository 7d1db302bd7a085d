package catalog

import (
	"strings"

	"github.com/shopspring/decimal"

	"lifeboard.app/core/internal/domain"
)

// LiftFields extracts field values directly from the utterance using the
// descriptor's declared patterns. These simple pattern matches take
// precedence over parser-supplied values during data assembly.
func (d *Descriptor) LiftFields(utterance string) map[string]domain.Value {
	lowered := strings.ToLower(utterance)
	out := make(map[string]domain.Value)

	for i := range d.Fields {
		f := &d.Fields[i]
		if f.re == nil {
			continue
		}
		m := f.re.FindStringSubmatch(lowered)
		if m == nil {
			continue
		}
		raw := strings.ReplaceAll(m[1], ",", "")

		if f.Kind.Numeric() {
			dec, err := decimal.NewFromString(raw)
			if err != nil {
				continue
			}
			out[f.Name] = domain.Number(dec.RoundBank(f.Kind.Precision()))
			continue
		}
		out[f.Name] = domain.String(raw)
	}

	return out
}
