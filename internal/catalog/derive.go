package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"

	"lifeboard.app/core/internal/domain"
)

// intermediatePrecision bounds derivation arithmetic before rounding to the
// target field's declared precision. Rounding is half-to-even throughout.
const intermediatePrecision = 4

// Derive applies the descriptor's derivation rules to data, in declared
// order, mutating the map. Rules whose preconditions do not hold are
// skipped. A division by zero skips the rule with a diagnostic rather than
// failing classification.
func (d *Descriptor) Derive(data map[string]domain.Value) []string {
	var diags []string

	for _, rule := range d.DeriveRules {
		if !preconditionsHold(rule, data) {
			continue
		}

		switch rule.Op {
		case OpSet:
			data[rule.Target] = constValue(d, rule.Target, rule.Set)

		case OpMul, OpDiv:
			a, aok := data[rule.Args[0]].Decimal()
			b, bok := data[rule.Args[1]].Decimal()
			if !aok || !bok {
				diags = append(diags, fmt.Sprintf("derive %s: non-numeric operand", rule.Target))
				continue
			}

			var result decimal.Decimal
			if rule.Op == OpMul {
				result = a.Mul(b)
			} else {
				if b.IsZero() {
					diags = append(diags, fmt.Sprintf("derive %s: division by zero (%s)", rule.Target, rule.Args[1]))
					continue
				}
				result = a.Div(b)
			}

			precision := FieldNumber.Precision()
			if f := d.Field(rule.Target); f != nil {
				precision = f.Kind.Precision()
			}
			result = result.RoundBank(intermediatePrecision)
			if precision < intermediatePrecision {
				result = result.RoundBank(precision)
			}
			data[rule.Target] = domain.Number(result)
		}
	}

	return diags
}

func preconditionsHold(rule DeriveRule, data map[string]domain.Value) bool {
	for _, f := range rule.Require {
		if _, ok := data[f]; !ok {
			return false
		}
	}
	for _, f := range rule.Absent {
		if _, ok := data[f]; ok {
			return false
		}
	}
	return true
}

func constValue(d *Descriptor, field, raw string) domain.Value {
	if f := d.Field(field); f != nil && f.Kind.Numeric() {
		if dec, err := decimal.NewFromString(raw); err == nil {
			return domain.Number(dec.RoundBank(f.Kind.Precision()))
		}
	}
	return domain.String(raw)
}

// MissingRequired returns required fields absent from data, preserving the
// descriptor's declared order.
func (d *Descriptor) MissingRequired(data map[string]domain.Value) []string {
	var missing []string
	for _, f := range d.Required {
		if _, ok := data[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

// Fires reports whether the secondary rule's predicate holds on data.
func (r SecondaryRule) Fires(data map[string]domain.Value) bool {
	for _, f := range r.Require {
		if _, ok := data[f]; !ok {
			return false
		}
	}
	for _, f := range r.NonZero {
		v, ok := data[f]
		if !ok || v.IsZero() {
			return false
		}
	}
	return true
}

// BuildSecondaryData assembles the data map for a synthesized secondary
// event: rule mappings and constants first, then parent fields that share a
// name, all restricted to the secondary descriptor's identifiable fields.
func BuildSecondaryData(target *Descriptor, rule SecondaryRule, parent map[string]domain.Value) map[string]domain.Value {
	out := make(map[string]domain.Value)

	for dst, src := range rule.Map {
		if v, ok := parent[src]; ok && target.Identifiable(dst) {
			out[dst] = v
		}
	}
	for dst, raw := range rule.Set {
		if target.Identifiable(dst) {
			out[dst] = constValue(target, dst, raw)
		}
	}
	for name, v := range parent {
		if _, taken := out[name]; taken {
			continue
		}
		if target.Identifiable(name) {
			out[name] = v
		}
	}

	return out
}

// RestrictTo filters parent data down to the target descriptor's
// identifiable fields. Used for keyword-derived secondaries that have no
// synthesis rule.
func RestrictTo(target *Descriptor, parent map[string]domain.Value) map[string]domain.Value {
	out := make(map[string]domain.Value)
	for name, v := range parent {
		if target.Identifiable(name) {
			out[name] = v
		}
	}
	return out
}
