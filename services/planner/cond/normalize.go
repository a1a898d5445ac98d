// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cond

// Unit is one conjunctive candidate produced by Normalize. Every member must
// hold at once.
type Unit struct {
	// Positive patterns, matched first in order.
	Positive []Pattern

	// Binds run after positives, in order.
	Binds []Bind

	// Filters run after binds.
	Filters []Filter

	// Negated members are checked last, under the bindings fixed above.
	NegFacts   []Fact
	NegFilters []Filter
	NegBinds   []Bind
}

// Pattern is a positive fact pattern, optionally binding the matched fact's
// identity.
type Pattern struct {
	Fact Fact
	Name *Named
}

func (u Unit) merge(o Unit) Unit {
	return Unit{
		Positive:   append(append([]Pattern(nil), u.Positive...), o.Positive...),
		Binds:      append(append([]Bind(nil), u.Binds...), o.Binds...),
		Filters:    append(append([]Filter(nil), u.Filters...), o.Filters...),
		NegFacts:   append(append([]Fact(nil), u.NegFacts...), o.NegFacts...),
		NegFilters: append(append([]Filter(nil), u.NegFilters...), o.NegFilters...),
		NegBinds:   append(append([]Bind(nil), u.NegBinds...), o.NegBinds...),
	}
}

// Normalize expands c into disjunctive normal form.
//
// Description:
//
//	The result is a list of conjunctive units representing an OR across
//	units. Negation is pushed down to the leaves with De Morgan's laws, so
//	every negated member of a unit is a single fact, filter or bind. The
//	expansion is correct but not minimal. A nil condition yields one empty
//	unit, which is always satisfied.
func Normalize(c Condition) []Unit {
	switch v := c.(type) {
	case nil:
		return []Unit{{}}
	case Fact:
		return []Unit{{Positive: []Pattern{{Fact: v}}}}
	case Named:
		n := v
		return []Unit{{Positive: []Pattern{{Fact: v.Fact, Name: &n}}}}
	case Filter:
		return []Unit{{Filters: []Filter{v}}}
	case Bind:
		return []Unit{{Binds: []Bind{v}}}
	case And:
		units := []Unit{{}}
		for _, child := range v {
			var next []Unit
			childUnits := Normalize(child)
			for _, u := range units {
				for _, cu := range childUnits {
					next = append(next, u.merge(cu))
				}
			}
			units = next
		}
		return units
	case Or:
		var units []Unit
		for _, child := range v {
			units = append(units, Normalize(child)...)
		}
		return units
	case Not:
		return normalizeNot(v.C)
	}
	return nil
}

func normalizeNot(c Condition) []Unit {
	switch v := c.(type) {
	case nil:
		return nil
	case Fact:
		return []Unit{{NegFacts: []Fact{v}}}
	case Named:
		return []Unit{{NegFacts: []Fact{v.Fact}}}
	case Filter:
		return []Unit{{NegFilters: []Filter{v}}}
	case Bind:
		return []Unit{{NegBinds: []Bind{v}}}
	default:
		return Normalize(Negate(c))
	}
}
