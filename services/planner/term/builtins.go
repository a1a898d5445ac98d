// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package term

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Builtins returns a registry preloaded with arithmetic, comparison and
// string functions.
//
// Integer arithmetic stays integral. Mixing an integer with a float
// promotes to float64. div returns an integer only when the division is
// exact.
func Builtins() *Registry {
	r := NewRegistry()
	r.Register("add", arith("add", func(a, b int64) int64 { return a + b }, func(a, b float64) float64 { return a + b }))
	r.Register("sub", arith("sub", func(a, b int64) int64 { return a - b }, func(a, b float64) float64 { return a - b }))
	r.Register("mul", arith("mul", func(a, b int64) int64 { return a * b }, func(a, b float64) float64 { return a * b }))
	r.Register("min", arith("min", func(a, b int64) int64 { return min(a, b) }, func(a, b float64) float64 { return min(a, b) }))
	r.Register("max", arith("max", func(a, b int64) int64 { return max(a, b) }, func(a, b float64) float64 { return max(a, b) }))
	r.Register("div", divide)
	r.Register("mod", modulo)
	r.Register("neg", unaryNum("neg", func(a int64) int64 { return -a }, func(a float64) float64 { return -a }))
	r.Register("abs", unaryNum("abs", func(a int64) int64 {
		if a < 0 {
			return -a
		}
		return a
	}, math.Abs))
	r.Register("gcd", intBinary("gcd", gcd))
	r.Register("lcm", intBinary("lcm", func(a, b int64) int64 {
		if a == 0 || b == 0 {
			return 0
		}
		g := gcd(a, b)
		l := a / g * b
		if l < 0 {
			return -l
		}
		return l
	}))
	r.Register("eq", func(args ...Term) (Term, error) {
		if err := arity("eq", args, 2); err != nil {
			return nil, err
		}
		return Equal(args[0], args[1]), nil
	})
	r.Register("ne", func(args ...Term) (Term, error) {
		if err := arity("ne", args, 2); err != nil {
			return nil, err
		}
		return !Equal(args[0], args[1]), nil
	})
	r.Register("lt", compare("lt", func(c int) bool { return c < 0 }))
	r.Register("le", compare("le", func(c int) bool { return c <= 0 }))
	r.Register("gt", compare("gt", func(c int) bool { return c > 0 }))
	r.Register("ge", compare("ge", func(c int) bool { return c >= 0 }))
	r.Register("and", func(args ...Term) (Term, error) {
		for _, a := range args {
			b, err := Truthy(a)
			if err != nil {
				return nil, err
			}
			if !b {
				return false, nil
			}
		}
		return true, nil
	})
	r.Register("not", func(args ...Term) (Term, error) {
		if err := arity("not", args, 1); err != nil {
			return nil, err
		}
		b, err := Truthy(args[0])
		if err != nil {
			return nil, err
		}
		return !b, nil
	})
	r.Register("concat", func(args ...Term) (Term, error) {
		var b strings.Builder
		for _, a := range args {
			b.WriteString(display(a))
		}
		return b.String(), nil
	})
	r.Register("str", func(args ...Term) (Term, error) {
		if err := arity("str", args, 1); err != nil {
			return nil, err
		}
		return display(args[0]), nil
	})
	r.Register("int", toIntFunc)
	r.Register("identity", func(args ...Term) (Term, error) {
		if err := arity("identity", args, 1); err != nil {
			return nil, err
		}
		return args[0], nil
	})
	return r
}

func arity(name string, args []Term, n int) error {
	if len(args) != n {
		return fmt.Errorf("%w: %s wants %d arguments, got %d", ErrBadArgs, name, n, len(args))
	}
	return nil
}

func arith(name string, fi func(a, b int64) int64, ff func(a, b float64) float64) Func {
	return func(args ...Term) (Term, error) {
		if len(args) < 2 {
			return nil, fmt.Errorf("%w: %s wants at least 2 arguments, got %d", ErrBadArgs, name, len(args))
		}
		if ints, ok := allInts(args); ok {
			acc := ints[0]
			for _, v := range ints[1:] {
				acc = fi(acc, v)
			}
			return acc, nil
		}
		floats, err := allFloats(name, args)
		if err != nil {
			return nil, err
		}
		acc := floats[0]
		for _, v := range floats[1:] {
			acc = ff(acc, v)
		}
		return acc, nil
	}
}

func unaryNum(name string, fi func(int64) int64, ff func(float64) float64) Func {
	return func(args ...Term) (Term, error) {
		if err := arity(name, args, 1); err != nil {
			return nil, err
		}
		if i, ok := toInt(args[0]); ok {
			return fi(i), nil
		}
		if f, ok := toFloat(args[0]); ok {
			return ff(f), nil
		}
		return nil, fmt.Errorf("%w: %s of %T", ErrBadArgs, name, args[0])
	}
}

func intBinary(name string, fn func(a, b int64) int64) Func {
	return func(args ...Term) (Term, error) {
		if err := arity(name, args, 2); err != nil {
			return nil, err
		}
		ints, ok := allInts(args)
		if !ok {
			return nil, fmt.Errorf("%w: %s wants integers", ErrBadArgs, name)
		}
		return fn(ints[0], ints[1]), nil
	}
}

func compare(name string, pred func(int) bool) Func {
	return func(args ...Term) (Term, error) {
		if err := arity(name, args, 2); err != nil {
			return nil, err
		}
		if as, ok := args[0].(string); ok {
			bs, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s of string and %T", ErrBadArgs, name, args[1])
			}
			return pred(strings.Compare(as, bs)), nil
		}
		fs, err := allFloats(name, args)
		if err != nil {
			return nil, err
		}
		switch {
		case fs[0] < fs[1]:
			return pred(-1), nil
		case fs[0] > fs[1]:
			return pred(1), nil
		default:
			return pred(0), nil
		}
	}
}

func divide(args ...Term) (Term, error) {
	if err := arity("div", args, 2); err != nil {
		return nil, err
	}
	if ints, ok := allInts(args); ok {
		if ints[1] == 0 {
			return nil, ErrDivideByZero
		}
		if ints[0]%ints[1] == 0 {
			return ints[0] / ints[1], nil
		}
	}
	fs, err := allFloats("div", args)
	if err != nil {
		return nil, err
	}
	if fs[1] == 0 {
		return nil, ErrDivideByZero
	}
	return fs[0] / fs[1], nil
}

func modulo(args ...Term) (Term, error) {
	if err := arity("mod", args, 2); err != nil {
		return nil, err
	}
	ints, ok := allInts(args)
	if !ok {
		return nil, fmt.Errorf("%w: mod wants integers", ErrBadArgs)
	}
	if ints[1] == 0 {
		return nil, ErrDivideByZero
	}
	return ints[0] % ints[1], nil
}

func toIntFunc(args ...Term) (Term, error) {
	if err := arity("int", args, 1); err != nil {
		return nil, err
	}
	switch v := args[0].(type) {
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadArgs, err)
		}
		return i, nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	}
	if i, ok := toInt(args[0]); ok {
		return i, nil
	}
	if f, ok := toFloat(args[0]); ok {
		return int64(math.Trunc(f)), nil
	}
	return nil, fmt.Errorf("%w: int of %T", ErrBadArgs, args[0])
}

func gcd(a, b int64) int64 {
	if a < 0 {
		a = -a
	}
	if b < 0 {
		b = -b
	}
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// -----------------------------------------------------------------------------
// Numeric conversion
// -----------------------------------------------------------------------------

func toInt(t Term) (int64, bool) {
	switch v := t.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	}
	return 0, false
}

func toFloat(t Term) (float64, bool) {
	if i, ok := toInt(t); ok {
		return float64(i), true
	}
	switch v := t.(type) {
	case float32:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func allInts(args []Term) ([]int64, bool) {
	out := make([]int64, len(args))
	for i, a := range args {
		v, ok := toInt(a)
		if !ok {
			return nil, false
		}
		out[i] = v
	}
	return out, true
}

func allFloats(name string, args []Term) ([]float64, error) {
	out := make([]float64, len(args))
	for i, a := range args {
		v, ok := toFloat(a)
		if !ok {
			return nil, fmt.Errorf("%w: %s of %T", ErrBadArgs, name, a)
		}
		out[i] = v
	}
	return out, nil
}

// Number converts a numeric term to float64.
func Number(t Term) (float64, bool) {
	return toFloat(t)
}

// Integer converts an integral term to int64. Floats with no fractional
// part are accepted.
func Integer(t Term) (int64, bool) {
	if i, ok := toInt(t); ok {
		return i, true
	}
	if f, ok := toFloat(t); ok && f == math.Trunc(f) && !math.IsInf(f, 0) {
		return int64(f), true
	}
	return 0, false
}

func display(t Term) string {
	if s, ok := t.(string); ok {
		return s
	}
	if f, ok := toFloat(t); ok {
		return formatNumber(f, t)
	}
	return Key(t)
}

// Display renders t for humans: strings unquoted, numbers normalized.
func Display(t Term) string {
	return display(t)
}
