// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package domainfile loads planning domains and problems from YAML.
//
// A domain file lists operators, methods, axioms and legacy entries:
//
//	name: fraction
//	operators:
//	  - name: intMult
//	    params: ["?x", "?y", "?z"]
//	    pre:
//	      - {field: "?x", value: "?vx"}
//	      - {field: "?y", value: "?vy"}
//	    add:
//	      - {field: "?z", value: {call: mul, args: ["?vx", "?vy"]}}
//	    cost: 1
//	methods:
//	  - name: fracAdd
//	    branches:
//	      - name: cross_multiply
//	        pre: ...
//	        subtasks:
//	          unordered: [...]
//
// A problem file holds the initial state, the task network and an optional
// goal fact for interactive sessions:
//
//	domain: fraction.yaml
//	state:
//	  - {field: xn, value: 1}
//	tasks:
//	  - {task: fracAdd, args: [xn, yn, xd, yd]}
//	goal: {value: done}
//
// The generic decoders (DecodeFact, DecodeFacts, DecodeNetwork) accept the
// same shapes after JSON decoding, which is how the HTTP API reads
// requests.
package domainfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/tasknet"
)

// MaxYAMLFileSize bounds domain and problem files.
const MaxYAMLFileSize = 4 * 1024 * 1024

var (
	// ErrInvalidDocument means a document has the wrong shape.
	ErrInvalidDocument = errors.New("invalid document")

	// ErrNotGround means a state fact contains a variable or expression.
	ErrNotGround = errors.New("state fact is not ground")

	// ErrFileTooLarge means a file exceeds MaxYAMLFileSize.
	ErrFileTooLarge = errors.New("file too large")

	// ErrNoDomain means a problem file names no domain and none was given.
	ErrNoDomain = errors.New("no domain file")
)

// ParseError locates a decoding failure inside a document.
type ParseError struct {
	File string
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	loc := trimPath(e.Path)
	switch {
	case e.File != "" && loc != "":
		return e.File + ": " + loc + ": " + e.Err.Error()
	case e.File != "":
		return e.File + ": " + e.Err.Error()
	case loc != "":
		return loc + ": " + e.Err.Error()
	}
	return e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// -----------------------------------------------------------------------------
// Document shapes
// -----------------------------------------------------------------------------

// DomainYAML is the top level of a domain file.
type DomainYAML struct {
	Name      string         `yaml:"name"`
	Operators []OperatorYAML `yaml:"operators"`
	Methods   []MethodYAML   `yaml:"methods"`
	Axioms    []AxiomYAML    `yaml:"axioms"`
	Legacy    []LegacyYAML   `yaml:"legacy,omitempty"`
}

// OperatorYAML describes an operator.
type OperatorYAML struct {
	Name   string  `yaml:"name"`
	Params any     `yaml:"params"`
	Pre    any     `yaml:"pre"`
	Add    any     `yaml:"add"`
	Del    any     `yaml:"del"`
	Cost   float64 `yaml:"cost"`
}

// MethodYAML describes a method. Pre and Subtasks are shorthand for a
// single unnamed branch.
type MethodYAML struct {
	Name     string       `yaml:"name"`
	Params   any          `yaml:"params"`
	Branches []BranchYAML `yaml:"branches"`
	Pre      any          `yaml:"pre,omitempty"`
	Subtasks any          `yaml:"subtasks,omitempty"`
}

// BranchYAML is one method alternative.
type BranchYAML struct {
	Name     string `yaml:"name"`
	Pre      any    `yaml:"pre"`
	Subtasks any    `yaml:"subtasks"`
}

// AxiomYAML derives a fact wherever When holds.
type AxiomYAML struct {
	Name   string `yaml:"name"`
	When   any    `yaml:"when"`
	Derive any    `yaml:"derive"`
}

// LegacyYAML binds a plain task name to exactly one operator or method.
type LegacyYAML struct {
	Name     string        `yaml:"name"`
	Operator *OperatorYAML `yaml:"operator,omitempty"`
	Method   *MethodYAML   `yaml:"method,omitempty"`
}

// ProblemYAML is the top level of a problem file.
type ProblemYAML struct {
	Name   string `yaml:"name"`
	Domain string `yaml:"domain"`
	State  any    `yaml:"state"`
	Tasks  any    `yaml:"tasks"`
	Goal   any    `yaml:"goal"`
}

// Problem is a decoded problem file.
type Problem struct {
	Name string

	// Domain is the domain path as written in the file.
	Domain string

	State *cond.State
	Tasks *tasknet.Node

	// Goal is nil when the file has none.
	Goal cond.Fact
}

// -----------------------------------------------------------------------------
// Parsing
// -----------------------------------------------------------------------------

// ParseDomain decodes a domain document.
//
// Description:
//
//	Operators are read first so that subtasks without an explicit
//	primitive flag can be classified by name. After decoding, every
//	subtask reference is resolved and reference errors are reported
//	together.
//
// Outputs:
//
//	*domain.Domain - The domain.
//	error - *ParseError wrapping ErrInvalidDocument, a YAML error, or the
//	        joined domain lookup errors.
func ParseDomain(data []byte) (*domain.Domain, error) {
	var doc DomainYAML
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return BuildDomain(doc)
}

// BuildDomain converts a decoded document into a domain.
func BuildDomain(doc DomainYAML) (*domain.Domain, error) {
	name := doc.Name
	if name == "" {
		name = "domain"
	}

	primitives := make(map[string]bool)
	for _, op := range doc.Operators {
		primitives[op.Name] = true
	}
	for _, l := range doc.Legacy {
		if l.Operator != nil {
			primitives[l.Name] = true
		}
	}

	dec := newDecoder(primitives)
	d := domain.New(name)
	for i, o := range doc.Operators {
		op, err := dec.operator(o, indexPath("operators", i))
		if err != nil {
			return nil, err
		}
		d.Add(op)
	}
	for i, m := range doc.Methods {
		method, err := dec.method(m, indexPath("methods", i))
		if err != nil {
			return nil, err
		}
		d.Add(method)
	}
	for i, a := range doc.Axioms {
		ax, err := dec.axiom(a, indexPath("axioms", i))
		if err != nil {
			return nil, err
		}
		d.AddAxioms(ax)
	}
	for i, l := range doc.Legacy {
		if err := addLegacy(dec, d, l, indexPath("legacy", i)); err != nil {
			return nil, err
		}
	}

	if err := d.CheckReferences(); err != nil {
		return nil, &ParseError{Err: err}
	}
	return d, nil
}

func addLegacy(dec *decoder, d *domain.Domain, l LegacyYAML, path string) error {
	if l.Name == "" {
		return dec.errorf(path+".name", "legacy entry needs a name")
	}
	var e domain.Entity
	var err error
	switch {
	case l.Operator != nil && l.Method != nil:
		return dec.errorf(path, "legacy %q has both an operator and a method", l.Name)
	case l.Operator != nil:
		op := *l.Operator
		if op.Name == "" {
			op.Name = l.Name
		}
		e, err = dec.operator(op, path+".operator")
	case l.Method != nil:
		m := *l.Method
		if m.Name == "" {
			m.Name = l.Name
		}
		e, err = dec.method(m, path+".method")
	default:
		return dec.errorf(path, "legacy %q needs an operator or a method", l.Name)
	}
	if err != nil {
		return err
	}
	if err := d.AddLegacy(l.Name, e); err != nil {
		return &ParseError{Path: path, Err: err}
	}
	return nil
}

// ParseProblem decodes a problem document against d. Tasks without an
// explicit primitive flag are classified by d, and every task must resolve.
func ParseProblem(data []byte, d *domain.Domain) (*Problem, error) {
	var doc ProblemYAML
	if err := unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return BuildProblem(doc, d)
}

// BuildProblem converts a decoded problem document.
func BuildProblem(doc ProblemYAML, d *domain.Domain) (*Problem, error) {
	dec := newDecoder(d.PrimitiveNames())
	facts, err := dec.groundFacts(doc.State, "state")
	if err != nil {
		return nil, err
	}
	tasks, err := dec.network(doc.Tasks, "tasks")
	if err != nil {
		return nil, err
	}
	if err := d.Check(tasks); err != nil {
		return nil, &ParseError{Path: "tasks", Err: err}
	}
	p := &Problem{
		Name:   doc.Name,
		Domain: doc.Domain,
		State:  cond.NewState(facts...),
		Tasks:  tasks,
	}
	if doc.Goal != nil {
		if p.Goal, err = dec.fact(doc.Goal, "goal"); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// -----------------------------------------------------------------------------
// Files
// -----------------------------------------------------------------------------

// LoadDomain reads and parses a domain file.
func LoadDomain(path string) (*domain.Domain, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	d, err := ParseDomain(data)
	return d, withFile(err, path)
}

// LoadProblem reads and parses a problem file against d.
func LoadProblem(path string, d *domain.Domain) (*Problem, error) {
	data, err := readFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParseProblem(data, d)
	return p, withFile(err, path)
}

// Load reads a problem file and its domain. domainPath overrides the
// problem's own domain entry; a relative domain entry is resolved against
// the problem file's directory.
func Load(problemPath, domainPath string) (*domain.Domain, *Problem, error) {
	data, err := readFile(problemPath)
	if err != nil {
		return nil, nil, err
	}
	var doc ProblemYAML
	if err := unmarshal(data, &doc); err != nil {
		return nil, nil, withFile(err, problemPath)
	}

	if domainPath == "" {
		if doc.Domain == "" {
			return nil, nil, &ParseError{File: problemPath, Path: "domain", Err: ErrNoDomain}
		}
		domainPath = doc.Domain
		if !filepath.IsAbs(domainPath) {
			domainPath = filepath.Join(filepath.Dir(problemPath), domainPath)
		}
	}

	d, err := LoadDomain(domainPath)
	if err != nil {
		return nil, nil, err
	}
	p, err := BuildProblem(doc, d)
	if err != nil {
		return nil, nil, withFile(err, problemPath)
	}
	return d, p, nil
}

func unmarshal(data []byte, out any) error {
	if err := yaml.Unmarshal(data, out); err != nil {
		return &ParseError{Err: fmt.Errorf("%w: %v", ErrInvalidDocument, err)}
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.Size() > MaxYAMLFileSize {
		return nil, &ParseError{File: path, Err: fmt.Errorf("%w: %d bytes (max %d)", ErrFileTooLarge, info.Size(), MaxYAMLFileSize)}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func withFile(err error, path string) error {
	if err == nil {
		return nil
	}
	var pe *ParseError
	if errors.As(err, &pe) && pe.File == "" {
		pe.File = path
	}
	return err
}

// -----------------------------------------------------------------------------
// Generic decoders
// -----------------------------------------------------------------------------

// DecodeFact decodes one fact pattern. Variables are allowed.
func DecodeFact(v any) (cond.Fact, error) {
	return newDecoder(nil).fact(v, "")
}

// DecodeFacts decodes a list of ground facts.
func DecodeFacts(v any) ([]cond.Fact, error) {
	return newDecoder(nil).groundFacts(v, "")
}

// DecodeNetwork decodes a task structure, classifying tasks by d.
func DecodeNetwork(v any, d *domain.Domain) (*tasknet.Node, error) {
	n, err := newDecoder(d.PrimitiveNames()).network(v, "")
	if err != nil {
		return nil, err
	}
	if err := d.Check(n); err != nil {
		return nil, err
	}
	return n, nil
}

// DecodeCondition decodes a condition tree.
func DecodeCondition(v any) (cond.Condition, error) {
	return newDecoder(nil).condition(v, "")
}
