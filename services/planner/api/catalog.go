// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package api

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
	"github.com/AleutianAI/AleutianHTN/services/planner/domainfile"
)

var (
	// ErrUnknownDomain means no catalog domain has the requested name.
	ErrUnknownDomain = errors.New("unknown domain")

	// ErrUnknownProblem means no catalog problem has the requested name.
	ErrUnknownProblem = errors.New("unknown problem")
)

// problemSuffix marks problem files, which the catalog never loads as
// domains.
const problemSuffix = "_problem.yaml"

type catalogProblem struct {
	domain  string
	problem *domainfile.Problem
}

// DomainInfo describes one catalog domain.
type DomainInfo struct {
	Name   string   `json:"name"`
	Source string   `json:"source"`
	Keys   []string `json:"keys"`
}

// Catalog holds the named domains and problems the server can plan
// against. Bundled examples are always present. Domain files from a
// watched directory are added, replaced and removed while serving.
//
// Thread Safety: Safe for concurrent use.
type Catalog struct {
	mu       sync.RWMutex
	domains  map[string]*domain.Domain
	sources  map[string]string
	problems map[string]catalogProblem
	examples map[string]*domain.Domain

	// files maps a loaded path to the domain name it defined.
	files map[string]string
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		domains:  make(map[string]*domain.Domain),
		sources:  make(map[string]string),
		problems: make(map[string]catalogProblem),
		examples: make(map[string]*domain.Domain),
		files:    make(map[string]string),
	}
}

// LoadExamples adds every bundled example problem and its domain.
func (c *Catalog) LoadExamples() error {
	for _, name := range domainfile.Examples() {
		d, p, err := domainfile.Example(name)
		if err != nil {
			return fmt.Errorf("load example %s: %w", name, err)
		}
		c.mu.Lock()
		c.domains[d.Name] = d
		c.examples[d.Name] = d
		c.sources[d.Name] = "example"
		c.problems[name] = catalogProblem{domain: d.Name, problem: p}
		c.mu.Unlock()
	}
	return nil
}

// Put registers d under its name, replacing any previous domain.
func (c *Catalog) Put(d *domain.Domain, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.domains[d.Name] = d
	c.sources[d.Name] = source
}

// Domain returns the domain named name.
func (c *Catalog) Domain(name string) (*domain.Domain, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.domains[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return d, nil
}

// Problem returns the problem named name together with its domain.
func (c *Catalog) Problem(name string) (*domain.Domain, *domainfile.Problem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp, ok := c.problems[name]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q", ErrUnknownProblem, name)
	}
	d, ok := c.domains[cp.domain]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q (problem %s)", ErrUnknownDomain, cp.domain, name)
	}
	return d, cp.problem, nil
}

// Domains lists the catalog, sorted by name.
func (c *Catalog) Domains() []DomainInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DomainInfo, 0, len(c.domains))
	for name, d := range c.domains {
		out = append(out, DomainInfo{Name: name, Source: c.sources[name], Keys: d.Keys()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Problems lists the problem names, sorted.
func (c *Catalog) Problems() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.problems))
	for name := range c.problems {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of domains.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.domains)
}

// LoadFile parses the domain file at path and registers it. A file that
// previously defined a different name has that name removed.
func (c *Catalog) LoadFile(path string) (string, error) {
	d, err := domainfile.LoadDomain(path)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.files[path]; ok && old != d.Name {
		c.dropLocked(old)
	}
	c.files[path] = d.Name
	c.domains[d.Name] = d
	c.sources[d.Name] = path
	return d.Name, nil
}

// RemoveFile drops the domain that path defined, if any.
func (c *Catalog) RemoveFile(path string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	name, ok := c.files[path]
	if !ok {
		return "", false
	}
	delete(c.files, path)
	c.dropLocked(name)
	return name, true
}

// dropLocked removes name unless another file still defines it. A
// shadowed example comes back.
func (c *Catalog) dropLocked(name string) {
	for _, n := range c.files {
		if n == name {
			return
		}
	}
	if ex, ok := c.examples[name]; ok {
		c.domains[name] = ex
		c.sources[name] = "example"
		return
	}
	delete(c.domains, name)
	delete(c.sources, name)
}

// LoadDir loads every domain file directly under dir. Files that fail to
// parse are reported together; the rest stay loaded.
func (c *Catalog) LoadDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read domain dir: %w", err)
	}
	var errs []error
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if e.IsDir() || !isDomainFile(path) {
			continue
		}
		if _, err := c.LoadFile(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func isDomainFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, problemSuffix) {
		return false
	}
	ext := filepath.Ext(base)
	return ext == ".yaml" || ext == ".yml"
}
