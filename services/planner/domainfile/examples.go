// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domainfile

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/AleutianAI/AleutianHTN/services/planner/domain"
)

//go:embed examples/*.yaml
var examplesFS embed.FS

// ErrUnknownExample is returned by Example for names not in Examples().
var ErrUnknownExample = errors.New("unknown example")

// Examples returns the names of the bundled example problems.
func Examples() []string {
	entries, _ := fs.ReadDir(examplesFS, "examples")
	var names []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), "_problem.yaml"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Example loads a bundled problem and its domain by name, e.g. "fraction"
// or "fraction_tutor".
func Example(name string) (*domain.Domain, *Problem, error) {
	file := path.Join("examples", name+"_problem.yaml")
	data, err := examplesFS.ReadFile(file)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q (have %s)", ErrUnknownExample, name, strings.Join(Examples(), ", "))
	}
	var doc ProblemYAML
	if err := unmarshal(data, &doc); err != nil {
		return nil, nil, withFile(err, file)
	}

	domainFile := path.Join("examples", doc.Domain)
	domainData, err := examplesFS.ReadFile(domainFile)
	if err != nil {
		return nil, nil, &ParseError{File: file, Path: "domain", Err: err}
	}
	d, err := ParseDomain(domainData)
	if err != nil {
		return nil, nil, withFile(err, domainFile)
	}
	p, err := BuildProblem(doc, d)
	if err != nil {
		return nil, nil, withFile(err, file)
	}
	return d, p, nil
}
