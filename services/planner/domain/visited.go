// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/AleutianAI/AleutianHTN/services/planner/cond"
)

// Visited records method decisions already taken, keyed by branch, state
// and decomposition trail.
type Visited struct {
	seen map[string]struct{}
}

// NewVisited returns an empty memo.
func NewVisited() *Visited {
	return &Visited{seen: make(map[string]struct{})}
}

// Seen reports whether key was marked. A nil memo has seen nothing.
func (v *Visited) Seen(key string) bool {
	if v == nil {
		return false
	}
	_, ok := v.seen[key]
	return ok
}

// Mark records key. Marking through a nil memo is a no-op.
func (v *Visited) Mark(key string) {
	if v == nil {
		return
	}
	v.seen[key] = struct{}{}
}

// Len returns the number of recorded decisions.
func (v *Visited) Len() int {
	if v == nil {
		return 0
	}
	return len(v.seen)
}

// Clone returns an independent copy.
func (v *Visited) Clone() *Visited {
	out := NewVisited()
	if v == nil {
		return out
	}
	for k := range v.seen {
		out.seen[k] = struct{}{}
	}
	return out
}

// VisitKey identifies one method decision. The state fingerprint and trail
// are hashed to keep the memo compact.
func VisitKey(method string, branch int, st *cond.State, trail string) string {
	h := sha256.New()
	h.Write([]byte(st.Key()))
	h.Write([]byte{0})
	h.Write([]byte(trail))
	return method + "#" + strconv.Itoa(branch) + "@" + hex.EncodeToString(h.Sum(nil))
}
