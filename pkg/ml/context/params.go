// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package context

import (
	"maps"
	"slices"
	"strings"
)

// scopedParams maps (scope, key) to arbitrary values. Lookups fall back to the parent scopes,
// up to the root: with {"/": {"x": 10}, "/a": {"x": 20}}, Get("/a/b", "x") returns 20 and
// Get("/c", "x") returns 10.
type scopedParams struct {
	scopeToMap map[string]map[string]any
}

func newScopedParams() *scopedParams {
	return &scopedParams{scopeToMap: make(map[string]map[string]any)}
}

func (p *scopedParams) clone() *scopedParams {
	newP := newScopedParams()
	for scope, dataMap := range p.scopeToMap {
		newP.scopeToMap[scope] = maps.Clone(dataMap)
	}
	return newP
}

func (p *scopedParams) set(scope, key string, value any) {
	dataMap, found := p.scopeToMap[scope]
	if !found {
		dataMap = make(map[string]any)
		p.scopeToMap[scope] = dataMap
	}
	dataMap[key] = value
}

// get searches key in scope, and then successively in its parent scopes.
func (p *scopedParams) get(scope, key string) (value any, found bool) {
	for {
		if dataMap, ok := p.scopeToMap[scope]; ok {
			if value, found = dataMap[key]; found {
				return
			}
		}
		if scope == RootScope {
			return nil, false
		}
		scope = parentScope(scope)
	}
}

// enumerate calls fn for every value set, sorted by scope and then key.
func (p *scopedParams) enumerate(fn func(scope, key string, value any)) {
	for _, scope := range slices.Sorted(maps.Keys(p.scopeToMap)) {
		dataMap := p.scopeToMap[scope]
		for _, key := range slices.Sorted(maps.Keys(dataMap)) {
			fn(scope, key, dataMap[key])
		}
	}
}

// parentScope of an absolute scope path. The parent of a top-level scope ("/a") is the RootScope.
func parentScope(scope string) string {
	idx := strings.LastIndex(scope, ScopeSeparator)
	if idx <= 0 {
		return RootScope
	}
	return scope[:idx]
}
