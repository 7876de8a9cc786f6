/*
 * Copyright (c) 2023. Monimoto Authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package dependency models the declarative predicates a Watch attaches
// to its change-stream filter: restricting operation types, requiring a
// key to exist or equal a value, and requiring an upstream process to
// have completed.
package dependency

import (
	"github.com/Immowelt/MongoProcessing/filter"
	"github.com/Immowelt/MongoProcessing/logging"
)

// Dependency is a predicate contributing to a watch's match filter for a
// given operation type. OperationTypes restricts which operation types the
// dependency applies to; Contribute mutates the filter-builder context.
// Contribute does not check opType against OperationTypes itself:
// Multiple.Contribute only calls it for children whose operation types
// include the worker's operation type.
type Dependency interface {
	OperationTypes() []string
	Contribute(name, opType string, ctx *filter.Context)
}

func containsOpType(opTypes []string, opType string) bool {
	for _, t := range opTypes {
		if t == opType {
			return true
		}
	}
	return false
}

// OperationTypeDep restricts which change-stream operation types a watch
// consumes. It contributes nothing to the match document itself.
type OperationTypeDep struct {
	opTypes []string
}

// OperationType creates a dependency that only restricts operation types.
func OperationType(opTypes ...string) *OperationTypeDep {
	return &OperationTypeDep{opTypes: opTypes}
}

func (d *OperationTypeDep) OperationTypes() []string { return d.opTypes }

func (d *OperationTypeDep) Contribute(name, opType string, ctx *filter.Context) {
	// deliberately a no-op: it only narrows which operation types are watched
}

// RequiredKeyDep requires that fullDocument.<key> exists on the post-image.
type RequiredKeyDep struct {
	key     string
	opTypes []string
}

// RequiredKey creates a dependency requiring a top-level document key to exist.
func RequiredKey(key string, opTypes ...string) *RequiredKeyDep {
	return &RequiredKeyDep{key: key, opTypes: opTypes}
}

func (d *RequiredKeyDep) OperationTypes() []string { return d.opTypes }

func (d *RequiredKeyDep) Contribute(name, opType string, ctx *filter.Context) {
	ctx.RequireExists("fullDocument." + d.key)
}

// KeyValueDep requires that fullDocument.<key> equals a literal value.
type KeyValueDep struct {
	key     string
	value   interface{}
	opTypes []string
}

// KeyValue creates a dependency requiring a top-level document key to equal value.
func KeyValue(key string, value interface{}, opTypes ...string) *KeyValueDep {
	return &KeyValueDep{key: key, value: value, opTypes: opTypes}
}

func (d *KeyValueDep) OperationTypes() []string { return d.opTypes }

func (d *KeyValueDep) Contribute(name, opType string, ctx *filter.Context) {
	ctx.RequireEqual("fullDocument."+d.key, d.value)
}

// ProcessOption configures a ProcessDep at construction time.
type ProcessOption func(*ProcessDep)

// WithOperationTypes overrides the default ["update"] operation types.
func WithOperationTypes(opTypes ...string) ProcessOption {
	return func(p *ProcessDep) { p.opTypes = opTypes }
}

// WithTriggerIfRerun overrides the default true.
func WithTriggerIfRerun(trigger bool) ProcessOption {
	return func(p *ProcessDep) { p.triggerIfRerun = trigger }
}

// WithRequiredResults lists result keys that must exist under the upstream process.
func WithRequiredResults(results ...string) ProcessOption {
	return func(p *ProcessDep) { p.requiredResults = results }
}

// ProcessDep requires that an upstream process has completed successfully,
// optionally with specific result keys present, and optionally re-triggers
// the downstream process when the upstream one reruns.
type ProcessDep struct {
	processName     string
	opTypes         []string
	triggerIfRerun  bool
	requiredResults []string
}

// Process creates a dependency on processName having completed
// successfully, defaulting to operation types ["update"] and
// triggerIfRerun true.
func Process(processName string, opts ...ProcessOption) *ProcessDep {
	p := &ProcessDep{
		processName:    processName,
		opTypes:        []string{"update"},
		triggerIfRerun: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (d *ProcessDep) OperationTypes() []string { return d.opTypes }

// Contribute threads opType through explicitly rather than reading it off
// a dependency-level field, so a composite dependency always gates on the
// operation type the worker is actually compiling for.
func (d *ProcessDep) Contribute(name, opType string, ctx *filter.Context) {
	ctx.RequireEqual("fullDocument."+d.processName+".success", true)

	if opType == "update" {
		ctx.AddTransitionClause(filter.DotPathWorkaround(d.processName+".success", true))
	}

	for _, result := range d.requiredResults {
		ctx.RequireExists("fullDocument." + d.processName + "." + result)
	}

	if d.triggerIfRerun {
		ctx.AddRerunClause(d.processName, name)
	}
}

// Multiple is a composite dependency that fans out to its children,
// contributing only the children applicable to the worker's operation type.
type Multiple struct {
	children []Dependency
}

// NewMultiple builds a composite from zero or more dependencies.
func NewMultiple(deps ...Dependency) *Multiple {
	m := &Multiple{}
	for _, d := range deps {
		m.Add(d)
	}
	return m
}

// Add appends a dependency, warning if the combined operation types mix
// update and replace (a replace event erases in-flight status subtrees).
func (m *Multiple) Add(d Dependency) {
	m.children = append(m.children, d)

	types := m.OperationTypes()
	hasUpdate, hasReplace := false, false
	for _, t := range types {
		if t == "update" {
			hasUpdate = true
		}
		if t == "replace" {
			hasReplace = true
		}
	}
	if hasUpdate && hasReplace {
		logging.Log().Warn("watch contains both update and replace dependencies which can lead to data loss")
	}
}

// Len reports the number of direct children.
func (m *Multiple) Len() int { return len(m.children) }

// OperationTypes returns the union of all children's operation types.
func (m *Multiple) OperationTypes() []string {
	seen := map[string]bool{}
	var out []string
	for _, child := range m.children {
		for _, t := range child.OperationTypes() {
			if !seen[t] {
				seen[t] = true
				out = append(out, t)
			}
		}
	}
	return out
}

func (m *Multiple) Contribute(name, opType string, ctx *filter.Context) {
	for _, child := range m.children {
		if containsOpType(child.OperationTypes(), opType) {
			child.Contribute(name, opType, ctx)
		}
	}
}

var _ Dependency = (*OperationTypeDep)(nil)
var _ Dependency = (*RequiredKeyDep)(nil)
var _ Dependency = (*KeyValueDep)(nil)
var _ Dependency = (*ProcessDep)(nil)
var _ Dependency = (*Multiple)(nil)
