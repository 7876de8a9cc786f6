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

package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
)

func findEntry(d bson.D, key string) (bson.E, bool) {
	for _, e := range d {
		if e.Key == key {
			return e, true
		}
	}
	return bson.E{}, false
}

// Test_Compile_NoDependencies_FirstRunClause: with no process dependency
// and op type insert, the filter contains operationType: insert and the
// first-run clause inside its $or.
func Test_Compile_NoDependencies_FirstRunClause(t *testing.T) {
	ctx := &Context{}
	match := Compile("one", "insert", ctx)

	opType, ok := findEntry(match, "operationType")
	assert.True(t, ok)
	assert.Equal(t, "insert", opType.Value)

	and, ok := findEntry(match, "$and")
	assert.True(t, ok)
	andList := and.Value.(bson.A)
	or := andList[len(andList)-1].(bson.D)
	orEntry, ok := findEntry(or, "$or")
	assert.True(t, ok)
	orList := orEntry.Value.(bson.A)
	firstRun := orList[0].(bson.D)
	_, exists := findEntry(firstRun, "fullDocument.one")
	assert.True(t, exists)
}

// Test_Compile_RequiredResults: for a process dependency with required
// results, the filter requires each to exist.
func Test_Compile_RequiredResults(t *testing.T) {
	ctx := &Context{}
	ctx.RequireEqual("fullDocument.two.success", true)
	ctx.RequireExists("fullDocument.two.c")

	match := Compile("three", "update", ctx)

	_, ok := findEntry(match, "fullDocument.two.c")
	assert.True(t, ok)
	entry, _ := findEntry(match, "fullDocument.two.c")
	assert.Equal(t, bson.D{{Key: "$exists", Value: true}}, entry.Value)
}

// Test_Compile_RerunClause_OnlyWhenRequested: the rerun $expr clause is
// present iff at least one dependency requested it.
func Test_Compile_RerunClause_OnlyWhenRequested(t *testing.T) {
	without := &Context{}
	matchWithout := Compile("two", "update", without)
	andWithout, _ := findEntry(matchWithout, "$and")
	orWithout, _ := findEntry(andWithout.Value.(bson.A)[0].(bson.D), "$or")
	assert.Len(t, orWithout.Value.(bson.A), 1, "no rerun clause expected")

	with := &Context{}
	with.AddRerunClause("one", "two")
	matchWith := Compile("two", "update", with)
	andWith, _ := findEntry(matchWith, "$and")
	orWith, _ := findEntry(andWith.Value.(bson.A)[0].(bson.D), "$or")
	assert.Len(t, orWith.Value.(bson.A), 2, "rerun clause expected alongside first-run clause")
}

// Test_Compile_DotPathWorkaround_OnlyOnUpdate: a contributed dot-path
// workaround clause is carried into $and ahead of the or-disjunction, and
// an insert compile with no contributions has only the or-disjunction.
// Compile itself does not check opType; ProcessDep.Contribute only adds
// the clause for "update".
func Test_Compile_DotPathWorkaround_OnlyOnUpdate(t *testing.T) {
	ctx := &Context{}
	ctx.AddTransitionClause(DotPathWorkaround("one.success", true))

	matchUpdate := Compile("two", "update", ctx)
	andUpdate, _ := findEntry(matchUpdate, "$and")
	assert.Len(t, andUpdate.Value.(bson.A), 2, "transition clause plus the or-disjunction")

	emptyCtx := &Context{}
	matchInsert := Compile("two", "insert", emptyCtx)
	andInsert, _ := findEntry(matchInsert, "$and")
	assert.Len(t, andInsert.Value.(bson.A), 1, "only the or-disjunction, no transition clause")
}

func Test_DotPathWorkaround_Shape(t *testing.T) {
	clause := DotPathWorkaround("one.success", true)
	orEntry, ok := findEntry(clause, "$or")
	assert.True(t, ok)
	orList := orEntry.Value.(bson.A)
	assert.Len(t, orList, 2)

	direct := orList[1].(bson.D)
	_, ok = findEntry(direct, "updateDescription.updatedFields.one.success")
	assert.True(t, ok)
}
