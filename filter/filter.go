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

// Package filter builds MongoDB change-stream match documents as an
// abstract tree and serializes them to bson.D at the Compile boundary,
// keeping the dotted-field-name workaround isolated to a single node
// constructor.
package filter

import (
	"go.mongodb.org/mongo-driver/bson"
)

// Context accumulates a single worker's contributions while dependencies
// walk the dependency tree. It separates three layers: flat
// equality/existence constraints, extra $and clauses (the update-
// transition dot-path workaround), and extra $or clauses (the rerun
// disjunction, alongside the mandatory first-run clause).
type Context struct {
	equality   bson.D
	andClauses []bson.D
	orClauses  []bson.D
}

// RequireExists adds a <path>: {$exists: true} constraint. path is used
// as given, so callers include the "fullDocument." prefix themselves.
func (c *Context) RequireExists(path string) {
	c.equality = append(c.equality, bson.E{Key: path, Value: bson.D{{Key: "$exists", Value: true}}})
}

// RequireEqual adds a <path>: value constraint, with path used as given.
func (c *Context) RequireEqual(path string, value interface{}) {
	c.equality = append(c.equality, bson.E{Key: path, Value: value})
}

// AddTransitionClause appends an extra $and clause (the update-transition
// dot-path workaround, emitted once per ProcessDependency when the
// worker's operation type is "update").
func (c *Context) AddTransitionClause(clause bson.D) {
	c.andClauses = append(c.andClauses, clause)
}

// AddRerunClause appends a rerun $expr clause to the first-run/rerun
// disjunction: the dependency processName was re-run (both endTime and
// startTime strictly greater) after the current process name.
func (c *Context) AddRerunClause(dependencyProcessName, name string) {
	c.orClauses = append(c.orClauses, bson.D{
		{Key: "$expr", Value: bson.D{
			{Key: "$and", Value: bson.A{
				bson.D{{Key: "$gt", Value: bson.A{
					"$fullDocument." + dependencyProcessName + ".endTime",
					"$fullDocument." + name + ".endTime",
				}}},
				bson.D{{Key: "$gt", Value: bson.A{
					"$fullDocument." + dependencyProcessName + ".startTime",
					"$fullDocument." + name + ".startTime",
				}}},
			}},
		}},
	})
}

// DotPathWorkaround handles the fact that MongoDB's query language does
// not allow a literal '.' in a field name when matching
// updateDescription.updatedFields.<process>.success: it emits an $or of
// two equivalent expressions, a direct key match, and an $expr that
// converts updatedFields to an array of {k, v} pairs and filters for
// k == field.
func DotPathWorkaround(field string, value interface{}) bson.D {
	return bson.D{
		{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "$expr", Value: bson.D{
					{Key: "$eq", Value: bson.A{
						bson.D{
							{Key: "$let", Value: bson.D{
								{Key: "vars", Value: bson.D{
									{Key: "foo", Value: bson.D{
										{Key: "$arrayElemAt", Value: bson.A{
											bson.D{
												{Key: "$filter", Value: bson.D{
													{Key: "input", Value: bson.D{
														{Key: "$objectToArray", Value: "$updateDescription.updatedFields"},
													}},
													{Key: "cond", Value: bson.D{
														{Key: "$eq", Value: bson.A{field, "$$this.k"}},
													}},
												}},
											},
											0,
										}},
									}},
								}},
								{Key: "in", Value: "$$foo.v"},
							}},
						},
						value,
					}},
				}},
			},
			bson.D{{Key: "updateDescription.updatedFields." + field, Value: value}},
		}},
	}
}

// Compile turns the contributions collected in ctx into the single match
// document for one operation type. name is the process name the worker
// belongs to.
func Compile(name, opType string, ctx *Context) bson.D {
	match := bson.D{{Key: "operationType", Value: opType}}
	match = append(match, ctx.equality...)

	orFilters := bson.A{
		bson.D{{Key: "fullDocument." + name, Value: bson.D{{Key: "$exists", Value: false}}}},
	}
	for _, clause := range ctx.orClauses {
		orFilters = append(orFilters, clause)
	}

	andList := bson.A{}
	for _, clause := range ctx.andClauses {
		andList = append(andList, clause)
	}
	andList = append(andList, bson.D{{Key: "$or", Value: orFilters}})

	match = append(match, bson.E{Key: "$and", Value: andList})

	return match
}
