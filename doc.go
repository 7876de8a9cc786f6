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

// Package mongoprocessing composes data-processing pipelines on top of a
// MongoDB collection's change stream. Callers register named processes,
// each attached to a watch.Watch that reacts to document changes; when a
// change matches the watch's compiled filter, the library runs the
// caller's acknowledge/process callbacks against the current document and
// writes per-process status and results back into that same document.
// Processes form a DAG by declaring dependency.Process dependencies: one
// process triggers only once another has written results, and may
// re-trigger when the upstream process re-runs.
//
// See repository for the database adapter, dependency and filter for the
// watch-filter compiler, worker for the per-stream consumer runtime, and
// watch for the orchestrator tying them together.
package mongoprocessing
