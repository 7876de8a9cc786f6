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

// Package watch is the orchestrator tying a repository, a set of
// dependencies and a pool of workers together: it groups dependencies,
// compiles a change-stream filter per operation type, owns a set of
// Workers keyed by process name and operation type, and fans start/stop
// out across them.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cenkalti/backoff/v4"

	"github.com/Immowelt/MongoProcessing/dependency"
	"github.com/Immowelt/MongoProcessing/filter"
	"github.com/Immowelt/MongoProcessing/logging"
	"github.com/Immowelt/MongoProcessing/repository"
	"github.com/Immowelt/MongoProcessing/worker"
)

// ErrEmptyDependencies is returned by StartWorker when the watch has no
// dependencies attached: at minimum an operation-type dependency is
// required so the compiled filter knows which events to watch for.
var ErrEmptyDependencies = errors.New("watch: at least one dependency is required to start a worker")

// ErrDuplicateWorker is returned by StartWorker when a worker with the
// same name and operation type is already running.
var ErrDuplicateWorker = errors.New("watch: worker with this name and operation type is already running")

// Watch holds a repository handle, a composite dependency, and a map of
// workers keyed by "<name>_<op_type>".
type Watch struct {
	repo *repository.Repository
	deps *dependency.Multiple

	mu      sync.Mutex
	workers map[string]*worker.Worker
}

// New creates a Watch over repo with an initial set of dependencies.
func New(repo *repository.Repository, deps ...dependency.Dependency) *Watch {
	return &Watch{
		repo:    repo,
		deps:    dependency.NewMultiple(deps...),
		workers: make(map[string]*worker.Worker),
	}
}

// AddDependency appends a dependency to the watch.
func (w *Watch) AddDependency(d dependency.Dependency) {
	w.deps.Add(d)
}

// StartWorker compiles a filter per operation type in the union of the
// watch's dependencies' operation types, then constructs and starts one
// Worker per operation type, keyed by "<name>_<op_type>". A change-stream
// iteration error terminates the affected worker; use StartWorkerWithRetry
// for a worker that restarts itself under backoff instead.
func (w *Watch) StartWorker(ctx context.Context, name string, ack worker.AcknowledgeFunc, process worker.ProcessFunc, resume bool, opts ...worker.Dispatch) error {
	return w.startWorker(ctx, name, ack, process, resume, nil, opts...)
}

// StartWorkerWithRetry is StartWorker, except each worker's consume loop
// runs under bo (see Worker.StartWithRetry): a change-stream iteration
// error restarts the loop after the backoff's delay instead of ending the
// worker.
func (w *Watch) StartWorkerWithRetry(ctx context.Context, name string, ack worker.AcknowledgeFunc, process worker.ProcessFunc, resume bool, bo backoff.BackOff, opts ...worker.Dispatch) error {
	if bo == nil {
		bo = backoff.NewExponentialBackOff()
	}
	return w.startWorker(ctx, name, ack, process, resume, bo, opts...)
}

func (w *Watch) startWorker(ctx context.Context, name string, ack worker.AcknowledgeFunc, process worker.ProcessFunc, resume bool, bo backoff.BackOff, opts ...worker.Dispatch) error {
	if w.deps.Len() == 0 {
		return ErrEmptyDependencies
	}

	dispatch := worker.DispatchSerial()
	if len(opts) > 0 {
		dispatch = opts[0]
	}

	opTypes := w.deps.OperationTypes()

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, opType := range opTypes {
		key := workerKey(name, opType)
		if _, exists := w.workers[key]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateWorker, key)
		}
	}

	for _, opType := range opTypes {
		key := workerKey(name, opType)

		fctx := &filter.Context{}
		w.deps.Contribute(name, opType, fctx)
		match := filter.Compile(name, opType, fctx)

		wk := worker.New(name, opType, w.repo, match, resume, ack, process, dispatch)
		w.workers[key] = wk

		if bo != nil {
			wk.StartWithRetry(ctx, bo)
		} else {
			wk.Start(ctx)
		}

		logging.Log().Infof("started worker %q", key)
	}

	return nil
}

// StopAll stops every worker concurrently and waits for all of them to
// reach the Stopped state.
func (w *Watch) StopAll() {
	w.mu.Lock()
	workers := make([]*worker.Worker, 0, len(w.workers))
	for _, wk := range w.workers {
		workers = append(workers, wk)
	}
	w.workers = make(map[string]*worker.Worker)
	w.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(len(workers))
	for _, wk := range workers {
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Stop()
		}(wk)
	}
	wg.Wait()
}

func workerKey(name, opType string) string {
	return name + "_" + opType
}
