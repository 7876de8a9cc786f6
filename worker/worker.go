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

// Package worker implements the long-running consumer of one filtered
// change stream: it owns the stream subscription, dispatches each event to
// caller-supplied acknowledge/process callbacks (serially or across a
// bounded pool), and checkpoints progress via a resume token.
package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/Immowelt/MongoProcessing/logging"
	"github.com/Immowelt/MongoProcessing/repository"
)

// AcknowledgeFunc inspects the post-image and decides whether the process
// should run on this document. Exceptions (panics) count as false.
type AcknowledgeFunc func(doc bson.M) bool

// ProcessFunc performs the process's work and returns whether it
// succeeded plus any results to flatten under the process's subtree.
// Exceptions (panics) count as (false, empty results).
type ProcessFunc func(doc bson.M) (bool, map[string]interface{})

// Repository is the subset of *repository.Repository a Worker needs,
// abstracted so a Worker can be exercised in tests against a fake without
// a live MongoDB deployment.
type Repository interface {
	Watch(ctx context.Context, match bson.D, resume bool) (repository.ChangeStream, error)
	StartProcess(ctx context.Context, docID interface{}, name string, extraTimeFields ...string) error
	EndProcess(ctx context.Context, docID interface{}, name string, success bool, results map[string]interface{}, extraTimeFields ...string) error
	SaveResumeToken(ctx context.Context, ev repository.ChangeEvent)
}

// State is one of the worker's lifecycle states.
type State int

const (
	Idle State = iota
	Running
	Draining
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Draining:
		return "draining"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// GracePeriod bounds how long Stop waits for outstanding handlers before
// abandoning them.
const GracePeriod = 5 * time.Second

// Dispatch selects how events are handed to handlers.
type Dispatch struct {
	poolSize int // 0 means serial dispatch
}

// DispatchSerial waits for each handler before pulling the next event,
// guaranteeing strict per-stream ordering of status writes.
func DispatchSerial() Dispatch { return Dispatch{poolSize: 0} }

// DispatchPool runs up to n handlers concurrently; the consumer only
// blocks once the pool is saturated.
func DispatchPool(n int) Dispatch { return Dispatch{poolSize: n} }

// Worker owns one change-stream subscription for a single process name
// and operation type.
type Worker struct {
	Name     string
	OpType   string
	repo     Repository
	match    bson.D
	resume   bool
	ack      AcknowledgeFunc
	process  ProcessFunc
	dispatch Dispatch

	mu    sync.Mutex
	state State

	cancel  context.CancelFunc
	done    chan struct{}
	sem     chan struct{}
	pending sync.WaitGroup
}

// New builds a Worker in the Idle state.
func New(name, opType string, repo Repository, match bson.D, resume bool, ack AcknowledgeFunc, process ProcessFunc, dispatch Dispatch) *Worker {
	w := &Worker{
		Name:     name,
		OpType:   opType,
		repo:     repo,
		match:    match,
		resume:   resume,
		ack:      ack,
		process:  process,
		dispatch: dispatch,
		state:    Idle,
		done:     make(chan struct{}),
	}
	if dispatch.poolSize > 0 {
		w.sem = make(chan struct{}, dispatch.poolSize)
	}
	return w
}

// State reports the worker's current lifecycle state.
func (w *Worker) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// prepare installs a fresh cancel/done pair for a run of the consume loop
// and moves the worker to Running, so Start and StartWithRetry give Stop a
// uniform way to cancel and wait regardless of which one launched the
// worker.
func (w *Worker) prepare(ctx context.Context) context.Context {
	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.setState(Running)
	return runCtx
}

// Start moves Idle->Running and spawns the consumer goroutine. A
// change-stream iteration error terminates the worker; use StartWithRetry
// to restart under backoff instead.
func (w *Worker) Start(ctx context.Context) {
	runCtx := w.prepare(ctx)

	go func() {
		defer close(w.done)
		if err := w.consume(runCtx); err != nil {
			logging.Log().Errorf("worker %q/%s: change stream terminated: %v", w.Name, w.OpType, err)
		}
		w.setState(Stopped)
	}()
}

// StartWithRetry spawns the consumer goroutine the same way Start does,
// but wraps it in bo: a change-stream iteration error restarts the whole
// consume loop under the backoff's delay instead of terminating the
// worker. Stop cancels and waits on it exactly as it does for Start,
// since both paths go through prepare.
func (w *Worker) StartWithRetry(ctx context.Context, bo backoff.BackOff) {
	runCtx := w.prepare(ctx)
	bo = backoff.WithContext(bo, runCtx)

	go func() {
		defer close(w.done)
		op := func() error {
			w.setState(Running)
			err := w.consume(runCtx)
			if err != nil {
				logging.Log().Errorf("worker %q/%s: %v", w.Name, w.OpType, err)
			}
			return err
		}
		if err := backoff.Retry(op, bo); err != nil {
			logging.Log().Errorf("worker %q/%s: gave up restarting change stream: %v", w.Name, w.OpType, err)
		}
		w.setState(Stopped)
	}()
}

// Stop requests cancellation, waits up to GracePeriod for outstanding
// handlers to finish, and then abandons whatever remains.
func (w *Worker) Stop() {
	w.setState(Draining)
	if w.cancel != nil {
		w.cancel()
	}

	select {
	case <-w.done:
	case <-time.After(GracePeriod):
		logging.Log().Warnf("worker %q/%s: consumer did not stop within grace period", w.Name, w.OpType)
	}

	waitCh := make(chan struct{})
	go func() {
		w.pending.Wait()
		close(waitCh)
	}()
	select {
	case <-waitCh:
	case <-time.After(GracePeriod):
		logging.Log().Warnf("worker %q/%s: abandoning outstanding handlers after grace period", w.Name, w.OpType)
	}

	w.setState(Stopped)
}

func (w *Worker) consume(ctx context.Context) error {
	stream, err := w.repo.Watch(ctx, w.match, w.resume)
	if err != nil {
		return fmt.Errorf("failed to start change stream: %w", err)
	}
	defer stream.Close(ctx)

	logging.Log().Infof("worker %q/%s started successfully", w.Name, w.OpType)

	for stream.Next(ctx) {
		if ctx.Err() != nil {
			return nil
		}

		var ev repository.ChangeEvent
		if err := stream.Decode(&ev); err != nil {
			return fmt.Errorf("failed to decode change event: %w", err)
		}

		w.dispatchEvent(ctx, ev)
	}

	return stream.Err()
}

func (w *Worker) dispatchEvent(ctx context.Context, ev repository.ChangeEvent) {
	if w.dispatch.poolSize == 0 {
		w.handle(ctx, ev)
		return
	}

	w.sem <- struct{}{}
	w.pending.Add(1)
	go func() {
		defer w.pending.Done()
		defer func() { <-w.sem }()
		w.handle(ctx, ev)
	}()
}

// handle runs the per-event algorithm: skip if already running, check
// acknowledge, start the process, run it, end the process.
func (w *Worker) handle(ctx context.Context, ev repository.ChangeEvent) {
	defer w.repo.SaveResumeToken(ctx, ev)

	if ev.FullDocument == nil {
		return
	}

	if sub, ok := ev.FullDocument[w.Name].(bson.M); ok {
		if running, _ := sub["isRunning"].(bool); running {
			logging.Log().Debugf("worker %q: already running on document %v", w.Name, ev.DocumentID())
			return
		}
	}

	if !w.safeAck(ev.FullDocument) {
		return
	}

	docID := ev.DocumentID()
	if err := w.repo.StartProcess(ctx, docID, w.Name); err != nil {
		logging.Log().Errorf("worker %q: failed to start process on %v: %v", w.Name, docID, err)
		return
	}

	success, results := w.safeProcess(ev.FullDocument)

	if err := w.repo.EndProcess(ctx, docID, w.Name, success, results); err != nil {
		logging.Log().Errorf("worker %q: failed to end process on %v: %v", w.Name, docID, err)
	}
}

func (w *Worker) safeAck(doc bson.M) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log().Errorf("worker %q: acknowledge callback panicked: %v", w.Name, r)
			ok = false
		}
	}()
	return w.ack(doc)
}

func (w *Worker) safeProcess(doc bson.M) (success bool, results map[string]interface{}) {
	defer func() {
		if r := recover(); r != nil {
			logging.Log().Errorf("worker %q: process callback panicked: %v", w.Name, r)
			success, results = false, map[string]interface{}{}
		}
	}()
	return w.process(doc)
}
