// Copyright 2025 The Custard Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package runctl

import "github.com/gammazero/workerpool"

// DefaultWorkers is the size of the worker pool used when a composition
// does not override it.
const DefaultWorkers = 8

// A Pool dispatches fulfiller chains to a fixed-size worker fleet. Submit
// never blocks: jobs queue internally and are drained by the workers, which
// is essential since a chain's own completion submits its successor chains
// from inside a worker.
type Pool struct {
	wp *workerpool.WorkerPool
}

// NewPool returns a pool with the given number of workers.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}

	return &Pool{wp: workerpool.New(workers)}
}

// Submit queues job to run on the next free worker.
func (p *Pool) Submit(job func()) {
	p.wp.Submit(job)
}

// StopWait blocks until every queued and in-flight job has completed, then
// shuts the pool down. Used when recreating the worker fleet after a panic.
func (p *Pool) StopWait() {
	p.wp.StopWait()
}
