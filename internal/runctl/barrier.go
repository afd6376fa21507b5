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

import "sync"

// A rendezvous is a two-party barrier: the worker fleet (once the active
// count reaches zero) and the main thread each arrive once, and the second
// arrival releases the first.
type rendezvous struct {
	mu    sync.Mutex
	count int
	done  chan struct{}
}

func newRendezvous() *rendezvous {
	return &rendezvous{done: make(chan struct{})}
}

// arrive blocks until both parties have called arrive.
func (r *rendezvous) arrive() {
	r.mu.Lock()
	r.count++

	if r.count >= 2 {
		close(r.done)
		r.mu.Unlock()

		return
	}

	done := r.done
	r.mu.Unlock()

	<-done
}
