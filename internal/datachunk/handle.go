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

// Package datachunk implements the shared, interior-mutable storage behind a
// loaded datachunk, and the request-time accessor that hands out typed
// shared/exclusive views of it to running tasks.
//
// The accessor never locks: the validator statically proves that no two
// unsynchronized tasks hold conflicting accesses to the same datachunk (see
// [github.com/ashlotl/custard/internal/composition/validate]), so runtime mediation only
// needs to check the *requesting* task's declared access list and perform
// the dynamic type check. [EnableDebugChecks] turns on a runtime double-check
// of that static proof for tests.
package datachunk

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// debugChecksEnabled gates the runtime active_shared/active_exclusive
// bookkeeping. When on, every view acquisition/release takes the handle's
// mutex, so it defaults to off and is meant to be flipped only by tests.
var debugChecksEnabled atomic.Bool //nolint:gochecknoglobals // debug-mode toggle, see EnableDebugChecks

// EnableDebugChecks turns on the runtime checker that verifies no two
// conflicting views of the same Handle are outstanding simultaneously. It is
// meant to be called from test setup only; production code relies on the
// validator's static proof instead of paying this cost.
func EnableDebugChecks(enabled bool) {
	debugChecksEnabled.Store(enabled)
}

// A Handle is a shared, interior-mutable pointer to a datachunk's runtime
// contents. Multiple views may be taken from the same handle; the handle
// keeps no explicit reference count, but it outlives any view taken from it
// for as long as the view is reachable, since the view retains the handle
// pointer.
type Handle[T any] struct {
	mu    sync.Mutex
	value T

	activeShared    int
	activeExclusive bool
}

// NewHandle wraps value in a fresh handle.
func NewHandle[T any](value T) *Handle[T] {
	return &Handle[T]{value: value} //nolint:exhaustruct // counters start zero
}

// Read returns a read-only view of the handle's contents.
func (h *Handle[T]) Read() SharedView[T] {
	if debugChecksEnabled.Load() {
		h.mu.Lock()

		if h.activeExclusive {
			h.mu.Unlock()
			panic("datachunk: shared view requested while an exclusive view is outstanding")
		}

		h.activeShared++

		h.mu.Unlock()
	}

	return SharedView[T]{handle: h}
}

// Write returns a mutable view of the handle's contents.
func (h *Handle[T]) Write() ExclusiveView[T] {
	if debugChecksEnabled.Load() {
		h.mu.Lock()

		if h.activeExclusive || h.activeShared > 0 {
			h.mu.Unlock()
			panic("datachunk: exclusive view requested while another view is outstanding")
		}

		h.activeExclusive = true

		h.mu.Unlock()
	}

	return ExclusiveView[T]{handle: h}
}

func (h *Handle[T]) releaseShared() {
	if !debugChecksEnabled.Load() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if h.activeShared == 0 {
		panic("datachunk: released a shared view that was never acquired")
	}

	h.activeShared--
}

func (h *Handle[T]) releaseExclusive() {
	if !debugChecksEnabled.Load() {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.activeExclusive {
		panic("datachunk: released an exclusive view that was never acquired")
	}

	h.activeExclusive = false
}

// A SharedView is a read-only observation of a datachunk's contents. It
// keeps the backing handle alive for as long as the view exists.
type SharedView[T any] struct {
	handle   *Handle[T]
	released bool
}

// Get returns the current value of the viewed datachunk.
func (v SharedView[T]) Get() T {
	return v.handle.value
}

// Release returns the view to its handle. Under [EnableDebugChecks] this
// clears the view's contribution to the active-shared counter; it is a no-op
// otherwise. Callers that do not use debug checks need not call it, but
// calling it is always safe.
func (v *SharedView[T]) Release() {
	if v.released {
		return
	}

	v.released = true

	v.handle.releaseShared()
}

// An ExclusiveView is a mutable view of a datachunk's contents. It keeps the
// backing handle alive for as long as the view exists.
type ExclusiveView[T any] struct {
	handle   *Handle[T]
	released bool
}

// Get returns the current value of the viewed datachunk.
func (v ExclusiveView[T]) Get() T {
	return v.handle.value
}

// Set replaces the value of the viewed datachunk.
func (v ExclusiveView[T]) Set(value T) {
	v.handle.value = value
}

// Release returns the view to its handle, see [SharedView.Release].
func (v *ExclusiveView[T]) Release() {
	if v.released {
		return
	}

	v.released = true

	v.handle.releaseExclusive()
}

// String satisfies [fmt.Stringer] for debugging; it prints only the
// underlying value's type, never the value itself, since T is not required
// to be printable.
func (h *Handle[T]) String() string {
	return fmt.Sprintf("datachunk.Handle[%T]", h.value)
}
