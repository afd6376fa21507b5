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

package datachunk

import (
	"errors"
	"fmt"

	"github.com/ashlotl/custard/internal/access"
	"github.com/ashlotl/custard/internal/identify"
)

// ErrorKind distinguishes the ways a datachunk request may be rejected.
type ErrorKind int

const (
	// CrateNotFound means the requested datachunk's crate does not exist in
	// the live crate table.
	CrateNotFound ErrorKind = iota
	// DatachunkNotInCrate means the crate exists but has no such datachunk.
	DatachunkNotInCrate
	// NoSharedAccessDeclared means the requesting task did not declare any
	// access, shared or exclusive, to this datachunk.
	NoSharedAccessDeclared
	// NoExclusiveAccessDeclared means the requesting task declared only
	// shared access to this datachunk.
	NoExclusiveAccessDeclared
	// WrongType means the datachunk's runtime value does not hold a T.
	WrongType
)

// String renders the error kind for diagnostics.
func (k ErrorKind) String() string {
	switch k {
	case CrateNotFound:
		return "crate not found"
	case DatachunkNotInCrate:
		return "datachunk not in crate"
	case NoSharedAccessDeclared:
		return "no shared access declared"
	case NoExclusiveAccessDeclared:
		return "no exclusive access declared"
	case WrongType:
		return "wrong type"
	default:
		return "unknown access error"
	}
}

// ErrAccess is the sentinel wrapped by every [AccessError], so callers may
// test for any access failure with errors.Is without caring which kind.
var ErrAccess = errors.New("datachunk access rejected")

// An AccessError reports why a datachunk request was rejected.
type AccessError struct {
	Kind ErrorKind
	Name identify.FullDatachunkName
}

func (e *AccessError) Error() string {
	return fmt.Sprintf("datachunk access rejected for %s: %s", e.Name, e.Kind)
}

// Unwrap lets errors.Is(err, ErrAccess) match any AccessError.
func (e *AccessError) Unwrap() error {
	return ErrAccess
}

// A Lookup resolves a datachunk name to its live handle, distinguishing
// whether the failure was a missing crate or a missing datachunk within an
// existing crate. Implemented by the loaded composition's crate table.
type Lookup interface {
	LookupDatachunk(name identify.FullDatachunkName) (handle *Handle[any], crateFound, datachunkFound bool)
}

// An Accessor is handed to a task closure at construction time. It mediates
// typed shared/exclusive views of datachunks, constrained by the task's
// declared access list. It never itself locks shared state: the validator's
// static proof (see [github.com/ashlotl/custard/internal/composition/validate]) is what
// makes that safe.
type Accessor struct {
	table    Lookup
	accesses []access.Access
}

// NewAccessor returns an accessor bound to table and restricted to accesses.
func NewAccessor(table Lookup, accesses []access.Access) *Accessor {
	return &Accessor{table: table, accesses: accesses}
}

func (a *Accessor) declaredKind(name identify.FullDatachunkName) (access.Kind, bool) {
	for _, entry := range a.accesses {
		if entry.Of == name {
			return entry.Kind, true
		}
	}

	return access.Shared, false
}

func (a *Accessor) resolve(name identify.FullDatachunkName) (*Handle[any], error) {
	handle, crateFound, datachunkFound := a.table.LookupDatachunk(name)
	if !crateFound {
		return nil, &AccessError{Kind: CrateNotFound, Name: name}
	}

	if !datachunkFound {
		return nil, &AccessError{Kind: DatachunkNotInCrate, Name: name}
	}

	return handle, nil
}

// GetShared returns a read-only view of the named datachunk as a T, provided
// the accessor's task declared at least Shared access to it.
func GetShared[T any](a *Accessor, name identify.FullDatachunkName) (TypedSharedView[T], error) {
	declared, ok := a.declaredKind(name)
	if !ok || !declared.Satisfies(access.Shared) {
		return TypedSharedView[T]{}, &AccessError{Kind: NoSharedAccessDeclared, Name: name}
	}

	handle, err := a.resolve(name)
	if err != nil {
		return TypedSharedView[T]{}, err
	}

	view := handle.Read()

	value, ok := view.Get().(T)
	if !ok {
		view.Release()

		return TypedSharedView[T]{}, &AccessError{Kind: WrongType, Name: name}
	}

	return TypedSharedView[T]{inner: view, value: value}, nil
}

// GetExclusive returns a mutable view of the named datachunk as a T, provided
// the accessor's task declared Exclusive access to it.
func GetExclusive[T any](a *Accessor, name identify.FullDatachunkName) (TypedExclusiveView[T], error) {
	declared, ok := a.declaredKind(name)
	if !ok || !declared.Satisfies(access.Exclusive) {
		return TypedExclusiveView[T]{}, &AccessError{Kind: NoExclusiveAccessDeclared, Name: name}
	}

	handle, err := a.resolve(name)
	if err != nil {
		return TypedExclusiveView[T]{}, err
	}

	view := handle.Write()

	if _, ok := view.Get().(T); !ok {
		view.Release()

		return TypedExclusiveView[T]{}, &AccessError{Kind: WrongType, Name: name}
	}

	return TypedExclusiveView[T]{inner: view}, nil
}

// A TypedSharedView is a read-only, type-checked observation of a datachunk.
type TypedSharedView[T any] struct {
	inner SharedView[any]
	value T
}

// Get returns the viewed value.
func (v TypedSharedView[T]) Get() T {
	return v.value
}

// Release returns the view to its handle.
func (v *TypedSharedView[T]) Release() {
	v.inner.Release()
}

// A TypedExclusiveView is a mutable, type-checked view of a datachunk.
type TypedExclusiveView[T any] struct {
	inner ExclusiveView[any]
}

// Get returns the viewed value.
func (v TypedExclusiveView[T]) Get() T {
	value, _ := v.inner.Get().(T)

	return value
}

// Set replaces the viewed value.
func (v TypedExclusiveView[T]) Set(value T) {
	v.inner.Set(value)
}

// Release returns the view to its handle.
func (v *TypedExclusiveView[T]) Release() {
	v.inner.Release()
}
