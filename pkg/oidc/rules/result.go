// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package rules

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// Key identifies a rule and the result it produces.
type Key string

// String implements fmt.Stringer.
func (k Key) String() string { return string(k) }

var (
	// ErrMissingResult is returned when a rule reads a result that has not
	// been produced in the current run.
	ErrMissingResult = errors.New("result not available")

	// ErrDuplicateResult is returned when a result is added twice under the
	// same key without AddOrReplace.
	ErrDuplicateResult = errors.New("result already registered")

	// ErrResultType is returned when a result value does not have the type
	// the reader expects.
	ErrResultType = errors.New("unexpected result type")
)

// DependencyError signals a wiring defect: rules were planned in an order
// that does not produce what a rule consumes. It is never a protocol error
// and must not be shown to clients.
type DependencyError struct {
	// Rule is the rule that was running, when known.
	Rule Key
	// Key is the result that was looked up or added.
	Key Key
	Err error
}

// Error implements error.
func (e *DependencyError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("rule %s: result %s: %v", e.Rule, e.Key, e.Err)
	}
	return fmt.Sprintf("result %s: %v", e.Key, e.Err)
}

// Unwrap returns the sentinel cause.
func (e *DependencyError) Unwrap() error { return e.Err }

// IsDependencyError reports whether err is, or wraps, a DependencyError.
func IsDependencyError(err error) bool {
	var depErr *DependencyError
	return errors.As(err, &depErr)
}

// Result is the immutable outcome of one rule. A nil Value is a legal result
// and differs from the rule not having produced anything.
type Result struct {
	key   Key
	value any
}

// NewResult creates a Result.
func NewResult(key Key, value any) *Result {
	return &Result{key: key, value: value}
}

// Key returns the producing rule's key.
func (r *Result) Key() Key { return r.key }

// Value returns the result value, possibly nil.
func (r *Result) Value() any { return r.value }

// ResultBag accumulates the results of one validation run. It is not safe
// for concurrent use; a run is sequential.
type ResultBag struct {
	results map[Key]*Result
}

// NewResultBag returns an empty bag.
func NewResultBag() *ResultBag {
	return &ResultBag{results: make(map[Key]*Result)}
}

// Add registers r. A second Add for the same key is rejected with a
// DependencyError wrapping ErrDuplicateResult.
func (b *ResultBag) Add(r *Result) error {
	if _, ok := b.results[r.key]; ok {
		return &DependencyError{Key: r.key, Err: ErrDuplicateResult}
	}
	b.results[r.key] = r
	return nil
}

// AddOrReplace registers r, replacing any previous result for its key.
func (b *ResultBag) AddOrReplace(r *Result) {
	b.results[r.key] = r
}

// AddIfAbsent registers r unless its key is already present, and reports
// whether it did.
func (b *ResultBag) AddIfAbsent(r *Result) bool {
	if _, ok := b.results[r.key]; ok {
		return false
	}
	b.results[r.key] = r
	return true
}

// Get returns the result for key, if any.
func (b *ResultBag) Get(key Key) (*Result, bool) {
	r, ok := b.results[key]
	return r, ok
}

// Has reports whether a result was registered for key.
func (b *ResultBag) Has(key Key) bool {
	_, ok := b.results[key]
	return ok
}

// GetOrFail returns the result for key or a DependencyError wrapping
// ErrMissingResult.
func (b *ResultBag) GetOrFail(key Key) (*Result, error) {
	r, ok := b.results[key]
	if !ok {
		return nil, &DependencyError{Key: key, Err: ErrMissingResult}
	}
	return r, nil
}

// Keys returns the registered keys in sorted order.
func (b *ResultBag) Keys() []Key {
	return slices.Sorted(maps.Keys(b.results))
}

// Len returns the number of results.
func (b *ResultBag) Len() int { return len(b.results) }

// Value returns the value registered under key as T. A missing result or a
// value of another type is a DependencyError. A nil value yields the zero T.
func Value[T any](b *ResultBag, key Key) (T, error) {
	var zero T
	r, err := b.GetOrFail(key)
	if err != nil {
		return zero, err
	}
	if r.value == nil {
		return zero, nil
	}
	v, ok := r.value.(T)
	if !ok {
		return zero, &DependencyError{
			Key: key,
			Err: fmt.Errorf("%w: have %T, want %T", ErrResultType, r.value, zero),
		}
	}
	return v, nil
}

// Lookup returns the value registered under key as T, and false when it is
// missing, nil or of another type.
func Lookup[T any](b *ResultBag, key Key) (T, bool) {
	var zero T
	r, ok := b.results[key]
	if !ok || r.value == nil {
		return zero, false
	}
	v, ok := r.value.(T)
	return v, ok
}
