// Package reconcile lets a local intent show up immediately while the server
// keeps the last word.
package reconcile

// Value holds a locally proposed value until an authoritative one arrives.
// Reset marks an activity boundary: nothing provisional survives it.
type Value[T comparable] struct {
	value       T
	set         bool
	provisional bool
}

// Propose records a local prediction.
func (v *Value[T]) Propose(x T) {
	v.value = x
	v.set = true
	v.provisional = true
}

// Confirm applies the server's value. It reports whether the displayed value
// changed, meaning the prediction was contradicted or there was none.
func (v *Value[T]) Confirm(x T) bool {
	changed := !v.set || v.value != x
	v.value = x
	v.set = true
	v.provisional = false
	return changed
}

// Get returns the current value and whether one is set.
func (v *Value[T]) Get() (T, bool) { return v.value, v.set }

// Is reports whether the current value equals x.
func (v *Value[T]) Is(x T) bool { return v.set && v.value == x }

// Provisional reports whether the current value is an unconfirmed prediction.
func (v *Value[T]) Provisional() bool { return v.set && v.provisional }

// Set reports whether any value is held.
func (v *Value[T]) Set() bool { return v.set }

// Reset clears the value at an activity boundary.
func (v *Value[T]) Reset() {
	var zero T
	v.value = zero
	v.set = false
	v.provisional = false
}
