// Package throttle limits repeated failed logins from one client using a
// time-windowed, size-bounded counter.
package throttle
