// Package store provides the key-value backends the rate limiter counts against.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrUnavailable is matched by every error a Store returns when the backend
// could not be reached or refused the command.
var ErrUnavailable = errors.New("store unavailable")

// Store is the key-value contract the limiter depends on.
// Every key is namespaced by the implementation; callers pass bare keys.
type Store interface {
	// Increment atomically adds amount to the integer at key and returns the new value.
	// A missing or expired key counts as zero.
	Increment(ctx context.Context, key string, amount int64) (int64, error)

	// ExpireAt sets an absolute expiry on key.
	ExpireAt(ctx context.Context, key string, at time.Time) error

	// Get returns the value at key and whether it exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value at key without an expiry.
	Set(ctx context.Context, key, value string) error

	// Delete removes the given keys.
	Delete(ctx context.Context, keys ...string) error

	// Keys lists keys under the namespace matching a glob pattern.
	// Returned keys have the namespace stripped.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// SetAdd adds members to the set at key and returns how many were new.
	SetAdd(ctx context.Context, key string, members ...string) (int64, error)

	// SetMembers returns the members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// Exists reports whether key is present and not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping checks the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Error describes a failed store operation.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store %s %q failed: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is makes every store Error match ErrUnavailable.
func (e *Error) Is(target error) bool {
	return target == ErrUnavailable
}

func wrapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Key: key, Err: err}
}
