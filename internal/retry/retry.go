/*
Copyright 2024 Tally Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package retry holds the shared backoff policy and failure counters used by the
// balance mutation engine, the outbox relay and the ledger consumer.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrVersionConflict is returned by a conditional write that found a newer version.
	ErrVersionConflict = errors.New("version conflict")
	ErrExhausted       = errors.New("retries exhausted")
)

type retryableError struct {
	err error
}

func (r *retryableError) Error() string { return r.err.Error() }
func (r *retryableError) Unwrap() error { return r.err }

// Retryable marks err as transient so Do tries the operation again.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether Do would try again after err.
func IsRetryable(err error) bool {
	var r *retryableError
	return errors.Is(err, ErrVersionConflict) || errors.As(err, &r)
}

// ExhaustedError is returned once every attempt ended in a retryable error.
type ExhaustedError struct {
	Op       string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts: %v", e.Op, ErrExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }
func (e *ExhaustedError) Unwrap() error        { return e.Last }

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// Exponential grows the delay between attempts instead of keeping it fixed.
	Exponential bool
	Stats       *Stats
}

func NewPolicy(maxAttempts int, delay time.Duration, stats *Stats) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts, Delay: delay, Stats: stats}
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	var b backoff.BackOff
	if p.Exponential {
		exp := backoff.NewExponentialBackOff()
		exp.InitialInterval = p.Delay
		exp.MaxElapsedTime = 0
		b = exp
	} else {
		b = backoff.NewConstantBackOff(p.Delay)
	}
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempt budget is spent.
// Non-retryable errors are returned unchanged. When the budget is spent, or ctx ends while
// waiting for the next attempt, the result is an *ExhaustedError.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context, attempt int) error) error {
	attempt := 0
	var last error

	operation := func() error {
		attempt++
		err := fn(ctx, attempt)
		if err == nil {
			last = nil
			return nil
		}
		if IsRetryable(err) {
			last = err
			if errors.Is(err, ErrVersionConflict) {
				p.Stats.RecordConflict(ctx, op)
			}
			return err
		}
		last = nil
		return backoff.Permanent(err)
	}

	notify := func(err error, next time.Duration) {
		logrus.WithFields(logrus.Fields{
			"op":      op,
			"attempt": attempt,
			"next_in": next,
		}).Debugf("retrying after: %v", err)
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	if last == nil {
		return err
	}

	p.Stats.RecordExhausted(ctx, op)
	logrus.WithFields(logrus.Fields{
		"op":       op,
		"attempts": attempt,
	}).Warnf("giving up: %v", last)
	return &ExhaustedError{Op: op, Attempts: attempt, Last: last}
}
