// Package assert states the preconditions of aggregate commands.
//
//	return a.Checked(
//		assert.That(a.Balance >= amount, "balance covers withdrawal").Else(ErrInsufficientFunds),
//		func() error { return es.RaiseAndApply(a, &Withdrawn{Amount: amount}) },
//	)
package assert

import (
	"errors"
	"fmt"
)

// ErrAssertionFailed is wrapped by a failed condition without its own error.
var ErrAssertionFailed = errors.New("assertion failed")

// Cond is a precondition. It returns nil when it holds.
type Cond func() error

// Failure describes a condition that did not hold.
type Failure struct {
	Name string
	Err  error
}

func (f *Failure) Error() string { return fmt.Sprintf("%s: %s", f.Err, f.Name) }
func (f *Failure) Unwrap() error { return f.Err }

func That(holds bool, name string) Cond {
	return func() error {
		if holds {
			return nil
		}
		return &Failure{Name: name, Err: ErrAssertionFailed}
	}
}

// Eventually is like That but evaluates holds when checked.
func Eventually(holds func() bool, name string) Cond {
	return func() error { return That(holds(), name)() }
}

// Else makes a failure of c wrap err instead of ErrAssertionFailed.
func (c Cond) Else(err error) Cond {
	return func() error {
		var f *Failure
		if failed := c(); errors.As(failed, &f) {
			return &Failure{Name: f.Name, Err: err}
		} else if failed != nil {
			return failed
		}
		return nil
	}
}

// All holds if every condition holds and reports the first failure.
func All(cs ...Cond) Cond {
	return func() error {
		for _, c := range cs {
			if err := c(); err != nil {
				return err
			}
		}
		return nil
	}
}
