package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bnema/sundial/internal/domain"
)

// Process exit codes, stable for scripting against the CLI.
const (
	exitOK          = 0
	exitFailure     = 1
	exitUsage       = 2
	exitNotFound    = 3
	exitDenied      = 4
	exitLockTimeout = 5
	exitNoState     = 6
)

// usageError marks argument and flag mistakes so they map to their own exit
// code instead of the generic failure.
type usageError struct {
	err error
}

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

// exactArgs is cobra.ExactArgs with the error tagged as a usage mistake.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if len(args) != n {
			return usageError{err: fmt.Errorf("accepts %d arg(s), received %d", n, len(args))}
		}
		return nil
	}
}

// ExitCode maps an Execute error onto the documented exit codes.
func ExitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var usage usageError
	switch {
	case errors.As(err, &usage):
		return exitUsage
	case errors.Is(err, domain.ErrWorkerNotFound),
		errors.Is(err, domain.ErrAllocationNotFound),
		errors.Is(err, domain.ErrActionNotFound),
		errors.Is(err, domain.ErrPolicyNotFound):
		return exitNotFound
	case errors.Is(err, domain.ErrAllocationDenied):
		return exitDenied
	case errors.Is(err, domain.ErrLockTimeout):
		return exitLockTimeout
	case errors.Is(err, domain.ErrNoPriorState):
		return exitNoState
	default:
		return exitFailure
	}
}
