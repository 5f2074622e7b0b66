package domain

import "errors"

var (
	ErrWorkerNotFound     = errors.New("worker not found")
	ErrAllocationNotFound = errors.New("no active allocation")
	ErrAllocationDenied   = errors.New("allocation denied: hard limit exceeded")
	ErrPolicyNotFound     = errors.New("policy not found")
	ErrActionNotFound     = errors.New("action not found")
	ErrLockTimeout        = errors.New("registry lock timeout")
	ErrNoPriorState       = errors.New("no prior checkpoint state")
)
