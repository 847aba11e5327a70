package model

import "errors"

// Error taxonomy for the coordination layer. IO failures are returned as
// wrapped driver errors and are not represented by a sentinel; the caller
// owns retry policy for those.
var (
	// ErrNotFound reports an absent entry, namespace or share request.
	ErrNotFound = errors.New("not found")

	// ErrNamespaceExists reports a user-initiated create of a taken name.
	ErrNamespaceExists = errors.New("namespace already exists")

	// ErrAllocationExists reports a duplicate (agent, namespace) allocation.
	ErrAllocationExists = errors.New("allocation already exists")

	// ErrNoAllocation rejects a store with no quota ledger for the
	// (agent, namespace) pair.
	ErrNoAllocation = errors.New("no allocation for agent in namespace")

	// ErrQuotaExceeded rejects a store at the entry-count ceiling.
	ErrQuotaExceeded = errors.New("allocation quota exceeded")

	// ErrSessionNotFound reports an unknown session id.
	ErrSessionNotFound = errors.New("session not found")

	// ErrValidation reports malformed input, e.g. an unknown share level.
	ErrValidation = errors.New("invalid input")
)
