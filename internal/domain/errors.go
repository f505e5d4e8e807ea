// Package domain provides shared domain-level sentinel errors.
package domain

import "errors"

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict indicates a concurrent modification conflict or a duplicate entity.
var ErrConflict = errors.New("conflict: resource was modified by another request")

// ErrValidation indicates a malformed request. Wrap it with a field-specific message:
//
//	fmt.Errorf("%w: drone_id is required", domain.ErrValidation)
var ErrValidation = errors.New("validation failed")

// ErrAlreadyResolved is returned to the loser of a confirmation race.
var ErrAlreadyResolved = errors.New("decision already resolved")

// ErrEvaluation indicates the risk evaluator could not score a request.
var ErrEvaluation = errors.New("risk evaluation failed")

// ErrCacheRefresh indicates the context provider failed during a cache refresh.
var ErrCacheRefresh = errors.New("context refresh failed")

// ErrDispatch indicates a transient transport failure that survived all retries.
var ErrDispatch = errors.New("dispatch failed")

// ErrDispatchRejected indicates the transport definitively refused a command.
// It is never retried.
var ErrDispatchRejected = errors.New("dispatch rejected")
