// Package errors provides structured error types for wasm-shm.
//
// Errors carry a Phase (where the error occurred: region, mapping, guest,
// protocol, spawn) and a Kind (what went wrong). Matching with the standard
// errors.Is compares Phase and Kind, so packages can export sentinels:
//
//	var ErrContainerGone = errors.New(errors.PhaseProtocol, errors.KindClosed)
//
// Recoverable failures cross the pipe boundary as a single failure byte; the
// structured detail only ever travels through logs on the side that
// observed it.
package errors
