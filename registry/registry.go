// Package registry implements the opcode dispatch registry (§4.7): a
// frozen opcode->invoker table compiled once per controller type.
//
// The source design (a reflection-scanned, expression-compiled
// binding over annotated methods) is replaced here with the
// registration-builder alternative design notes §9 explicitly
// endorses: Handle[P, Cn] is a generic function that closes over a
// concrete decode function and handler at the registration call site,
// so the compiler — not a runtime reflect.Value.Call — produces the
// per-opcode invoker. Registration-time checks (duplicate opcode,
// frozen registry) give the same "fail at registration, fatal for the
// controller" contract the spec requires from the reflection-based
// design.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrDuplicateOpcode is returned by Handle when opcode is already
	// registered on this Registry.
	ErrDuplicateOpcode = errors.New("registry: duplicate opcode")
	// ErrRegistryFrozen is returned by Handle once Freeze has been
	// called; no controller may register handlers after the server
	// has started dispatching.
	ErrRegistryFrozen = errors.New("registry: frozen, no further registration allowed")
	// ErrOpcodeNotFound is returned by Invoke for an opcode with no
	// registered handler.
	ErrOpcodeNotFound = errors.New("registry: unknown opcode")
	// ErrHandlerTimeout is returned by InvokeWithTimeout when the
	// handler did not complete within its configured Meta.Timeout.
	ErrHandlerTimeout = errors.New("registry: handler timed out")
)

// Meta is the per-opcode metadata checked before an invoker runs.
type Meta struct {
	Opcode            uint16
	Timeout           time.Duration // 0 means no expiry
	Permission        string        // empty means no permission required
	RequireEncryption bool
}

// invoker is the zero-reflection, type-erased callable stored per
// opcode: it has already closed over the concrete packet decode
// function and handler for that opcode.
type invoker[Cn any] func(ctx context.Context, raw []byte, c Cn) (any, error)

// Registry is the per-controller-type dispatch table, parameterized
// by the connection type handlers receive.
type Registry[Cn any] struct {
	mu       sync.RWMutex
	handlers map[uint16]invoker[Cn]
	meta     map[uint16]Meta
	frozen   bool
}

// New builds an empty Registry.
func New[Cn any]() *Registry[Cn] {
	return &Registry[Cn]{
		handlers: make(map[uint16]invoker[Cn]),
		meta:     make(map[uint16]Meta),
	}
}

// Handle registers a typed handler for opcode: decode turns the raw
// packet payload into P, fn runs with the decoded packet and the
// dispatching connection. It is the entry point controllers call
// (typically from the build function passed to Compile) to populate
// the table before Freeze.
func Handle[P any, Cn any](r *Registry[Cn], opcode uint16, meta Meta, decode func([]byte) (P, error), fn func(ctx context.Context, pkt P, c Cn) (any, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return errors.Wrapf(ErrRegistryFrozen, "opcode %d", opcode)
	}
	if _, exists := r.handlers[opcode]; exists {
		return errors.Wrapf(ErrDuplicateOpcode, "opcode %d", opcode)
	}
	meta.Opcode = opcode
	r.handlers[opcode] = func(ctx context.Context, raw []byte, c Cn) (any, error) {
		p, err := decode(raw)
		if err != nil {
			return nil, errors.Wrap(err, "decode packet")
		}
		return fn(ctx, p, c)
	}
	r.meta[opcode] = meta
	return nil
}

// MustHandle is Handle, but panics on error — for controller
// registration code that wants registration failures to be fatal at
// startup, matching the spec's "fatal for the offending controller".
func MustHandle[P any, Cn any](r *Registry[Cn], opcode uint16, meta Meta, decode func([]byte) (P, error), fn func(ctx context.Context, pkt P, c Cn) (any, error)) {
	if err := Handle(r, opcode, meta, decode, fn); err != nil {
		panic(err)
	}
}

// Freeze locks the registry against further registration. Call once
// all controllers have registered, before the server starts
// dispatching.
func (r *Registry[Cn]) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Lookup returns the metadata for opcode, if registered.
func (r *Registry[Cn]) Lookup(opcode uint16) (Meta, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.meta[opcode]
	return m, ok
}

// Len reports how many opcodes are currently registered.
func (r *Registry[Cn]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handlers)
}

// Invoke runs the handler registered for opcode synchronously.
func (r *Registry[Cn]) Invoke(ctx context.Context, opcode uint16, raw []byte, c Cn) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[opcode]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrOpcodeNotFound, "opcode %d", opcode)
	}
	return h(ctx, raw, c)
}

// result bundles an Invoke outcome for the async completion surface
// InvokeWithTimeout uses internally.
type result struct {
	val any
	err error
}

// InvokeWithTimeout runs the handler registered for opcode, racing it
// against meta.Timeout if non-zero. This is the "single completes
// with optional result" abstraction design notes §9 calls for: the
// caller never needs to know whether the underlying handler body was
// written as a synchronous function or one that internally spawns
// goroutines — both surface identically here as (value, error) or a
// timeout error, and a timeout never cancels the goroutine running the
// handler (the spec requires the connection to stay open and the
// lease to simply be released on timeout, not the handler killed
// mid-flight in a way that could corrupt shared state).
func (r *Registry[Cn]) InvokeWithTimeout(ctx context.Context, opcode uint16, raw []byte, c Cn) (any, error) {
	r.mu.RLock()
	h, ok := r.handlers[opcode]
	meta := r.meta[opcode]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.Wrapf(ErrOpcodeNotFound, "opcode %d", opcode)
	}
	if meta.Timeout <= 0 {
		return h(ctx, raw, c)
	}

	done := make(chan result, 1)
	go func() {
		v, err := h(ctx, raw, c)
		done <- result{v, err}
	}()

	timer := time.NewTimer(meta.Timeout)
	defer timer.Stop()
	select {
	case res := <-done:
		return res.val, res.err
	case <-timer.C:
		return nil, errors.Wrapf(ErrHandlerTimeout, "opcode %d after %s", opcode, meta.Timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
