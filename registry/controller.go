package registry

import "github.com/pkg/errors"

// ErrMissingControllerMarker is returned by Compile when ctrl is nil,
// mirroring the source's "missing controller marker" registration
// error; a type that does not implement Controller is rejected by the
// compiler instead.
var ErrMissingControllerMarker = errors.New("registry: type does not implement Controller marker")

// ErrNoOpcodeMethods is returned by Compile when build registered zero
// opcodes.
var ErrNoOpcodeMethods = errors.New("registry: controller registered no opcodes")

// Controller marks a type as eligible for opcode registration. Embed
// Base to satisfy it; this is the explicit, statically-checked
// substitute for the source's runtime "controller" annotation scan.
type Controller interface {
	isNalixController()
}

// Base is embedded by controller types to satisfy Controller.
type Base struct{}

func (Base) isNalixController() {}

// Compile builds a frozen Registry for ctrl by invoking build (which
// calls Handle/MustHandle for each opcode), then validates the
// controller marker and opcode count before freezing. Intended to run
// once per controller type at startup; any returned error is fatal
// for that controller per the spec's registration-error contract.
func Compile[Cn any](ctrl Controller, build func(*Registry[Cn])) (*Registry[Cn], error) {
	if ctrl == nil {
		return nil, ErrMissingControllerMarker
	}
	r := New[Cn]()
	build(r)
	if r.Len() == 0 {
		return nil, ErrNoOpcodeMethods
	}
	r.Freeze()
	return r, nil
}
