package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeConnection struct{ name string }

type echoPacket struct{ text string }

func decodeEcho(raw []byte) (echoPacket, error) {
	return echoPacket{text: string(raw)}, nil
}

func TestDuplicateOpcodeFailsRegistration(t *testing.T) {
	r := New[fakeConnection]()
	err1 := Handle(r, 1, Meta{}, decodeEcho, func(ctx context.Context, p echoPacket, c fakeConnection) (any, error) {
		return p.text, nil
	})
	require.NoError(t, err1)

	err2 := Handle(r, 1, Meta{}, decodeEcho, func(ctx context.Context, p echoPacket, c fakeConnection) (any, error) {
		return p.text, nil
	})
	require.ErrorIs(t, err2, ErrDuplicateOpcode)
}

func TestHandlerReceivesPacketAndConnection(t *testing.T) {
	r := New[fakeConnection]()
	require.NoError(t, Handle(r, 1, Meta{}, decodeEcho, func(ctx context.Context, p echoPacket, c fakeConnection) (any, error) {
		return p.text + ":" + c.name, nil
	}))
	r.Freeze()

	got, err := r.Invoke(context.Background(), 1, []byte("hi"), fakeConnection{name: "conn-1"})
	require.NoError(t, err)
	require.Equal(t, "hi:conn-1", got)
}

func TestRegisterAfterFreezeFails(t *testing.T) {
	r := New[fakeConnection]()
	r.Freeze()
	err := Handle(r, 2, Meta{}, decodeEcho, func(ctx context.Context, p echoPacket, c fakeConnection) (any, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, ErrRegistryFrozen)
}

func TestInvokeUnknownOpcodeFails(t *testing.T) {
	r := New[fakeConnection]()
	r.Freeze()
	_, err := r.Invoke(context.Background(), 999, nil, fakeConnection{})
	require.ErrorIs(t, err, ErrOpcodeNotFound)
}

func TestInvokeWithTimeoutTripsOnSlowHandler(t *testing.T) {
	r := New[fakeConnection]()
	require.NoError(t, Handle(r, 1, Meta{Timeout: 10 * time.Millisecond}, decodeEcho, func(ctx context.Context, p echoPacket, c fakeConnection) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return "too slow", nil
	}))
	r.Freeze()

	_, err := r.InvokeWithTimeout(context.Background(), 1, []byte("x"), fakeConnection{})
	require.ErrorIs(t, err, ErrHandlerTimeout)
}

func TestCompileRejectsMissingController(t *testing.T) {
	_, err := Compile[fakeConnection](nil, func(r *Registry[fakeConnection]) {})
	require.ErrorIs(t, err, ErrMissingControllerMarker)
}

func TestCompileRejectsEmptyController(t *testing.T) {
	type ctrl struct{ Base }
	_, err := Compile[fakeConnection](ctrl{}, func(r *Registry[fakeConnection]) {})
	require.ErrorIs(t, err, ErrNoOpcodeMethods)
}
