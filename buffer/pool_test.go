package buffer

import "testing"

func TestRentSatisfiesMinBytes(t *testing.T) {
	p := NewPool()
	for _, n := range []int{1, 63, 64, 65, 1000, 65535, maxBucket, maxBucket + 1} {
		buf := p.Rent(n)
		if len(buf) != n {
			t.Fatalf("Rent(%d): len=%d, want %d", n, len(buf), n)
		}
	}
}

func TestReturnThenRentReuses(t *testing.T) {
	p := NewPool()
	buf := p.Rent(128)
	addr := &buf[0]
	p.Return(buf)

	buf2 := p.Rent(128)
	if &buf2[0] != addr {
		t.Fatalf("expected pooled buffer to be reused")
	}
}

func TestLeaseDoubleReleaseIsNoop(t *testing.T) {
	p := NewPool()
	buf := p.Rent(64)
	l := TakeOwnership(p, buf, 0, 64)
	l.Release()
	if !l.Released() {
		t.Fatal("expected Released() true after Release")
	}
	l.Release() // must not panic or double-return to the pool
}

func TestLeaseBytesWindow(t *testing.T) {
	p := NewPool()
	buf := p.Rent(128)
	for i := range buf {
		buf[i] = byte(i)
	}
	l := TakeOwnership(p, buf, 10, 20)
	got := l.Bytes()
	if len(got) != 20 || got[0] != 10 {
		t.Fatalf("unexpected window: len=%d first=%d", len(got), got[0])
	}
}
