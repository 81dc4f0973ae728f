package queue

import "testing"

func TestFIFOOrderPreserved(t *testing.T) {
	var f FIFO[int]
	for i := 0; i < 5; i++ {
		f.Enqueue(i)
	}
	for i := 0; i < 5; i++ {
		v, ok := f.TryDequeue()
		if !ok || v != i {
			t.Fatalf("expected %d, got %d (ok=%v)", i, v, ok)
		}
	}
	if _, ok := f.TryDequeue(); ok {
		t.Fatal("expected empty queue")
	}
}

func TestFIFODrain(t *testing.T) {
	var f FIFO[int]
	f.Enqueue(1)
	f.Enqueue(2)
	f.Enqueue(3)
	got := f.Drain()
	if len(got) != 3 || got[0] != 1 || got[2] != 3 {
		t.Fatalf("unexpected drain result: %v", got)
	}
	if !f.IsEmpty() {
		t.Fatal("expected empty after drain")
	}
}
