package affinity

import "testing"

func TestNewPinnerPinsWithoutError(t *testing.T) {
	p := NewPinner()
	n, err := NumCPU()
	if err != nil {
		t.Fatalf("NumCPU: %v", err)
	}
	if n < 1 {
		t.Fatal("NumCPU should report at least 1 core")
	}
	if err := p.PinCurrentThread(CoreID(0)); err != nil {
		t.Fatalf("PinCurrentThread: %v", err)
	}
}
