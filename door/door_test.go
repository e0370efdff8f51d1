package door

import "testing"

func TestPulse(t *testing.T) {
	tests := []struct {
		angle int
		want  uint32
	}{
		{0, 400},
		{90, 1400},
		{180, 2400},
	}
	for _, tt := range tests {
		if got := pulse(tt.angle); got != tt.want {
			t.Errorf("pulse(%d) = %d, want %d", tt.angle, got, tt.want)
		}
	}
}

func TestNewWithoutPinIsNoop(t *testing.T) {
	g, err := New(Config{Type: "servo"})
	if err != nil {
		t.Fatal(err)
	}
	n, ok := g.(*Noop)
	if !ok {
		t.Fatalf("New without pin = %T, want *Noop", g)
	}
	n.Open()
	if !n.IsOpen() {
		t.Error("noop gate not open after Open")
	}
	n.Release()
	if n.IsOpen() {
		t.Error("Release left the gate open")
	}
}
