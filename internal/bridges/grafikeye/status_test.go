package grafikeye

import "testing"

func TestParseStatus(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		want   string
		wantOK bool
	}{
		{name: "eight units", line: ":ss 000MMMMM\r\n", want: "000MMMMM", wantOK: true},
		{name: "all scene letters", line: ":ss 9AFGHMRL", want: "9AFGHMRL", wantOK: true},
		{name: "prefixed by noise", line: "\r\n:ss 12340000\r\n", want: "12340000", wantOK: true},
		{name: "more than eight", line: ":ss 1234567890", want: "1234567890", wantOK: true},
		{name: "fewer than eight", line: ":ss 1234", wantOK: false},
		{name: "invalid letter", line: ":ss 0000Z000", wantOK: false},
		{name: "lowercase", line: ":ss 0000m000", wantOK: false},
		{name: "no prefix", line: "00000000", wantOK: false},
		{name: "empty", line: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseStatus(tt.line)
			if ok != tt.wantOK {
				t.Fatalf("ParseStatus(%q) ok = %v, want %v", tt.line, ok, tt.wantOK)
			}
			if !ok {
				return
			}

			if len(got) != len(tt.want) {
				t.Fatalf("len(status) = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if string(got[i]) != tt.want[i:i+1] {
					t.Errorf("status[%d] = %q, want %q", i, got[i], tt.want[i:i+1])
				}
			}
		})
	}
}

func TestStatusByUnit(t *testing.T) {
	status, ok := ParseStatus(":ss 000MMMMM")
	if !ok {
		t.Fatal("ParseStatus() failed")
	}

	byUnit := status.ByUnit()
	want := map[ControlUnit]Scene{
		1: "0", 2: "0", 3: "0",
		4: "M", 5: "M", 6: "M", 7: "M", 8: "M",
	}
	if len(byUnit) != len(want) {
		t.Fatalf("len(ByUnit()) = %d, want %d", len(byUnit), len(want))
	}
	for u, s := range want {
		if byUnit[u] != s {
			t.Errorf("ByUnit()[%d] = %q, want %q", u, byUnit[u], s)
		}
	}
}

func TestStatusByUnitIgnoresExtraPositions(t *testing.T) {
	status, ok := ParseStatus(":ss 12345678AB")
	if !ok {
		t.Fatal("ParseStatus() failed")
	}

	byUnit := status.ByUnit()
	if len(byUnit) != 8 {
		t.Errorf("len(ByUnit()) = %d, want 8", len(byUnit))
	}
	if byUnit[8] != "8" {
		t.Errorf("ByUnit()[8] = %q, want %q", byUnit[8], "8")
	}
}

func TestStatusScene(t *testing.T) {
	status := Status{"1", "2"}

	if s, ok := status.Scene(2); !ok || s != "2" {
		t.Errorf("Scene(2) = %q, %v", s, ok)
	}
	if _, ok := status.Scene(3); ok {
		t.Error("Scene(3) ok = true for a two-position status")
	}
	if _, ok := status.Scene(0); ok {
		t.Error("Scene(0) ok = true")
	}
	if _, ok := status.Scene(9); ok {
		t.Error("Scene(9) ok = true")
	}
}

func TestControlUnitValid(t *testing.T) {
	for u := ControlUnit(-1); u <= 10; u++ {
		want := u >= 1 && u <= 8
		if got := u.Valid(); got != want {
			t.Errorf("ControlUnit(%d).Valid() = %v, want %v", u, got, want)
		}
	}
}

func TestConnectionStateString(t *testing.T) {
	tests := []struct {
		state ConnectionState
		want  string
	}{
		{StateDisconnected, "disconnected"},
		{StateAuthenticating, "authenticating"},
		{StateReady, "ready"},
		{StateFailed, "failed"},
		{ConnectionState(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
