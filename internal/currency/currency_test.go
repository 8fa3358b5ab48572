package currency

import "testing"

func TestToMinorUnits(t *testing.T) {
	tests := []struct {
		in    string
		want  int64
		valid bool
	}{
		{"100", 10000, true},
		{"100.00", 10000, true},
		{"49.50", 4950, true},
		{"0.01", 1, true},
		{".5", 50, true},
		{"0", 0, true},
		{"", 0, false},
		{"-1", 0, false},
		{"+5", 0, false}, // ParseInt tolerates a leading sign, amounts must not
		{"+0.50", 0, false},
		{"1.2.3", 0, false},
		{"1.999", 0, false}, // sub-cent precision rejected, not rounded
		{"abc", 0, false},
		{".", 0, false},
	}

	for _, tt := range tests {
		got, ok := ToMinorUnits(tt.in)
		if ok != tt.valid {
			t.Errorf("ToMinorUnits(%q) valid = %v, want %v", tt.in, ok, tt.valid)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("ToMinorUnits(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestFromMinorUnits(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{10000, "100.00"},
		{4950, "49.50"},
		{1, "0.01"},
		{0, "0.00"},
		{-250, "-2.50"},
	}

	for _, tt := range tests {
		if got := FromMinorUnits(tt.in); got != tt.want {
			t.Errorf("FromMinorUnits(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, s := range []string{"0.01", "1.00", "100.00", "9999.99"} {
		n, ok := ToMinorUnits(s)
		if !ok {
			t.Fatalf("ToMinorUnits(%q) unexpectedly invalid", s)
		}
		if got := FromMinorUnits(n); got != s {
			t.Errorf("round trip %q -> %d -> %q", s, n, got)
		}
	}
}

func TestIsValid(t *testing.T) {
	if !IsValid("25.00") {
		t.Error("expected 25.00 to be valid")
	}
	if IsValid("0") {
		t.Error("zero amounts are not valid booking totals")
	}
	if IsValid("-5") {
		t.Error("negative amounts are not valid")
	}
}
