package logger

import "testing"

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":      {0, 0},
		"10":    {1, 10},
		"0":     {0, 0},
		"2/5":   {2, 5},
		" 1/3 ": {1, 3},
		"a/b":   {0, 0},
		"x":     {0, 0},
	}
	for spec, want := range cases {
		n, d := parseRatioSpec(spec)
		if n != want[0] || d != want[1] {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, n, d, want[0], want[1])
		}
	}
}

func TestKeyedSamplerCountsPerKey(t *testing.T) {
	s := newKeyedSampler(1, 3)
	var busy int
	for i := 0; i < 9; i++ {
		if s.Allow("busy_bot") {
			busy++
		}
	}
	if busy != 3 {
		t.Fatalf("busy bot passed %d of 9, want 3", busy)
	}
	if !s.Allow("quiet_bot") {
		t.Fatal("first event of another key should pass")
	}
}

func TestKeyedSamplerDisabled(t *testing.T) {
	s := newKeyedSampler(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow("k") {
			t.Fatal("disabled sampler must pass everything")
		}
	}
	s.Set(5, 2)
	if !s.Allow("k") || !s.Allow("k") {
		t.Fatal("numerator above denominator should pass everything")
	}
}
