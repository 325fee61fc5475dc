package logger

import (
	"strconv"
	"strings"
	"sync"
)

// maxSamplerKeys bounds the per-key counters; past it the counters reset.
const maxSamplerKeys = 4096

// keyedSampler lets numerator out of every denominator events through,
// counted separately per key. Every tenant bot shares the process, so a
// single counter would let a busy bot use up a quiet bot's share.
type keyedSampler struct {
	mu          sync.Mutex
	numerator   int
	denominator int
	counters    map[string]int
}

func newKeyedSampler(numerator, denominator int) *keyedSampler {
	s := &keyedSampler{}
	s.Set(numerator, denominator)
	return s
}

// Set changes the ratio and resets every counter. A non-positive part
// disables sampling, so every event passes.
func (s *keyedSampler) Set(numerator, denominator int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if numerator <= 0 || denominator <= 0 {
		numerator, denominator = 0, 0
	}
	s.numerator = min(numerator, denominator)
	s.denominator = denominator
	s.counters = make(map[string]int)
}

// Allow reports whether the next event for key passes.
func (s *keyedSampler) Allow(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.denominator <= 0 {
		return true
	}
	n, ok := s.counters[key]
	if !ok && len(s.counters) >= maxSamplerKeys {
		s.counters = make(map[string]int)
	}
	n++
	if n > s.denominator {
		n = 1
	}
	s.counters[key] = n
	return n <= s.numerator
}

// parseRatioSpec reads "N/M" or "M" (meaning 1/M). Anything else, and
// "0", disables sampling.
func parseRatioSpec(spec string) (int, int) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return 0, 0
	}
	if num, den, ok := strings.Cut(spec, "/"); ok {
		n, err1 := strconv.Atoi(strings.TrimSpace(num))
		d, err2 := strconv.Atoi(strings.TrimSpace(den))
		if err1 == nil && err2 == nil {
			return n, d
		}
		return 0, 0
	}
	if v, err := strconv.Atoi(spec); err == nil && v > 0 {
		return 1, v
	}
	return 0, 0
}
