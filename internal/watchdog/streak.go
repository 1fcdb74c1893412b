package watchdog

// failureStreak counts consecutive unhealthy probes in daemon mode.
type failureStreak struct {
	threshold int
	count     int
}

func newFailureStreak(threshold int) *failureStreak {
	if threshold <= 0 {
		threshold = 1
	}
	return &failureStreak{threshold: threshold}
}

// Observe records one probe result. trip is true when the streak reaches
// the threshold; the streak then starts over. recovered is true for a
// healthy probe that ends a streak.
func (s *failureStreak) Observe(healthy bool) (trip bool, recovered bool) {
	if healthy {
		recovered = s.count > 0
		s.count = 0
		return false, recovered
	}

	s.count++
	if s.count >= s.threshold {
		s.count = 0
		return true, false
	}
	return false, false
}

// Count returns the current number of consecutive failures.
func (s *failureStreak) Count() int { return s.count }
