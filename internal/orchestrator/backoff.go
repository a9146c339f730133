package orchestrator

import "time"

// backoffFor computes the exponential backoff for a retry attempt (0-based),
// base * 2^attempt, capped at maxBackoff — spec.md section 4.7's
// "exponential backoff (base 2^attempt seconds, capped)".
func backoffFor(attempt int, base, maxBackoff time.Duration) time.Duration {
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// stageDeadline computes the per-stage timeout: the agent's own declared
// estimated latency times the configured multiplier, clamped to the
// configured max (spec.md section 6's stage_deadline_multiplier /
// stage_deadline_max_ms).
func stageDeadline(estimatedLatencyMs int, multiplier float64, maxMs int) time.Duration {
	d := time.Duration(float64(estimatedLatencyMs)*multiplier) * time.Millisecond
	max := time.Duration(maxMs) * time.Millisecond
	if d > max || d <= 0 {
		return max
	}
	return d
}
