package ping

// Stats accumulates the outcome of one probe session. Reset only by
// starting a new session.
type Stats struct {
	Sent     int
	Received int
	Lost     int

	RTTMinMs   float64
	RTTMaxMs   float64
	RTTAvgMs   float64
	rttTotalMs float64

	RSSIMin     int
	RSSIMax     int
	RSSIAvg     float64
	rssiTotal   int
	rssiSamples int
}

// NewStats returns an empty accumulator.
func NewStats() *Stats {
	return &Stats{}
}

// RecordLoss counts one probe that went unanswered, was rejected by the
// transport or drew an invalid reply.
func (s *Stats) RecordLoss() {
	s.Sent++
	s.Lost++
}

// RecordSuccess folds one answered probe into the running aggregates.
// The averages are recomputed on every receipt.
func (s *Stats) RecordSuccess(rttMs float64, rssi int, hasSignal bool) {
	s.Sent++
	s.Received++

	s.rttTotalMs += rttMs
	if s.Received == 1 || rttMs < s.RTTMinMs {
		s.RTTMinMs = rttMs
	}
	if rttMs > s.RTTMaxMs {
		s.RTTMaxMs = rttMs
	}
	s.RTTAvgMs = s.rttTotalMs / float64(s.Received)

	if hasSignal {
		s.rssiTotal += rssi
		s.rssiSamples++
		if s.rssiSamples == 1 || rssi < s.RSSIMin {
			s.RSSIMin = rssi
		}
		if s.rssiSamples == 1 || rssi > s.RSSIMax {
			s.RSSIMax = rssi
		}
		s.RSSIAvg = float64(s.rssiTotal) / float64(s.rssiSamples)
	}
}

// RSSISamples returns how many replies carried signal readings. Replies
// from line-mode modules carry none.
func (s *Stats) RSSISamples() int {
	return s.rssiSamples
}

// LossPercent returns lost/sent as a percentage, 0 for an empty session.
func (s *Stats) LossPercent() float64 {
	if s.Sent == 0 {
		return 0
	}
	return float64(s.Lost) / float64(s.Sent) * 100
}
