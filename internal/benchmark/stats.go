package benchmark

import "sort"

// Stat compares one value against the same value across peers.
type Stat struct {
	Average    float64 `json:"average"`
	Median     float64 `json:"median"`
	Percentile int     `json:"percentile"`
	PeerCount  int     `json:"peer_count"`
}

// Compare returns nil when there is no own value or no peers. Percentile
// counts peers strictly below own; ties do not count.
func Compare(own *float64, peers []float64) *Stat {
	if own == nil || len(peers) == 0 {
		return nil
	}
	sorted := append([]float64(nil), peers...)
	sort.Float64s(sorted)

	var sum float64
	below := 0
	for _, p := range sorted {
		sum += p
		if *own > p {
			below++
		}
	}
	n := len(sorted)
	median := sorted[n/2]
	if n%2 == 0 {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return &Stat{
		Average:    sum / float64(n),
		Median:     median,
		Percentile: below * 100 / n,
		PeerCount:  n,
	}
}

func ptr(v float64) *float64 { return &v }
