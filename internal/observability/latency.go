package observability

import (
	"math"
	"sort"
	"sync"
	"time"
)

// stageBudgets is the per-stage latency a voice turn can spend before the
// pause in the meeting becomes noticeable.
var stageBudgets = map[string]time.Duration{
	"transcribe": 1200 * time.Millisecond,
	"generate":   2500 * time.Millisecond,
	"synthesize": 1500 * time.Millisecond,
	"publish":    3 * time.Second,
	"turn_total": 8 * time.Second,
}

// StageLatency summarizes the recent samples of one turn stage.
type StageLatency struct {
	Stage      string  `json:"stage"`
	Samples    int     `json:"samples"`
	P50MS      float64 `json:"p50_ms"`
	P95MS      float64 `json:"p95_ms"`
	MaxMS      float64 `json:"max_ms"`
	BudgetMS   float64 `json:"budget_ms,omitempty"`
	OverBudget int     `json:"over_budget"`
}

// TurnTally counts how recent turns ended.
type TurnTally struct {
	Total        int            `json:"total"`
	Delivered    int            `json:"delivered"`
	DeliveryRate float64        `json:"delivery_rate"`
	Reasons      map[string]int `json:"reasons"`
}

// LatencyReport is served by /v1/perf/latency.
type LatencyReport struct {
	GeneratedAt time.Time      `json:"generated_at"`
	WindowSize  int            `json:"window_size"`
	Stages      []StageLatency `json:"stages"`
	Turns       TurnTally      `json:"turns"`
}

// latencyWindow keeps the last size samples per stage, oldest first.
type latencyWindow struct {
	mu        sync.Mutex
	size      int
	samples   map[string][]time.Duration
	reasons   map[string]int
	turns     int
	delivered int
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = 256
	}
	return &latencyWindow{
		size:    size,
		samples: make(map[string][]time.Duration),
		reasons: make(map[string]int),
	}
}

func (w *latencyWindow) record(stage string, d time.Duration) {
	if stage == "" || d < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	s := append(w.samples[stage], d)
	if len(s) > w.size {
		s = append(s[:0], s[len(s)-w.size:]...)
	}
	w.samples[stage] = s
}

func (w *latencyWindow) recordTurn(reason string, delivered bool) {
	if reason == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turns++
	w.reasons[reason]++
	if delivered {
		w.delivered++
	}
}

func (w *latencyWindow) report() LatencyReport {
	w.mu.Lock()
	defer w.mu.Unlock()

	stages := make([]StageLatency, 0, len(w.samples))
	for stage, s := range w.samples {
		if len(s) == 0 {
			continue
		}
		sorted := append([]time.Duration(nil), s...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		row := StageLatency{
			Stage:   stage,
			Samples: len(sorted),
			P50MS:   millis(nearestRank(sorted, 50)),
			P95MS:   millis(nearestRank(sorted, 95)),
			MaxMS:   millis(sorted[len(sorted)-1]),
		}
		if budget, ok := stageBudgets[stage]; ok {
			row.BudgetMS = millis(budget)
			row.OverBudget = len(sorted) - sort.Search(len(sorted), func(i int) bool { return sorted[i] > budget })
		}
		stages = append(stages, row)
	}
	sort.Slice(stages, func(i, j int) bool { return stages[i].Stage < stages[j].Stage })

	tally := TurnTally{
		Total:     w.turns,
		Delivered: w.delivered,
		Reasons:   make(map[string]int, len(w.reasons)),
	}
	for reason, n := range w.reasons {
		tally.Reasons[reason] = n
	}
	if w.turns > 0 {
		tally.DeliveryRate = math.Round(float64(w.delivered)/float64(w.turns)*1000) / 1000
	}

	return LatencyReport{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.size,
		Stages:      stages,
		Turns:       tally,
	}
}

func (w *latencyWindow) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = make(map[string][]time.Duration)
	w.reasons = make(map[string]int)
	w.turns = 0
	w.delivered = 0
}

// nearestRank returns the smallest sample with at least pct percent of the
// samples at or below it.
func nearestRank(sorted []time.Duration, pct int) time.Duration {
	rank := (pct*len(sorted) + 99) / 100
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

func millis(d time.Duration) float64 {
	return math.Round(float64(d.Microseconds())/10) / 100
}
