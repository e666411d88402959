package observability

import (
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// Connect stage names recorded by the session controller. ConnectTotal is the
// wall time from the connect request to the first capability connect event.
const (
	StagePermission      = "permission"
	StageAudioUnlock     = "audio_unlock"
	StageTokenExchange   = "token_exchange"
	StageCapabilityStart = "capability_start"
	StageConnectTotal    = "connect_total"
)

type ConnectStageStats struct {
	Stage       string  `json:"stage"`
	Samples     int     `json:"samples"`
	LastMS      float64 `json:"last_ms"`
	AvgMS       float64 `json:"avg_ms"`
	MinMS       float64 `json:"min_ms"`
	P50MS       float64 `json:"p50_ms"`
	P95MS       float64 `json:"p95_ms"`
	MaxMS       float64 `json:"max_ms"`
	TargetP95MS float64 `json:"target_p95_ms,omitempty"`
}

type ConnectIndicator struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type ConnectStageSnapshot struct {
	GeneratedAt time.Time           `json:"generated_at"`
	WindowSize  int                 `json:"window_size"`
	Stages      []ConnectStageStats `json:"stages"`
	Indicators  []ConnectIndicator  `json:"indicators,omitempty"`
}

// connectStageWindow keeps, per stage, the most recent observations in a
// fixed-size series. Older samples are overwritten; quantiles are computed
// over whatever the series currently holds.
type connectStageWindow struct {
	mu         sync.RWMutex
	maxSamples int
	series     map[string]*stageSeries
	indicators map[string]int
}

// stageSeries holds the count of all observations ever made; the ring holds
// the min(count, len(ring)) most recent of them.
type stageSeries struct {
	ring  []float64
	count int
	last  float64
}

func newConnectStageWindow(maxSamples int) *connectStageWindow {
	if maxSamples <= 0 {
		maxSamples = 256
	}
	return &connectStageWindow{
		maxSamples: maxSamples,
		series:     make(map[string]*stageSeries),
		indicators: make(map[string]int),
	}
}

func (w *connectStageWindow) Observe(stage string, ms float64) {
	if stage == "" || ms < 0 {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	s, ok := w.series[stage]
	if !ok {
		s = &stageSeries{ring: make([]float64, w.maxSamples)}
		w.series[stage] = s
	}
	s.ring[s.count%len(s.ring)] = ms
	s.count++
	s.last = ms
}

func (w *connectStageWindow) Snapshot() ConnectStageSnapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.series))
	for stage := range w.series {
		keys = append(keys, stage)
	}
	sort.Strings(keys)

	stages := make([]ConnectStageStats, 0, len(keys))
	for _, stage := range keys {
		s := w.series[stage]
		n := s.count
		if n > len(s.ring) {
			n = len(s.ring)
		}
		if n == 0 {
			continue
		}
		sorted := make([]float64, n)
		copy(sorted, s.ring[:n])
		sort.Float64s(sorted)

		sum := 0.0
		for _, v := range sorted {
			sum += v
		}

		stages = append(stages, ConnectStageStats{
			Stage:       stage,
			Samples:     n,
			LastMS:      round2(s.last),
			AvgMS:       round2(sum / float64(n)),
			MinMS:       round2(sorted[0]),
			P50MS:       round2(nearestRank(sorted, 0.50)),
			P95MS:       round2(nearestRank(sorted, 0.95)),
			MaxMS:       round2(sorted[n-1]),
			TargetP95MS: stageTargetP95MS(stage),
		})
	}

	indicatorKeys := make([]string, 0, len(w.indicators))
	for name := range w.indicators {
		indicatorKeys = append(indicatorKeys, name)
	}
	sort.Strings(indicatorKeys)
	indicators := make([]ConnectIndicator, 0, len(indicatorKeys))
	for _, name := range indicatorKeys {
		if count := w.indicators[name]; count > 0 {
			indicators = append(indicators, ConnectIndicator{Name: name, Count: count})
		}
	}

	return ConnectStageSnapshot{
		GeneratedAt: time.Now().UTC(),
		WindowSize:  w.maxSamples,
		Stages:      stages,
		Indicators:  indicators,
	}
}

func (w *connectStageWindow) ObserveIndicator(name string) {
	if w == nil {
		return
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.indicators[name]++
}

func (w *connectStageWindow) Reset() {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.series = make(map[string]*stageSeries)
	w.indicators = make(map[string]int)
}

// nearestRank picks the nearest-rank quantile: the smallest sample such that
// at least q of the series is at or below it.
func nearestRank(sorted []float64, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(q * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stageTargetP95MS(stage string) float64 {
	switch stage {
	case StagePermission:
		return 50
	case StageAudioUnlock:
		return 100
	case StageTokenExchange:
		return 800
	case StageCapabilityStart:
		return 1200
	case StageConnectTotal:
		return 2000
	default:
		return 0
	}
}
