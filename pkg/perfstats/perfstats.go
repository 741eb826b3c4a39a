package perfstats

// Package perfstats accumulates timings of the stages of the detection pipeline.

import (
	"sort"
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
	Max     time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
	a.Max = max(a.Max, v)
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// Summary is a snapshot of one stage, for JSON output
type Summary struct {
	Stage     string  `json:"stage"`
	Samples   int64   `json:"samples"`
	AverageMS float64 `json:"averageMS"`
	MaxMS     float64 `json:"maxMS"`
}

func (a *TimeAccumulator) Summary(stage string) Summary {
	return Summary{
		Stage:     stage,
		Samples:   a.Samples,
		AverageMS: float64(a.Average().Microseconds()) / 1000,
		MaxMS:     float64(a.Max.Microseconds()) / 1000,
	}
}

// Pipeline holds one accumulator per named stage. It is safe for concurrent use.
type Pipeline struct {
	lock   sync.Mutex
	stages map[string]*TimeAccumulator
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		stages: map[string]*TimeAccumulator{},
	}
}

func (p *Pipeline) Add(stage string, elapsed time.Duration) {
	p.lock.Lock()
	defer p.lock.Unlock()
	acc := p.stages[stage]
	if acc == nil {
		acc = &TimeAccumulator{}
		p.stages[stage] = acc
	}
	acc.AddSample(elapsed)
}

// Since records the time elapsed since start.
// Typical use is: defer p.Since("infer", time.Now())
func (p *Pipeline) Since(stage string, start time.Time) {
	p.Add(stage, time.Since(start))
}

// Summaries returns all stages, sorted by name
func (p *Pipeline) Summaries() []Summary {
	p.lock.Lock()
	defer p.lock.Unlock()
	all := make([]Summary, 0, len(p.stages))
	for name, acc := range p.stages {
		all = append(all, acc.Summary(name))
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].Stage < all[j].Stage
	})
	return all
}

// Reset forgets all stages
func (p *Pipeline) Reset() {
	p.lock.Lock()
	defer p.lock.Unlock()
	clear(p.stages)
}
