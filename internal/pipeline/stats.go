package pipeline

import (
	"sort"
	"sync"
)

// StrategyCounts tracks attempt results for one strategy.
type StrategyCounts struct {
	Name      string           `json:"name"`
	Successes int64            `json:"successes"`
	Failures  map[string]int64 `json:"failures,omitempty"`
}

// Stats summarizes resolutions since start.
type Stats struct {
	Resolutions int64            `json:"resolutions"`
	CacheHits   int64            `json:"cache_hits"`
	Fallbacks   int64            `json:"fallbacks"`
	Shared      int64            `json:"shared"`
	Strategies  []StrategyCounts `json:"strategies"`
}

type counters struct {
	mu          sync.Mutex
	resolutions int64
	cacheHits   int64
	fallbacks   int64
	shared      int64
	byStrategy  map[string]*StrategyCounts
}

func newCounters() *counters {
	return &counters{byStrategy: make(map[string]*StrategyCounts)}
}

func (c *counters) strategy(name string) *StrategyCounts {
	sc, ok := c.byStrategy[name]
	if !ok {
		sc = &StrategyCounts{Name: name, Failures: make(map[string]int64)}
		c.byStrategy[name] = sc
	}
	return sc
}

func (c *counters) attempt(name, failureKind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sc := c.strategy(name)
	if failureKind == "" {
		sc.Successes++
		return
	}
	sc.Failures[failureKind]++
}

func (c *counters) resolved(cached, fallback bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolutions++
	if cached {
		c.cacheHits++
	}
	if fallback {
		c.fallbacks++
	}
}

func (c *counters) sharedCall() {
	c.mu.Lock()
	c.shared++
	c.mu.Unlock()
}

func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Stats{
		Resolutions: c.resolutions,
		CacheHits:   c.cacheHits,
		Fallbacks:   c.fallbacks,
		Shared:      c.shared,
		Strategies:  make([]StrategyCounts, 0, len(c.byStrategy)),
	}
	for _, sc := range c.byStrategy {
		failures := make(map[string]int64, len(sc.Failures))
		for k, v := range sc.Failures {
			failures[k] = v
		}
		s.Strategies = append(s.Strategies, StrategyCounts{Name: sc.Name, Successes: sc.Successes, Failures: failures})
	}
	sort.Slice(s.Strategies, func(i, j int) bool { return s.Strategies[i].Name < s.Strategies[j].Name })
	return s
}
