package geo

import (
	"fmt"
	"math"
	"sync"

	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/ai4ckd/platform/pkg/triage"
)

// UnknownRegionError rejects aggregation for a region missing from the
// registry.
type UnknownRegionError struct {
	Region string
}

func (e *UnknownRegionError) Error() string {
	return fmt.Sprintf("unknown region %q", e.Region)
}

// Aggregate is the rollup for one region, joined with its geometry.
type Aggregate struct {
	RegionID          string         `json:"region_id"`
	Name              string         `json:"name"`
	Zone              string         `json:"zone,omitempty"`
	Total             int            `json:"total"`
	ByStage           map[string]int `json:"by_stage"`
	ByTier            map[string]int `json:"by_tier"`
	MeanScore         float64        `json:"mean_score"`
	Degraded          int            `json:"degraded"`
	Population        int64          `json:"population"`
	PrevalencePer100k float64        `json:"prevalence_per_100k"`
	Center            [2]float64     `json:"center"`
	Bounds            [2][2]float64  `json:"bounds"`
}

// Totals sums every region.
type Totals struct {
	Patients  int            `json:"patients"`
	ByStage   map[string]int `json:"by_stage"`
	ByTier    map[string]int `json:"by_tier"`
	MeanScore float64        `json:"mean_score"`
	Degraded  int            `json:"degraded"`
}

type counters struct {
	total    int
	stages   [staging.G5 + 1]int
	tiers    [srirc.TierImminent + 1]int
	scoreSum int
	ckd      int
	degraded int
}

type contribution struct {
	region   string
	stage    staging.Stage
	tier     srirc.Tier
	score    int
	degraded bool
}

func (c *counters) add(k contribution, sign int) {
	c.total += sign
	c.stages[k.stage] += sign
	c.tiers[k.tier] += sign
	c.scoreSum += sign * k.score
	if k.stage >= staging.G3a {
		c.ckd += sign
	}
	if k.degraded {
		c.degraded += sign
	}
}

// Aggregator keeps one running rollup per registry region. Each patient
// contributes to at most one region; re-applying a patient reverses the
// previous contribution first.
type Aggregator struct {
	registry *Registry

	mu            sync.RWMutex
	regions       map[string]*counters
	contributions map[string]contribution
}

func NewAggregator(registry *Registry) *Aggregator {
	a := &Aggregator{
		registry:      registry,
		regions:       make(map[string]*counters, len(registry.regions)),
		contributions: make(map[string]contribution),
	}
	for _, id := range registry.IDs() {
		a.regions[id] = &counters{}
	}
	return a
}

func (a *Aggregator) Registry() *Registry { return a.registry }

// Apply moves the patient's contribution to region. Validation happens
// before any counter changes, so a rejected call leaves every aggregate,
// including the patient's previous contribution, untouched.
func (a *Aggregator) Apply(e triage.Entry, region string) error {
	id, ok := a.registry.Resolve(region)
	if !ok {
		return &UnknownRegionError{Region: region}
	}
	if e.PatientID == "" || !e.Stage.Valid() || e.Score < 0 {
		return fmt.Errorf("%w: patient %q stage %s score %d", triage.ErrInvalidEntry, e.PatientID, e.Stage, e.Score)
	}
	next := contribution{
		region:   id,
		stage:    e.Stage,
		tier:     srirc.TierOf(e.Score),
		score:    e.Score,
		degraded: e.Degraded,
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.contributions[e.PatientID]; ok {
		a.regions[prev.region].add(prev, -1)
	}
	a.regions[id].add(next, 1)
	a.contributions[e.PatientID] = next
	return nil
}

// Remove reverses a patient's contribution.
func (a *Aggregator) Remove(patientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	prev, ok := a.contributions[patientID]
	if !ok {
		return false
	}
	a.regions[prev.region].add(prev, -1)
	delete(a.contributions, patientID)
	return true
}

// RegionOf reports where a patient currently counts.
func (a *Aggregator) RegionOf(patientID string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	c, ok := a.contributions[patientID]
	return c.region, ok
}

func (a *Aggregator) Get(region string) (Aggregate, error) {
	id, ok := a.registry.Resolve(region)
	if !ok {
		return Aggregate{}, &UnknownRegionError{Region: region}
	}
	reg, _ := a.registry.Get(id)

	a.mu.RLock()
	c := *a.regions[id]
	a.mu.RUnlock()
	return buildAggregate(reg, c), nil
}

// Snapshot returns every region, including empty ones, ordered by id.
func (a *Aggregator) Snapshot() []Aggregate {
	regions := a.registry.Regions()
	copies := make([]counters, len(regions))

	a.mu.RLock()
	for i, reg := range regions {
		copies[i] = *a.regions[reg.ID]
	}
	a.mu.RUnlock()

	out := make([]Aggregate, len(regions))
	for i, reg := range regions {
		out[i] = buildAggregate(reg, copies[i])
	}
	return out
}

func (a *Aggregator) Totals() Totals {
	var sum counters
	a.mu.RLock()
	for _, c := range a.regions {
		sum.total += c.total
		sum.scoreSum += c.scoreSum
		sum.degraded += c.degraded
		for i := range c.stages {
			sum.stages[i] += c.stages[i]
		}
		for i := range c.tiers {
			sum.tiers[i] += c.tiers[i]
		}
	}
	a.mu.RUnlock()

	return Totals{
		Patients:  sum.total,
		ByStage:   stageCounts(sum),
		ByTier:    tierCounts(sum),
		MeanScore: mean(sum),
		Degraded:  sum.degraded,
	}
}

func buildAggregate(reg Region, c counters) Aggregate {
	agg := Aggregate{
		RegionID:   reg.ID,
		Name:       reg.Name,
		Zone:       reg.Zone,
		Total:      c.total,
		ByStage:    stageCounts(c),
		ByTier:     tierCounts(c),
		MeanScore:  mean(c),
		Degraded:   c.degraded,
		Population: reg.Population,
		Center:     reg.Center,
		Bounds:     reg.Bounds,
	}
	if reg.Population > 0 {
		agg.PrevalencePer100k = round2(float64(c.ckd) / float64(reg.Population) * 100000)
	}
	return agg
}

func stageCounts(c counters) map[string]int {
	out := make(map[string]int, len(staging.Stages))
	for _, s := range staging.Stages {
		out[s.String()] = c.stages[s]
	}
	return out
}

func tierCounts(c counters) map[string]int {
	out := make(map[string]int, len(srirc.Tiers))
	for _, t := range srirc.Tiers {
		out[t.String()] = c.tiers[t]
	}
	return out
}

func mean(c counters) float64 {
	if c.total == 0 {
		return 0
	}
	return round2(float64(c.scoreSum) / float64(c.total))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
