// Package screening wires the normalizer, staging, scoring, queue and
// regional aggregates into one engine owned by the process.
package screening

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/ai4ckd/platform/pkg/edfg"
	"github.com/ai4ckd/platform/pkg/geo"
	"github.com/ai4ckd/platform/pkg/normalizer"
	"github.com/ai4ckd/platform/pkg/observability/metrics"
	"github.com/ai4ckd/platform/pkg/srirc"
	"github.com/ai4ckd/platform/pkg/staging"
	"github.com/ai4ckd/platform/pkg/triage"
	"golang.org/x/sync/errgroup"
)

const eventSource = "triage-service"

var ErrClosed = errors.New("screening engine closed")

// ErrNoEventLog is returned by ScoreHistory when no audit log is configured.
var ErrNoEventLog = errors.New("score history not recorded")

// Publisher is satisfied by kafka.Producer.
type Publisher interface {
	PublishEvent(ctx context.Context, eventType string, source string, data map[string]interface{}) error
}

// Options configures New. Only Store is required.
type Options struct {
	Store      Store
	Normalizer *normalizer.Normalizer
	Classifier *staging.Adapter
	Scorer     *srirc.Scorer
	Registry   *geo.Registry
	Events     EventLog
	Publisher  Publisher
	Workers    int
	Now        func() time.Time
}

// Engine owns the prioritization queue and the regional aggregates. Build
// one at startup with New and stop it with Close.
type Engine struct {
	store      Store
	normalizer *normalizer.Normalizer
	classifier *staging.Adapter
	scorer     *srirc.Scorer
	registry   *geo.Registry
	events     EventLog
	publisher  Publisher
	workers    int
	now        func() time.Time

	queue      *triage.Queue
	aggregator *geo.Aggregator
	locks      *keyedMutex

	mu       sync.RWMutex
	closed   bool
	inflight sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, errors.New("screening: store is required")
	}
	e := &Engine{
		store:      opts.Store,
		normalizer: opts.Normalizer,
		classifier: opts.Classifier,
		scorer:     opts.Scorer,
		registry:   opts.Registry,
		events:     opts.Events,
		publisher:  opts.Publisher,
		workers:    opts.Workers,
		now:        opts.Now,
		queue:      triage.NewQueue(),
		locks:      newKeyedMutex(),
	}
	if e.normalizer == nil {
		e.normalizer = normalizer.New(nil)
	}
	if e.classifier == nil {
		e.classifier = staging.NewAdapter(nil, nil, 0)
	}
	if e.scorer == nil {
		scorer, err := srirc.NewScorer(srirc.DefaultWeights())
		if err != nil {
			return nil, err
		}
		e.scorer = scorer
	}
	if e.registry == nil {
		e.registry = geo.DefaultRegistry()
	}
	if e.workers <= 0 {
		e.workers = runtime.NumCPU()
	}
	if e.now == nil {
		e.now = func() time.Time { return time.Now().UTC() }
	}
	e.aggregator = geo.NewAggregator(e.registry)
	return e, nil
}

// Close rejects new work and waits for in-flight submissions.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	e.inflight.Wait()
	return nil
}

func (e *Engine) enter() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return false
	}
	e.inflight.Add(1)
	return true
}

// Assessment is the stateless evaluation of one record.
type Assessment struct {
	PatientID      string                 `json:"patient_id"`
	Region         string                 `json:"region"`
	Features       models.FeatureVector   `json:"features"`
	Indicators     edfg.Indicators        `json:"indicators"`
	Classification staging.Classification `json:"classification"`
	Risk           srirc.Result           `json:"risk"`
	Advice         srirc.Advice           `json:"advice"`
}

// Outcome is an Assessment after it reached the queue.
type Outcome struct {
	Assessment
	Version  int `json:"version"`
	Position int `json:"position"`

	// Aggregated is false when the region is not in the registry; the
	// patient is queued but excluded from regional statistics.
	Aggregated bool `json:"aggregated"`
}

// Assess normalizes and scores a record without touching any state. The
// classifier runs concurrently with the eDFG and SR-IRC computations.
func (e *Engine) Assess(ctx context.Context, rec models.PatientRecord) (Assessment, error) {
	fv, err := e.normalizer.Normalize(rec)
	if err != nil {
		metrics.ObserveRejected()
		return Assessment{}, err
	}

	start := time.Now()
	classified := make(chan staging.Classification, 1)
	go func() {
		classified <- e.classifier.Classify(ctx, fv)
	}()

	gfr := edfg.FromFeatures(fv)
	indicators := edfg.Compute(fv)
	risk := e.scorer.ScoreWithEDFG(fv, gfr)

	cls := <-classified
	metrics.ObserveClassifyLatency(time.Since(start).Microseconds())

	region := fv.Region
	if id, ok := e.registry.Resolve(fv.Region); ok {
		region = id
	}
	return Assessment{
		PatientID:      fv.PatientID,
		Region:         region,
		Features:       fv,
		Indicators:     indicators,
		Classification: cls,
		Risk:           risk,
		Advice:         srirc.Recommendation(risk.Tier),
	}, nil
}

// Submit stores a new version of the record, then replaces the patient's
// queue entry and regional contribution. The three steps run under the
// patient's lock so concurrent submissions for one patient apply in store
// order.
func (e *Engine) Submit(ctx context.Context, rec models.PatientRecord) (Outcome, error) {
	if !e.enter() {
		return Outcome{}, ErrClosed
	}
	defer e.inflight.Done()

	a, err := e.Assess(ctx, rec)
	if err != nil {
		return Outcome{}, err
	}
	return e.commit(ctx, rec, a)
}

// commit stores rec and applies its assessment. Callers hold an inflight
// reference.
func (e *Engine) commit(ctx context.Context, rec models.PatientRecord, a Assessment) (Outcome, error) {
	rec.PatientID = a.PatientID
	rec.Region = a.Region
	rec.Version = 0
	rec.Removed = false

	unlock := e.locks.Lock(a.PatientID)
	stored, err := e.store.Put(ctx, rec)
	if err != nil {
		unlock()
		metrics.ObserveStorageError()
		return Outcome{}, fmt.Errorf("storing %s: %w", a.PatientID, err)
	}
	out, err := e.apply(a, stored.Version)
	unlock()
	if err != nil {
		return Outcome{}, err
	}

	metrics.ObserveScored(a.Classification.Degraded, !out.Aggregated)
	metrics.ObserveQueueDepth(e.queue.Len())
	e.record(ctx, out)
	return out, nil
}

// apply must run under the patient's lock.
func (e *Engine) apply(a Assessment, version int) (Outcome, error) {
	a.Features.Version = version
	entry := triage.Entry{
		PatientID: a.PatientID,
		Region:    a.Region,
		Stage:     a.Classification.Stage,
		Score:     a.Risk.Score,
		Tier:      a.Risk.Tier,
		Degraded:  a.Classification.Degraded,
		EDFG:      a.Indicators.EDFG,
		Version:   version,
		UpdatedAt: e.now(),
	}
	pos, err := e.queue.Upsert(entry)
	if err != nil {
		return Outcome{}, err
	}

	out := Outcome{Assessment: a, Version: version, Position: pos, Aggregated: true}
	if err := e.aggregator.Apply(entry, a.Region); err != nil {
		var unknown *geo.UnknownRegionError
		if !errors.As(err, &unknown) {
			e.queue.Remove(a.PatientID)
			return Outcome{}, err
		}
		// The latest record is not in any known region, so the patient
		// stops counting wherever it counted before.
		e.aggregator.Remove(a.PatientID)
		out.Aggregated = false
		logger.ForPatient(a.PatientID, a.Region).Warn("region not in registry, excluded from aggregates")
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, out Outcome) {
	if e.events != nil {
		event := ScoreEvent{
			PatientID: out.PatientID,
			Version:   out.Version,
			Region:    out.Region,
			Stage:     out.Classification.Stage.String(),
			Source:    out.Classification.Source,
			Degraded:  out.Classification.Degraded,
			Reason:    out.Classification.Reason,
			EDFG:      out.Indicators.EDFG,
			Score:     out.Risk.Score,
			Tier:      out.Risk.Tier.String(),
			Factors:   factorMap(out.Risk.Factors),
			CreatedAt: e.now(),
		}
		if err := e.events.Append(ctx, event); err != nil {
			logger.ForPatient(out.PatientID, out.Region).WithError(err).Warn("score event not recorded")
		}
	}
	if e.publisher != nil {
		err := e.publisher.PublishEvent(ctx, models.EventPatientScored, eventSource, map[string]interface{}{
			"patient_id": out.PatientID,
			"region":     out.Region,
			"version":    out.Version,
			"stage":      out.Classification.Stage.String(),
			"degraded":   out.Classification.Degraded,
			"score":      out.Risk.Score,
			"tier":       out.Risk.Tier.String(),
			"edfg":       out.Indicators.EDFG,
			"position":   out.Position,
		})
		if err != nil {
			logger.ForPatient(out.PatientID, out.Region).WithError(err).Warn("scored event not published")
		}
	}
}

// BatchItem is the result for records[Index] of a SubmitBatch call.
type BatchItem struct {
	Index   int
	Outcome Outcome
	Err     error
}

// SubmitBatch submits records over a bounded worker pool. A failing record
// does not stop the others. Records are assessed concurrently, then each
// patient's records are stored in input order so the last row for a patient
// is the one left in the queue and the aggregates.
func (e *Engine) SubmitBatch(ctx context.Context, records []models.PatientRecord) []BatchItem {
	items := make([]BatchItem, len(records))
	for i := range items {
		items[i].Index = i
	}
	if !e.enter() {
		for i := range items {
			items[i].Err = ErrClosed
		}
		return items
	}
	defer e.inflight.Done()

	assessed := make([]Assessment, len(records))
	var g errgroup.Group
	g.SetLimit(e.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i].Err = err
				return nil
			}
			assessed[i], items[i].Err = e.Assess(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	var order []string
	byPatient := make(map[string][]int)
	for i := range records {
		if items[i].Err != nil {
			continue
		}
		pid := assessed[i].PatientID
		if _, ok := byPatient[pid]; !ok {
			order = append(order, pid)
		}
		byPatient[pid] = append(byPatient[pid], i)
	}

	var commits errgroup.Group
	commits.SetLimit(e.workers)
	for _, pid := range order {
		indexes := byPatient[pid]
		commits.Go(func() error {
			for _, i := range indexes {
				if err := ctx.Err(); err != nil {
					items[i].Err = err
					continue
				}
				items[i].Outcome, items[i].Err = e.commit(ctx, records[i], assessed[i])
			}
			return nil
		})
	}
	_ = commits.Wait()
	return items
}

// Remove writes a tombstone version and drops the patient from the queue
// and the aggregates.
func (e *Engine) Remove(ctx context.Context, patientID string) error {
	if !e.enter() {
		return ErrClosed
	}
	defer e.inflight.Done()

	unlock := e.locks.Lock(patientID)
	latest, err := e.store.Get(ctx, patientID)
	if err != nil {
		unlock()
		if errors.Is(err, ErrStorageUnavailable) {
			metrics.ObserveStorageError()
		}
		return err
	}
	latest.Removed = true
	latest.ReceivedAt = time.Time{}
	stored, err := e.store.Put(ctx, latest)
	if err != nil {
		unlock()
		metrics.ObserveStorageError()
		return fmt.Errorf("removing %s: %w", patientID, err)
	}
	e.queue.Remove(patientID)
	e.aggregator.Remove(patientID)
	unlock()

	metrics.ObserveRemoved()
	metrics.ObserveQueueDepth(e.queue.Len())
	logger.ForPatient(patientID, latest.Region).Info("patient removed from screening queue")
	if e.publisher != nil {
		err := e.publisher.PublishEvent(ctx, models.EventPatientRemoved, eventSource, map[string]interface{}{
			"patient_id": patientID,
			"region":     latest.Region,
			"version":    stored.Version,
		})
		if err != nil {
			logger.ForPatient(patientID, latest.Region).WithError(err).Warn("removed event not published")
		}
	}
	return nil
}

// Rebuild replays the latest stored version of every patient into the
// queue and the aggregates. It is meant for startup, before traffic.
func (e *Engine) Rebuild(ctx context.Context) (int, error) {
	records, err := e.store.ListByRegion(ctx, "")
	if err != nil {
		return 0, err
	}

	var replayed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, err := e.Assess(gctx, rec)
			if err != nil {
				logger.ForPatient(rec.PatientID, rec.Region).WithError(err).Warn("stored record no longer valid, skipped")
				return nil
			}
			unlock := e.locks.Lock(a.PatientID)
			defer unlock()
			if current, ok := e.queue.Get(a.PatientID); ok && current.Version > rec.Version {
				return nil
			}
			if _, err := e.apply(a, rec.Version); err != nil {
				return err
			}
			replayed.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(replayed.Load()), err
	}
	metrics.ObserveQueueDepth(e.queue.Len())
	logger.Log.WithField("patients", replayed.Load()).Info("screening state rebuilt from store")
	return int(replayed.Load()), nil
}

// TopUrgent returns the n most urgent patients with their ranks.
func (e *Engine) TopUrgent(n int) []triage.Ranked {
	return e.queue.Snapshot(n)
}

// Urgent is the lazy form of TopUrgent.
func (e *Engine) Urgent(n int) iter.Seq[triage.Entry] {
	return e.queue.Top(n)
}

// Patient returns a patient's queue entry and 1-based rank.
func (e *Engine) Patient(patientID string) (triage.Entry, int, bool) {
	entry, ok := e.queue.Get(patientID)
	if !ok {
		return triage.Entry{}, 0, false
	}
	rank, ok := e.queue.Position(patientID)
	return entry, rank, ok
}

func (e *Engine) AggregatesByRegion() []geo.Aggregate {
	return e.aggregator.Snapshot()
}

func (e *Engine) Aggregate(region string) (geo.Aggregate, error) {
	return e.aggregator.Get(region)
}

// ScoreHistory returns the patient's audited scorings, newest first.
func (e *Engine) ScoreHistory(ctx context.Context, patientID string, limit int) ([]ScoreEvent, error) {
	if e.events == nil {
		return nil, ErrNoEventLog
	}
	return e.events.Recent(ctx, patientID, limit)
}

func (e *Engine) Totals() geo.Totals {
	return e.aggregator.Totals()
}

func (e *Engine) Registry() *geo.Registry {
	return e.registry
}

func (e *Engine) Snapshot(topN int) Snapshot {
	return Snapshot{
		GeneratedAt: e.now(),
		Top:         e.queue.Snapshot(topN),
		Regions:     e.aggregator.Snapshot(),
		Totals:      e.aggregator.Totals(),
	}
}

// Health reports whether the store and the stage model answer.
type Health struct {
	Status    string `json:"status"`
	Store     string `json:"store"`
	Model     string `json:"model"`
	ModelName string `json:"model_name"`
	Queue     int    `json:"queue"`
}

func (e *Engine) Health(ctx context.Context) Health {
	h := Health{Status: "healthy", Store: "ok", Model: "ok", ModelName: e.classifier.ModelName(), Queue: e.queue.Len()}
	if p, ok := e.store.(interface{ Ping(context.Context) error }); ok {
		if err := p.Ping(ctx); err != nil {
			h.Store = "unavailable"
			h.Status = "degraded"
		}
	}
	if err := e.classifier.Ping(ctx); err != nil {
		h.Model = "fallback"
		h.Status = "degraded"
	}
	return h
}
