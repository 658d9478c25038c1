package staging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ai4ckd/platform/pkg/common/logger"
	"github.com/ai4ckd/platform/pkg/common/models"
	"github.com/sirupsen/logrus"
)

// Fallback reasons recorded on degraded classifications.
const (
	ReasonNoModel           = "no_model"
	ReasonTimeout           = "timeout"
	ReasonUnavailable       = "model_unavailable"
	ReasonSchemaMismatch    = "schema_mismatch"
	ReasonContractViolation = "contract_violation"
	ReasonModelError        = "model_error"
)

const DefaultTimeout = 2 * time.Second

// Classification is the adapter's answer. Degraded results come from the
// eDFG band table rather than the model.
type Classification struct {
	Stage    Stage  `json:"stage"`
	Degraded bool   `json:"degraded"`
	Source   string `json:"source"`
	Reason   string `json:"reason,omitempty"`
}

// Adapter consults the primary classifier under a timeout and falls back
// to the band table on any failure.
type Adapter struct {
	primary  Classifier
	fallback *BandClassifier
	timeout  time.Duration
}

// NewAdapter builds an adapter. primary may be nil, in which case every
// classification is degraded.
func NewAdapter(primary Classifier, fallback *BandClassifier, timeout time.Duration) *Adapter {
	if fallback == nil {
		fallback = NewBandClassifier(nil)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Adapter{primary: primary, fallback: fallback, timeout: timeout}
}

type outcome struct {
	stage Stage
	err   error
}

func (a *Adapter) Classify(ctx context.Context, fv models.FeatureVector) Classification {
	if a.primary == nil {
		return a.degrade(fv, ReasonNoModel, nil)
	}

	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("model panic: %v", r)}
			}
		}()
		stage, err := a.primary.Classify(callCtx, fv)
		done <- outcome{stage: stage, err: err}
	}()

	var err error
	select {
	case res := <-done:
		if res.err == nil && !res.stage.Valid() {
			res.err = &ModelContractViolation{Model: a.primary.Name(), Label: res.stage.String()}
		}
		if res.err == nil {
			return Classification{Stage: res.stage, Source: a.primary.Name()}
		}
		err = res.err
	case <-callCtx.Done():
		err = fmt.Errorf("%w: %w", ErrModelUnavailable, callCtx.Err())
	}
	reason := reasonFor(err)
	if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		reason = ReasonTimeout
	}
	return a.degrade(fv, reason, err)
}

func (a *Adapter) degrade(fv models.FeatureVector, reason string, cause error) Classification {
	stage, _ := a.fallback.Classify(context.Background(), fv)
	if cause != nil {
		entry := logger.Log.WithFields(logrus.Fields{
			"patient_id": fv.PatientID,
			"model":      a.primary.Name(),
			"reason":     reason,
			"stage":      stage.String(),
		}).WithError(cause)
		if reason == ReasonContractViolation || reason == ReasonSchemaMismatch {
			entry.Error("stage model contract broken, using eDFG bands")
		} else {
			entry.Warn("stage model failed, using eDFG bands")
		}
	}
	return Classification{Stage: stage, Degraded: true, Source: a.fallback.Name(), Reason: reason}
}

func reasonFor(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case IsContractViolation(err):
		return ReasonContractViolation
	case errors.Is(err, ErrSchemaMismatch):
		return ReasonSchemaMismatch
	case errors.Is(err, ErrModelUnavailable):
		return ReasonUnavailable
	default:
		return ReasonModelError
	}
}

// ModelName reports the configured primary, or the fallback when none.
func (a *Adapter) ModelName() string {
	if a.primary == nil {
		return a.fallback.Name()
	}
	return a.primary.Name()
}

// Ping checks the primary classifier when it supports readiness probes.
func (a *Adapter) Ping(ctx context.Context) error {
	if a.primary == nil {
		return fmt.Errorf("%w: no model configured", ErrModelUnavailable)
	}
	p, ok := a.primary.(Pinger)
	if !ok {
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	return p.Ping(pingCtx)
}
