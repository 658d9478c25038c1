package staging

import (
	"context"

	"github.com/ai4ckd/platform/pkg/common/models"
)

// Classifier assigns a stage to a normalized record.
type Classifier interface {
	Name() string
	Classify(ctx context.Context, fv models.FeatureVector) (Stage, error)
}

// Model is the opaque scoring function behind a ModelClassifier. It returns
// the raw class label; validating it is the classifier's job.
type Model interface {
	Name() string
	Predict(ctx context.Context, v Vector) (string, error)
}

// Pinger is implemented by models that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ModelClassifier adapts a Model to the Classifier contract.
type ModelClassifier struct {
	model Model
}

func NewModelClassifier(model Model) *ModelClassifier {
	return &ModelClassifier{model: model}
}

func (m *ModelClassifier) Name() string { return m.model.Name() }

func (m *ModelClassifier) Classify(ctx context.Context, fv models.FeatureVector) (Stage, error) {
	label, err := m.model.Predict(ctx, BuildVector(fv))
	if err != nil {
		return StageUnknown, err
	}
	stage, err := ParseStage(label)
	if err != nil {
		return StageUnknown, &ModelContractViolation{Model: m.model.Name(), Label: label}
	}
	return stage, nil
}

func (m *ModelClassifier) Ping(ctx context.Context) error {
	if p, ok := m.model.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}
