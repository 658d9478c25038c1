package staging

import (
	"errors"
	"fmt"
)

var (
	// ErrModelUnavailable covers unreachable models, missing artifacts and
	// timeouts.
	ErrModelUnavailable = errors.New("stage model unavailable")
	// ErrSchemaMismatch is returned when the model was trained on a feature
	// list other than FeatureNames.
	ErrSchemaMismatch = errors.New("stage model feature schema mismatch")
)

// ModelContractViolation reports a label outside G1..G5.
type ModelContractViolation struct {
	Model string
	Label string
}

func (e *ModelContractViolation) Error() string {
	return fmt.Sprintf("model %s returned out-of-domain stage %q", e.Model, e.Label)
}

func IsContractViolation(err error) bool {
	var cv *ModelContractViolation
	return errors.As(err, &cv)
}
