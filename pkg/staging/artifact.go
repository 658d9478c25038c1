package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
)

// Artifact is a multinomial logistic model exported by the training
// pipeline as <name>_latest.json.
type Artifact struct {
	Model struct {
		Type         string   `json:"type"`
		Algorithm    string   `json:"algorithm"`
		Version      string   `json:"version"`
		FeatureNames []string `json:"feature_names"`
		Classes      []string `json:"classes"`
		Scaler       struct {
			Mean  []float64 `json:"mean"`
			Scale []float64 `json:"scale"`
		} `json:"scaler"`
		Weights struct {
			Bias         []float64   `json:"bias"`
			Coefficients [][]float64 `json:"coefficients"`
		} `json:"weights"`
	} `json:"model"`
}

// ArtifactModel scores vectors against an on-disk artifact, reloading it
// whenever the file's modification time changes.
type ArtifactModel struct {
	dir   string
	name  string
	cache cachedArtifact
	mu    sync.RWMutex
}

type cachedArtifact struct {
	artifact Artifact
	modTime  int64
}

func NewArtifactModel(dir, name string) *ArtifactModel {
	return &ArtifactModel{dir: dir, name: name}
}

func (m *ArtifactModel) Name() string { return m.name }

func (m *ArtifactModel) Path() string {
	return filepath.Join(m.dir, fmt.Sprintf("%s_latest.json", m.name))
}

func (m *ArtifactModel) Predict(ctx context.Context, v Vector) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	artifact, err := m.loadArtifact()
	if err != nil {
		return "", err
	}
	if !sameSchema(v.Names) || len(v.Values) != len(v.Names) {
		return "", fmt.Errorf("%w: request carries %d features", ErrSchemaMismatch, len(v.Values))
	}

	model := artifact.Model
	sample := make([]float64, len(v.Values))
	copy(sample, v.Values)
	if len(model.Scaler.Mean) > 0 {
		for i := range sample {
			scale := model.Scaler.Scale[i]
			if scale == 0 {
				scale = 1
			}
			sample[i] = (sample[i] - model.Scaler.Mean[i]) / scale
		}
	}

	best, bestLogit := -1, math.Inf(-1)
	for c, coeffs := range model.Weights.Coefficients {
		logit := model.Weights.Bias[c]
		for i, coeff := range coeffs {
			logit += coeff * sample[i]
		}
		if logit > bestLogit {
			best, bestLogit = c, logit
		}
	}
	if best < 0 {
		return "", fmt.Errorf("%w: artifact has no classes", ErrModelUnavailable)
	}
	return model.Classes[best], nil
}

// Ping loads the artifact so readiness reflects a usable model.
func (m *ArtifactModel) Ping(context.Context) error {
	_, err := m.loadArtifact()
	return err
}

func (m *ArtifactModel) loadArtifact() (Artifact, error) {
	latest := m.Path()
	info, err := os.Stat(latest)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	mod := info.ModTime().UnixNano()

	m.mu.RLock()
	cached := m.cache
	m.mu.RUnlock()
	if cached.modTime == mod && cached.modTime != 0 {
		return cached.artifact, nil
	}

	content, err := os.ReadFile(latest)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	var artifact Artifact
	if err := json.Unmarshal(content, &artifact); err != nil {
		return Artifact{}, fmt.Errorf("%w: decoding %s: %v", ErrModelUnavailable, latest, err)
	}
	if err := validateArtifact(artifact); err != nil {
		return Artifact{}, err
	}
	m.mu.Lock()
	m.cache = cachedArtifact{artifact: artifact, modTime: mod}
	m.mu.Unlock()
	return artifact, nil
}

func validateArtifact(a Artifact) error {
	model := a.Model
	if !sameSchema(model.FeatureNames) {
		return fmt.Errorf("%w: artifact features %v", ErrSchemaMismatch, model.FeatureNames)
	}
	n := len(model.FeatureNames)
	classes := len(model.Classes)
	if classes == 0 || len(model.Weights.Bias) != classes || len(model.Weights.Coefficients) != classes {
		return fmt.Errorf("%w: %d classes with %d biases and %d coefficient rows",
			ErrSchemaMismatch, classes, len(model.Weights.Bias), len(model.Weights.Coefficients))
	}
	for c, row := range model.Weights.Coefficients {
		if len(row) != n {
			return fmt.Errorf("%w: class %s has %d coefficients", ErrSchemaMismatch, model.Classes[c], len(row))
		}
	}
	if len(model.Scaler.Mean) > 0 && (len(model.Scaler.Mean) != n || len(model.Scaler.Scale) != n) {
		return fmt.Errorf("%w: scaler dimensions", ErrSchemaMismatch)
	}
	return nil
}
