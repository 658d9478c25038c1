package staging

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ai4ckd/platform/pkg/common/httpclient"
	"github.com/go-resty/resty/v2"
)

// RemoteModel calls a stage scoring service over HTTP.
type RemoteModel struct {
	name     string
	client   *resty.Client
	attempts int
}

type remoteRequest struct {
	Model        string    `json:"model"`
	FeatureNames []string  `json:"feature_names"`
	Features     []float64 `json:"features"`
}

type remoteResponse struct {
	Stage string `json:"stage"`
}

func NewRemoteModel(baseURL, name string, timeout time.Duration) *RemoteModel {
	client := resty.NewWithClient(httpclient.New(timeout)).
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &RemoteModel{name: name, client: client, attempts: 2}
}

func (m *RemoteModel) Name() string { return m.name }

func (m *RemoteModel) Predict(ctx context.Context, v Vector) (string, error) {
	var out remoteResponse
	err := httpclient.Retry(ctx, m.attempts, 50*time.Millisecond, func() error {
		resp, err := m.client.R().
			SetContext(ctx).
			SetBody(remoteRequest{Model: m.name, FeatureNames: v.Names, Features: v.Values}).
			SetResult(&out).
			Post("/v1/classify")
		if err != nil {
			wrapped := fmt.Errorf("%w: %v", ErrModelUnavailable, err)
			if httpclient.IsRetriable(err) {
				return wrapped
			}
			return httpclient.Permanent(wrapped)
		}

		switch code := resp.StatusCode(); {
		case code == http.StatusBadRequest || code == http.StatusUnprocessableEntity:
			return httpclient.Permanent(fmt.Errorf("%w: %s", ErrSchemaMismatch, strings.TrimSpace(resp.String())))
		case code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: status %d", ErrModelUnavailable, code)
		case resp.IsError():
			return httpclient.Permanent(fmt.Errorf("%w: status %d", ErrModelUnavailable, code))
		}
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrModelUnavailable) && !errors.Is(err, ErrSchemaMismatch) {
			err = fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		return "", err
	}
	return out.Stage, nil
}

func (m *RemoteModel) Ping(ctx context.Context) error {
	resp, err := m.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: health status %d", ErrModelUnavailable, resp.StatusCode())
	}
	return nil
}
