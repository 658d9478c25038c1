package staging

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRemoteModelPredict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/classify", r.URL.Path)
		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "ckd-stage", req.Model)
		require.Equal(t, FeatureNames, req.FeatureNames)
		require.Len(t, req.Features, len(FeatureNames))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"stage":"3b"}`))
	}))
	defer srv.Close()

	classifier := NewModelClassifier(NewRemoteModel(srv.URL, "ckd-stage", time.Second))
	stage, err := classifier.Classify(context.Background(), scenarioFeatures())
	require.NoError(t, err)
	require.Equal(t, G3b, stage)
}

func TestRemoteModelErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		calls  int32
		want   error
	}{
		{"schema rejected", http.StatusUnprocessableEntity, 1, ErrSchemaMismatch},
		{"server error retried", http.StatusServiceUnavailable, 2, ErrModelUnavailable},
		{"not found", http.StatusNotFound, 1, ErrModelUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				http.Error(w, "nope", tc.status)
			}))
			defer srv.Close()

			_, err := NewRemoteModel(srv.URL, "ckd-stage", time.Second).Predict(context.Background(), BuildVector(scenarioFeatures()))
			require.ErrorIs(t, err, tc.want)
			require.Equal(t, tc.calls, calls.Load())
		})
	}
}

func TestRemoteModelUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	adapter := NewAdapter(NewModelClassifier(NewRemoteModel(url, "ckd-stage", 200*time.Millisecond)), nil, time.Second)
	res := adapter.Classify(context.Background(), scenarioFeatures())
	require.True(t, res.Degraded)
	require.Equal(t, ReasonUnavailable, res.Reason)
	require.Equal(t, G3b, res.Stage)
	require.Error(t, adapter.Ping(context.Background()))
}

func TestRemoteModelPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	require.NoError(t, NewRemoteModel(srv.URL, "ckd-stage", time.Second).Ping(context.Background()))
}
