package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/stretchr/testify/require"
)

type fakeParams map[string]string

func (f fakeParams) GetParameter(_ context.Context, name string) (string, error) {
	v, ok := f[name]
	if !ok {
		return "", fmt.Errorf("paramstore: get parameter %q: %w", name, &types.ParameterNotFound{})
	}
	return v, nil
}

type failingParams struct{}

func (failingParams) GetParameter(context.Context, string) (string, error) {
	return "", errors.New("throttled")
}

func TestNewRunnerValidatesConfig(t *testing.T) {
	_, err := NewRunner(context.Background(), aws.Config{}, Config{ParamPrefix: "/diag"}, nil)
	require.ErrorContains(t, err, "ledger table")

	_, err = NewRunner(context.Background(), aws.Config{}, Config{LedgerTable: "ledger"}, nil)
	require.ErrorContains(t, err, "parameter prefix")
}

func TestNewRunnerWiresDependencies(t *testing.T) {
	runner, err := NewRunner(context.Background(), aws.Config{Region: "us-east-1"}, Config{
		LedgerTable:      "ledger",
		ParamPrefix:      "/diag/",
		DefaultMaxRounds: 5,
		MaxRoundsLimit:   20,
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, runner)
}

func TestAgentsSourceFromParameter(t *testing.T) {
	src := agentsSource(fakeParams{"/diag/agents": "patient:\n  model: m\n"}, Config{ParamPrefix: "/diag/"})
	raw, err := src(context.Background())
	require.NoError(t, err)
	require.Equal(t, "patient:\n  model: m\n", string(raw))
}

func TestAgentsSourceMissingParameter(t *testing.T) {
	src := agentsSource(fakeParams{}, Config{ParamPrefix: "/diag"})
	raw, err := src(context.Background())
	require.NoError(t, err)
	require.Nil(t, raw)

	src = agentsSource(failingParams{}, Config{ParamPrefix: "/diag"})
	_, err = src(context.Background())
	require.ErrorContains(t, err, "throttled")
}

func TestAgentsSourceFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agents.yaml")
	require.NoError(t, os.WriteFile(path, []byte("analyzer:\n  max_tokens: 10\n"), 0o600))

	src := agentsSource(failingParams{}, Config{ParamPrefix: "/diag", AgentsFile: path})
	raw, err := src(context.Background())
	require.NoError(t, err)
	require.Equal(t, "analyzer:\n  max_tokens: 10\n", string(raw))
}

func TestDoctorChannelUsesStoredCredentials(t *testing.T) {
	var loginBody map[string]string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/doctor/login", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&loginBody))
		_, _ = w.Write([]byte(`{"data":{"token":"tok-1"}}`))
	})
	mux.HandleFunc("/api/doctor/chat", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: 你好\n\ndata: [DONE]\n\n"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	params := fakeParams{"/diag/doctor-credentials": `{"username":"u","password":"p"}`}
	channel, err := newDoctorChannel(context.Background(), params, Config{
		ParamPrefix:   "/diag",
		DoctorBaseURL: srv.URL,
		DoctorTimeout: 5 * time.Second,
	})
	require.NoError(t, err)

	reply, err := channel.Send(context.Background(), "session_test_1", "hi", nil)
	require.NoError(t, err)
	require.Equal(t, "你好", reply)
	require.Equal(t, map[string]string{"username": "u", "password": "p"}, loginBody)
}

func TestDoctorChannelMissingCredentials(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	channel, err := newDoctorChannel(context.Background(), fakeParams{}, Config{ParamPrefix: "/diag", DoctorBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = channel.Send(context.Background(), "session_test_1", "hi", nil)
	require.Error(t, err)
}
