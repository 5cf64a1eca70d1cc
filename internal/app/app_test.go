// SPDX-License-Identifier: MIT
// Copyright (c) 2025 Vladyslav Kazantsev

package app_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/specialistvlad/hilrunner/internal/app"
	"github.com/specialistvlad/hilrunner/internal/hcl_adapter"
	"github.com/specialistvlad/hilrunner/internal/pipeline"
	"github.com/specialistvlad/hilrunner/internal/report"
	"github.com/specialistvlad/hilrunner/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGrid = "../../grids/oai_nos1.hcl"

type harness struct {
	app   *app.App
	prov  *testutil.FakeProvisioner
	trace *testutil.Trace
	clock *testutil.FakeClock
	dir   string
	logs  *testutil.SafeBuffer
}

func setupAppTest(t *testing.T, sc *testutil.Scenario, prov *testutil.FakeProvisioner, opts ...app.Option) *harness {
	t.Helper()
	dir := t.TempDir()
	logs := &testutil.SafeBuffer{}
	clock := testutil.NewFakeClock()
	trace := testutil.NewTrace(clock)

	cfg, err := app.NewConfig(app.Config{
		ConfigPath:     sampleGrid,
		ArtifactsDir:   dir,
		ExperimentName: "oai-nos1-test123",
		LogLevel:       "debug",
		LogFormat:      "text",
	})
	require.NoError(t, err)

	opts = append([]app.Option{
		app.WithDialer(testutil.NewFakeDialer(trace, sc.Responder())),
		app.WithProvisioner(prov),
		app.WithWait(clock.Wait),
	}, opts...)
	a, err := app.NewApp(logs, cfg, hcl_adapter.NewLoader(), opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		if os.Getenv("HILRUNNER_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return &harness{app: a, prov: prov, trace: trace, clock: clock, dir: dir, logs: logs}
}

func (h *harness) runDir(t *testing.T, s pipeline.Summary) string {
	t.Helper()
	entries, err := os.ReadDir(h.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, s.RunID, entries[0].Name())
	return filepath.Join(h.dir, s.RunID)
}

func TestApp_SampleGridSucceeds(t *testing.T) {
	h := setupAppTest(t, testutil.HappyScenario(), testutil.ReadyProvisioner())

	summary, err := h.app.Run(context.Background())
	require.NoError(t, err)
	require.NoError(t, summary.Err)
	assert.Equal(t, pipeline.VerdictSucceeded, summary.Verdict)
	assert.Equal(t, 0, summary.Verdict.ExitCode())
	assert.Equal(t, "oai-nos1-test123", summary.Experiment)

	dir := h.runDir(t, summary)
	for _, name := range []string{
		"setup_nodeA.log", "setup_nodeB.log",
		"build_nodeA.log", "build_nodeB.log",
		"bringup-1_nodeA.log", "bringup-1_nodeB.log",
		"verify-1_nodeB.log",
		"probe_nodeB.log",
		report.FileName,
	} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	rep, err := report.Read(filepath.Join(dir, report.FileName))
	require.NoError(t, err)
	assert.Equal(t, "Succeeded", rep["verdict"])
	assert.Equal(t, summary.RunID, rep["run_id"])

	assert.Equal(t, []string{"oai-nos1-test123"}, h.prov.Terminations())
	assert.Equal(t, 2, h.trace.Count("exec", "git checkout v1.2.1"))
	// The probe tears the link down even though it passed.
	assert.Equal(t, 1, h.trace.Count("exec", "pkill -9 lte-softmodem"))
	assert.Contains(t, h.logs.String(), "🏁 Pipeline finished")
}

func TestApp_VariableOverride(t *testing.T) {
	dir := t.TempDir()
	cfg, err := app.NewConfig(app.Config{
		ConfigPath:   sampleGrid,
		ArtifactsDir: dir,
		Vars:         map[string]string{"commit": "develop"},
	})
	require.NoError(t, err)

	clock := testutil.NewFakeClock()
	trace := testutil.NewTrace(clock)
	a, err := app.NewApp(io.Discard, cfg, hcl_adapter.NewLoader(),
		app.WithDialer(testutil.NewFakeDialer(trace, testutil.HappyScenario().Responder())),
		app.WithProvisioner(testutil.ReadyProvisioner()),
		app.WithWait(clock.Wait),
	)
	require.NoError(t, err)
	assert.Equal(t, "develop", a.Model().Variables["commit"])

	summary, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, pipeline.VerdictSucceeded, summary.Verdict)
	assert.Equal(t, 2, trace.Count("exec", "git checkout develop"))
}

func TestApp_Verdicts(t *testing.T) {
	testCases := []struct {
		name     string
		scenario *testutil.Scenario
		prov     *testutil.FakeProvisioner
		want     pipeline.Verdict
		wantErr  error
	}{
		{
			name:     "allocation never ready",
			scenario: testutil.HappyScenario(),
			prov:     &testutil.FakeProvisioner{},
			want:     pipeline.VerdictNotStarted,
			wantErr:  pipeline.ErrAllocation,
		},
		{
			name:     "ue build fails",
			scenario: &testutil.Scenario{BuildFails: map[string]bool{"rue1": true}, LinkUpOnAttempt: 1, PingReceived: 10},
			prov:     testutil.ReadyProvisioner(),
			want:     pipeline.VerdictFailed,
			wantErr:  pipeline.ErrStageExecution,
		},
		{
			name:     "link never associates",
			scenario: &testutil.Scenario{PingReceived: 10},
			prov:     testutil.ReadyProvisioner(),
			want:     pipeline.VerdictFailed,
			wantErr:  pipeline.ErrVerification,
		},
		{
			name:     "ping loses everything",
			scenario: &testutil.Scenario{LinkUpOnAttempt: 2},
			prov:     testutil.ReadyProvisioner(),
			want:     pipeline.VerdictFailed,
			wantErr:  pipeline.ErrProbe,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := setupAppTest(t, tc.scenario, tc.prov)
			summary, err := h.app.Run(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.want, summary.Verdict)
			assert.ErrorIs(t, summary.Err, tc.wantErr)

			rep, err := report.Read(filepath.Join(h.runDir(t, summary), report.FileName))
			require.NoError(t, err)
			assert.Equal(t, tc.want.String(), rep["verdict"])
		})
	}
}

func TestApp_NewAppErrors(t *testing.T) {
	t.Run("missing config", func(t *testing.T) {
		cfg, err := app.NewConfig(app.Config{ConfigPath: filepath.Join(t.TempDir(), "missing.hcl")})
		require.NoError(t, err)
		_, err = app.NewApp(io.Discard, cfg, hcl_adapter.NewLoader())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to load configuration")
	})

	t.Run("invalid config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.hcl")
		require.NoError(t, os.WriteFile(path, []byte(`experiment {`), 0o644))
		cfg, err := app.NewConfig(app.Config{ConfigPath: path})
		require.NoError(t, err)
		_, err = app.NewApp(io.Discard, cfg, hcl_adapter.NewLoader())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse HCL file")
	})
}

func TestNewConfig(t *testing.T) {
	testCases := []struct {
		name    string
		cfg     app.Config
		wantErr string
	}{
		{"missing path", app.Config{}, "ConfigPath is a required"},
		{"bad port", app.Config{ConfigPath: "x", HealthcheckPort: 70000}, "invalid healthcheck port"},
		{"bad format", app.Config{ConfigPath: "x", LogFormat: "xml"}, "invalid log format"},
		{"bad level", app.Config{ConfigPath: "x", LogLevel: "trace"}, "invalid log level"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := app.NewConfig(tc.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}

	cfg, err := app.NewConfig(app.Config{ConfigPath: "x"})
	require.NoError(t, err)
	assert.Equal(t, "artifacts", cfg.ArtifactsDir)
}

func TestApp_HealthHandler(t *testing.T) {
	h := setupAppTest(t, testutil.HappyScenario(), testutil.ReadyProvisioner())

	srv := httptest.NewServer(h.app.HealthHandler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "OK")
	assert.Contains(t, string(body), "experiment: oai-nos1-test123")
	assert.Contains(t, string(body), "phase: idle")
}
