package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/tempo-booker/internal/config"
	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/tempo"
)

func TestLoadWritesTemplateOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tbk", "config.yaml")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "account_id")

	assert.Equal(t, tempo.DefaultBaseURL, cfg.Tempo.BaseURL)
	assert.Equal(t, []string{reconcile.DefaultSystemAuthorID}, cfg.Reconcile.SystemAuthorIDs)
	assert.Equal(t, reconcile.DefaultGraceDays, cfg.Reconcile.GraceDays)
	assert.Equal(t, model.DefaultStartTime, cfg.Reconcile.DefaultStartTime)
	assert.Equal(t, config.DefaultRequestDelay, cfg.Reconcile.RequestDelay)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "journal.db"), cfg.Journal.Path)
	assert.Empty(t, cfg.Issues)
}

func TestLoadReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
tempo:
  account_id: acc-1
jira:
  base_url: https://example.atlassian.net
  email: me@example.com
issues:
  - key: ITST-1
    id: 10001
    summary: Meetings
reconcile:
  grace_days: 0
  request_delay: 2s
  default_start_time: "08:30:00"
journal:
  path: /tmp/j.db
`), 0o600))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "acc-1", cfg.Tempo.AccountID)
	assert.Equal(t, tempo.DefaultBaseURL, cfg.Tempo.BaseURL, "unset keys keep defaults")
	assert.Equal(t, "me@example.com", cfg.Jira.Email)
	assert.Equal(t, []issuekey.Issue{{ID: 10001, Key: "ITST-1", Summary: "Meetings"}}, cfg.Issues)
	assert.Equal(t, 0, cfg.Reconcile.GraceDays, "explicit zero is kept")
	assert.Equal(t, 2*time.Second, cfg.Reconcile.RequestDelay)
	assert.Equal(t, "08:30:00", cfg.Reconcile.DefaultStartTime)
	assert.Equal(t, "/tmp/j.db", cfg.Journal.Path)
	require.NoError(t, cfg.Validate())
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tempo:\n  account_id: from-file\n"), 0o600))
	t.Setenv("TBK_TEMPO_ACCOUNT_ID", "from-env")
	t.Setenv("TBK_RECONCILE_GRACE_DAYS", "7")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Tempo.AccountID)
	assert.Equal(t, 7, cfg.Reconcile.GraceDays)
}

func TestLoadRejectsBrokenYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("tempo: [unclosed\n"), 0o600))

	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg, err := config.Load(path)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tempo.account_id")

	cfg.Tempo.AccountID = "acc-1"
	cfg.Reconcile.DefaultStartTime = "9am"
	cfg.Reconcile.Cutoff = "zzz"
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "default_start_time")
	assert.Contains(t, err.Error(), "cutoff")
}

func TestCutoffAt(t *testing.T) {
	now := time.Date(2025, 8, 14, 12, 0, 0, 0, time.UTC)
	var cfg config.Config

	got, err := cfg.CutoffAt(now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	cfg.Reconcile.Cutoff = "2025-01-01"
	got, err = cfg.CutoffAt(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), got)
}
