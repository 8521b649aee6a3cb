package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/tempo"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// Config is the root configuration for tbk, stored in ~/.tbk/config.yaml.
// Every key can be overridden with a TBK_ environment variable, e.g.
// TBK_TEMPO_ACCOUNT_ID for tempo.account_id.
type Config struct {
	Tempo     TempoConfig      `mapstructure:"tempo"`
	Jira      JiraConfig       `mapstructure:"jira"`
	Issues    []issuekey.Issue `mapstructure:"issues"`
	Reconcile ReconcileConfig  `mapstructure:"reconcile"`
	Journal   JournalConfig    `mapstructure:"journal"`
}

// TempoConfig holds the worklog store connection.
type TempoConfig struct {
	BaseURL   string      `mapstructure:"base_url"`
	AccountID string      `mapstructure:"account_id"`
	OAuth     OAuthConfig `mapstructure:"oauth"`
}

// OAuthConfig enables the refresh-token flow instead of a static API token.
type OAuthConfig struct {
	ClientID string `mapstructure:"client_id"`
	TokenURL string `mapstructure:"token_url"`
}

// JiraConfig holds the issue lookup connection. An empty BaseURL disables
// lookups; only the static issue table is used then.
type JiraConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Email   string `mapstructure:"email"`
}

// ReconcileConfig tunes filtering and execution.
type ReconcileConfig struct {
	SystemAuthorIDs  []string      `mapstructure:"system_author_ids"`
	Cutoff           string        `mapstructure:"cutoff"`
	GraceDays        int           `mapstructure:"grace_days"`
	DefaultStartTime string        `mapstructure:"default_start_time"`
	RequestDelay     time.Duration `mapstructure:"request_delay"`
}

// JournalConfig locates the run journal database.
type JournalConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultRequestDelay paces remote calls when nothing is configured.
const DefaultRequestDelay = 500 * time.Millisecond

// EnvPrefix prefixes environment overrides.
const EnvPrefix = "TBK"

const (
	defaultConfigDirName   = ".tbk"
	defaultConfigFileName  = "config.yaml"
	defaultJournalFileName = "journal.db"
)

// configTemplate is the annotated config written on first run.
const configTemplate = `# tbk configuration - ~/.tbk/config.yaml
#
# Secrets are not stored here. Use "tbk auth set tempo" and "tbk auth set jira",
# or the TEMPO_API_TOKEN / JIRA_API_TOKEN environment variables.
# Any key can be overridden from the environment, e.g. TBK_TEMPO_ACCOUNT_ID.

tempo:
  base_url: https://api.tempo.io/4
  # Your Atlassian account id. Worklogs are read and written for this account.
  account_id: ""
  # Fill in to use OAuth instead of an API token.
  oauth:
    client_id: ""
    token_url: ""

jira:
  # e.g. https://your-site.atlassian.net. Leave empty to rely on the issues table.
  base_url: ""
  # Set for Jira Cloud basic auth; leave empty to send the token as a bearer token.
  email: ""

# Issues that resolve without asking Jira.
issues: []
#  - key: ITST-1
#    id: 10001
#    summary: Internal meetings

reconcile:
  # Remote worklogs by these authors are never touched.
  system_author_ids: [unknown]
  # Worklogs dated before the cutoff are left alone unless you wrote them.
  # Empty means the start of the previous calendar year. Dates or
  # expressions such as "last monday" are accepted.
  cutoff: ""
  grace_days: 3
  # Start time for rows that only give hours.
  default_start_time: "09:00:00"
  # Pause between remote calls.
  request_delay: 500ms

journal:
  # Empty means ~/.tbk/journal.db
  path: ""
`

// Dir returns ~/.tbk.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(home, defaultConfigDirName), nil
}

// DefaultPath returns ~/.tbk/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, defaultConfigFileName), nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("tempo.base_url", tempo.DefaultBaseURL)
	v.SetDefault("tempo.account_id", "")
	v.SetDefault("tempo.oauth.client_id", "")
	v.SetDefault("tempo.oauth.token_url", "")
	v.SetDefault("jira.base_url", "")
	v.SetDefault("jira.email", "")
	v.SetDefault("reconcile.system_author_ids", []string{reconcile.DefaultSystemAuthorID})
	v.SetDefault("reconcile.cutoff", "")
	v.SetDefault("reconcile.grace_days", reconcile.DefaultGraceDays)
	v.SetDefault("reconcile.default_start_time", model.DefaultStartTime)
	v.SetDefault("reconcile.request_delay", DefaultRequestDelay)
	v.SetDefault("journal.path", "")
}

// Load reads the config at path (DefaultPath when empty), creating it with
// the annotated template on first run. Environment overrides apply either way.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	_, statErr := os.Stat(path)
	if errors.Is(statErr, os.ErrNotExist) {
		// First run: write the annotated template so users can discover options.
		if err := writeDefault(path); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not create config file %s: %v\n", path, err)
		}
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if cfg.Journal.Path == "" {
		cfg.Journal.Path = filepath.Join(filepath.Dir(path), defaultJournalFileName)
	}
	return cfg, nil
}

// Validate checks the settings that a run against Tempo needs.
func (c Config) Validate() error {
	var problems []string
	if c.Tempo.AccountID == "" {
		problems = append(problems, "tempo.account_id is not set")
	}
	if c.Tempo.BaseURL == "" {
		problems = append(problems, "tempo.base_url is not set")
	}
	if _, err := timecalc.ParseInstant("2000-01-01", c.Reconcile.DefaultStartTime); err != nil {
		problems = append(problems, fmt.Sprintf("reconcile.default_start_time: %v", err))
	}
	if c.Reconcile.GraceDays < 0 {
		problems = append(problems, "reconcile.grace_days must not be negative")
	}
	if c.Reconcile.RequestDelay < 0 {
		problems = append(problems, "reconcile.request_delay must not be negative")
	}
	if c.Reconcile.Cutoff != "" {
		if _, err := c.CutoffAt(time.Now()); err != nil {
			problems = append(problems, fmt.Sprintf("reconcile.cutoff: %v", err))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// CutoffAt resolves reconcile.cutoff relative to now. An empty cutoff
// yields the zero time, which selects the built-in default.
func (c Config) CutoffAt(now time.Time) (time.Time, error) {
	if c.Reconcile.Cutoff == "" {
		return time.Time{}, nil
	}
	return timecalc.ParseDateExpr(c.Reconcile.Cutoff, now)
}

// writeDefault creates the config directory and writes the annotated default
// config template.
func writeDefault(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	return nil
}
