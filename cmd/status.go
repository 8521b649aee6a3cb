package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/Tiliavir/tempo-booker/internal/config"
	"github.com/Tiliavir/tempo-booker/internal/credential"
	"github.com/Tiliavir/tempo-booker/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration, credentials and the last run",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()

	path := configPath
	if path == "" {
		path, _ = config.DefaultPath()
	}
	field(w, "Config", path)
	field(w, "Tempo", cfg.Tempo.BaseURL)
	field(w, "Account", cfg.Tempo.AccountID)
	if cfg.Jira.BaseURL != "" {
		field(w, "Jira", cfg.Jira.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(w, failStyle.Render("  "+err.Error()))
	}

	creds, err := openCredentials()
	if err != nil {
		field(w, "Credentials", failStyle.Render(err.Error()))
	} else {
		field(w, "Tempo token", credentialState(creds, credential.EnvTempoToken, credential.KeyTempoToken, credential.KeyTempoOAuthToken))
		field(w, "Jira token", credentialState(creds, credential.EnvJiraToken, credential.KeyJiraToken))
	}

	j, err := storage.Open(cfg.Journal.Path)
	if err != nil {
		field(w, "Journal", failStyle.Render(err.Error()))
		return nil
	}
	defer j.Close()
	runs, err := j.Runs(cmd.Context(), 1)
	switch {
	case err != nil:
		field(w, "Last run", failStyle.Render(err.Error()))
	case len(runs) == 0:
		field(w, "Last run", mutedStyle.Render("none"))
	default:
		r := runs[0]
		field(w, "Last run", fmt.Sprintf("%s %s (+%d ~%d >%d -%d, %d failed)",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.Source,
			r.Added, r.Updated, r.Replaced, r.Deleted, r.Failed))
	}
	return nil
}

func field(w io.Writer, name, value string) {
	fmt.Fprintf(w, "%-12s %s\n", boldStyle.Render(name+":"), value)
}

func credentialState(creds *credential.Store, env string, keys ...string) string {
	if os.Getenv(env) != "" {
		return passStyle.Render("set") + mutedStyle.Render(" (from $"+env+")")
	}
	for _, k := range keys {
		if creds.Has(k) {
			return passStyle.Render("set") + mutedStyle.Render(" ("+k+" in keyring)")
		}
	}
	return warnStyle.Render("missing") + mutedStyle.Render(" (run: tbk auth set)")
}
