package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/term"

	"github.com/Tiliavir/tempo-booker/internal/credential"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage Tempo and Jira credentials in the system keyring",
	Long: `Tokens are stored in the system keyring. TEMPO_API_TOKEN and
JIRA_API_TOKEN take precedence when set.

Targets:
  tempo        Tempo API token
  tempo-oauth  Tempo OAuth client secret and refresh token
  jira         Jira API token`,
}

var authSetCmd = &cobra.Command{
	Use:       "set <tempo|tempo-oauth|jira>",
	Short:     "Store a credential",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"tempo", "tempo-oauth", "jira"},
	RunE:      runAuthSet,
}

var authClearCmd = &cobra.Command{
	Use:       "clear <tempo|jira>",
	Short:     "Remove stored credentials",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"tempo", "jira"},
	RunE:      runAuthClear,
}

func init() {
	authCmd.AddCommand(authSetCmd)
	authCmd.AddCommand(authClearCmd)
}

// readSecret reads one line without echo on a terminal, or plainly from a pipe.
func readSecret(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprintf(prompt, "%s: ", label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s must not be empty", label)
	}
	return line, nil
}

func runAuthSet(cmd *cobra.Command, args []string) error {
	creds, err := openCredentials()
	if err != nil {
		return usageErr(fmt.Errorf("opening credential store: %w", err))
	}
	in := cmd.InOrStdin()
	prompt := cmd.ErrOrStderr()

	switch args[0] {
	case "tempo":
		err = storeSecret(creds, credential.KeyTempoToken, in, prompt, "Tempo API token")
	case "jira":
		err = storeSecret(creds, credential.KeyJiraToken, in, prompt, "Jira API token")
	case "tempo-oauth":
		err = storeOAuth(creds, in, prompt)
	default:
		return usageErr(fmt.Errorf("unknown target %q (want tempo, tempo-oauth or jira)", args[0]))
	}
	if err != nil {
		return failedErr(err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Stored %s credentials.\n", args[0])
	return nil
}

func storeSecret(creds *credential.Store, key string, in io.Reader, prompt io.Writer, label string) error {
	v, err := readSecret(in, prompt, label)
	if err != nil {
		return err
	}
	return creds.Set(key, v)
}

func storeOAuth(creds *credential.Store, in io.Reader, prompt io.Writer) error {
	// Both lines come from one buffered reader when piped.
	if f, ok := in.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		in = bufio.NewReader(in)
	}
	secret, err := readSecret(in, prompt, "OAuth client secret")
	if err != nil {
		return err
	}
	refresh, err := readSecret(in, prompt, "OAuth refresh token")
	if err != nil {
		return err
	}
	if err := creds.Set(credential.KeyTempoOAuthSecret, secret); err != nil {
		return err
	}
	// An expired token forces a refresh on first use.
	return creds.SaveToken(&oauth2.Token{RefreshToken: refresh, Expiry: time.Unix(1, 0)})
}

func runAuthClear(cmd *cobra.Command, args []string) error {
	creds, err := openCredentials()
	if err != nil {
		return usageErr(fmt.Errorf("opening credential store: %w", err))
	}
	var keys []string
	switch args[0] {
	case "tempo":
		keys = []string{credential.KeyTempoToken, credential.KeyTempoOAuthToken, credential.KeyTempoOAuthSecret}
	case "jira":
		keys = []string{credential.KeyJiraToken}
	default:
		return usageErr(fmt.Errorf("unknown target %q (want tempo or jira)", args[0]))
	}
	for _, k := range keys {
		if err := creds.Delete(k); err != nil {
			return failedErr(err)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %s credentials.\n", args[0])
	return nil
}
