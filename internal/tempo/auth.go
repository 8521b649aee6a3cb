package tempo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
)

// DefaultTokenURL is Tempo's OAuth token endpoint.
const DefaultTokenURL = "https://api.tempo.io/oauth/token/"

// ErrNoCredentials is returned when neither an API token nor an OAuth token
// is available.
var ErrNoCredentials = errors.New("no tempo credentials (run `tbk auth set tempo` or set TEMPO_API_TOKEN)")

// TokenStore persists OAuth tokens between runs.
type TokenStore interface {
	LoadToken() (*oauth2.Token, error)
	SaveToken(*oauth2.Token) error
}

// Auth describes how to authenticate against Tempo. APIToken wins over the
// OAuth fields when both are set.
type Auth struct {
	APIToken string

	ClientID     string
	ClientSecret string
	TokenURL     string
	Tokens       TokenStore

	Timeout time.Duration
}

func (a Auth) oauthConfig() *oauth2.Config {
	tokenURL := a.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	return &oauth2.Config{
		ClientID:     a.ClientID,
		ClientSecret: a.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// HTTPClient returns an authenticated HTTP client. For OAuth, the stored
// token is refreshed as needed and every refreshed token is saved back.
func HTTPClient(ctx context.Context, a Auth) (*http.Client, error) {
	timeout := a.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: timeout})

	var ts oauth2.TokenSource
	switch {
	case a.APIToken != "":
		ts = oauth2.StaticTokenSource(&oauth2.Token{AccessToken: a.APIToken, TokenType: "Bearer"})
	case a.Tokens != nil && a.ClientID != "":
		tok, err := a.Tokens.LoadToken()
		if err != nil {
			return nil, fmt.Errorf("loading tempo oauth token: %w", err)
		}
		if tok == nil || (tok.RefreshToken == "" && !tok.Valid()) {
			return nil, ErrNoCredentials
		}
		ts = &savingTokenSource{ts: a.oauthConfig().TokenSource(ctx, tok), store: a.Tokens, last: tok.AccessToken}
	default:
		return nil, ErrNoCredentials
	}

	c := oauth2.NewClient(ctx, ts)
	c.Timeout = timeout
	return c, nil
}

// savingTokenSource wraps a TokenSource and persists refreshed tokens.
type savingTokenSource struct {
	ts    oauth2.TokenSource
	store TokenStore
	last  string
}

func (s *savingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.ts.Token()
	if err != nil {
		return nil, err
	}
	if tok.AccessToken != s.last {
		// Best-effort save; the token in hand is still usable.
		_ = s.store.SaveToken(tok)
		s.last = tok.AccessToken
	}
	return tok, nil
}
