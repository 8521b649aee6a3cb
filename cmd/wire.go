package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Tiliavir/tempo-booker/internal/config"
	"github.com/Tiliavir/tempo-booker/internal/credential"
	"github.com/Tiliavir/tempo-booker/internal/csvio"
	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/jira"
	"github.com/Tiliavir/tempo-booker/internal/reconcile"
	"github.com/Tiliavir/tempo-booker/internal/telemetry"
	"github.com/Tiliavir/tempo-booker/internal/tempo"
)

// Hooks replaced in tests.
var (
	openCredentials = credential.Open
	openStore       = tempoStore
)

// tempoStore builds the Tempo client for the configured account.
func tempoStore(ctx context.Context, cfg config.Config, creds *credential.Store) (reconcile.RemoteStore, error) {
	token, err := creds.TempoToken()
	if err != nil {
		return nil, err
	}
	auth := tempo.Auth{
		APIToken: token,
		ClientID: cfg.Tempo.OAuth.ClientID,
		TokenURL: cfg.Tempo.OAuth.TokenURL,
		Tokens:   creds,
	}
	if token == "" && auth.ClientID != "" {
		secret, err := creds.Get(credential.KeyTempoOAuthSecret)
		if err != nil && !errors.Is(err, credential.ErrNotFound) {
			return nil, err
		}
		auth.ClientSecret = secret
	}
	hc, err := tempo.HTTPClient(ctx, auth)
	if err != nil {
		return nil, usageErr(err)
	}
	c := tempo.NewClient(hc, cfg.Tempo.AccountID,
		tempo.WithBaseURL(cfg.Tempo.BaseURL),
		tempo.WithLogger(logger))
	c.DefaultStartTime = cfg.Reconcile.DefaultStartTime
	return telemetry.WrapStore(c), nil
}

// newResolver resolves through the configured issue table, then Jira when a
// Jira URL is configured.
func newResolver(cfg config.Config, creds *credential.Store) (*issuekey.Resolver, error) {
	opts := []issuekey.Option{issuekey.WithLogger(logger)}
	if cfg.Jira.BaseURL != "" {
		token, err := creds.JiraToken()
		if err != nil {
			return nil, err
		}
		jc := jira.NewClient(cfg.Jira.BaseURL, cfg.Jira.Email, token, logger)
		opts = append(opts, issuekey.WithLookup(jc.Lookup), issuekey.WithReverseLookup(jc.LookupID))
	}
	return issuekey.NewResolver(cfg.Issues, opts...), nil
}

func newReconciler(cfg config.Config, store reconcile.RemoteStore, resolver *issuekey.Resolver, now time.Time) (*reconcile.Reconciler, error) {
	cutoff, err := cfg.CutoffAt(now)
	if err != nil {
		return nil, usageErr(fmt.Errorf("reconcile.cutoff: %w", err))
	}
	return &reconcile.Reconciler{
		Store:    store,
		Resolver: resolver,
		Normalizer: csvio.Normalizer{
			DefaultStartTime: cfg.Reconcile.DefaultStartTime,
			Logger:           logger,
		},
		Filter: reconcile.FilterOptions{
			CurrentUserID:   cfg.Tempo.AccountID,
			SystemAuthorIDs: cfg.Reconcile.SystemAuthorIDs,
			Cutoff:          cutoff,
			GraceDays:       cfg.Reconcile.GraceDays,
			Now:             now,
		},
		Executor: &reconcile.Executor{
			Store:    store,
			AuthorID: cfg.Tempo.AccountID,
			Delay:    cfg.Reconcile.RequestDelay,
			Logger:   logger,
		},
		Logger: logger,
	}, nil
}
