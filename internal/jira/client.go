// Package jira looks up issues through the Jira REST API (v2) so issue keys
// can be turned into the numeric ids Tempo stores, and back.
package jira

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/model"
)

// Client is a minimal Jira client for issue lookups.
type Client struct {
	baseURL    string
	email      string
	token      string
	httpClient *http.Client
	log        *slog.Logger
	maxElapsed time.Duration
}

// NewClient creates a client. With a non-empty email the token is sent with
// basic auth (Jira Cloud API tokens), otherwise as a bearer token
// (Data Center personal access tokens).
func NewClient(baseURL, email, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		email:      email,
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logger,
		maxElapsed: 20 * time.Second,
	}
}

// SetMaxRetryTime bounds the time spent retrying a lookup. Zero disables
// retries.
func (c *Client) SetMaxRetryTime(d time.Duration) { c.maxElapsed = d }

type issueResponse struct {
	ID     string `json:"id"`
	Key    string `json:"key"`
	Fields struct {
		Summary string `json:"summary"`
	} `json:"fields"`
}

// errorResponse is Jira's error body.
type errorResponse struct {
	ErrorMessages []string `json:"errorMessages"`
}

// Lookup resolves an issue key. It satisfies issuekey.LookupFunc.
func (c *Client) Lookup(ctx context.Context, key string) (issuekey.Issue, error) {
	return c.get(ctx, key)
}

// LookupID resolves a numeric issue id. It satisfies issuekey.ReverseLookupFunc.
func (c *Client) LookupID(ctx context.Context, id int64) (issuekey.Issue, error) {
	return c.get(ctx, strconv.FormatInt(id, 10))
}

func (c *Client) get(ctx context.Context, keyOrID string) (issuekey.Issue, error) {
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=summary", c.baseURL, url.PathEscape(keyOrID))

	var ir issueResponse
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Accept", "application/json")
		if c.email != "" {
			req.SetBasicAuth(c.email, c.token)
		} else if c.token != "" {
			req.Header.Set("Authorization", "Bearer "+c.token)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return &model.RemoteError{Op: "jira lookup", Kind: model.RemoteTransport, Reason: model.ReasonNetwork, Err: err}
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.Unmarshal(body, &ir); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding issue %s: %w", keyOrID, err))
			}
			return nil
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(fmt.Errorf("%s: %w", keyOrID, issuekey.ErrNotFound))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.log.Debug("retrying jira lookup", "issue", keyOrID, "status", resp.StatusCode)
			return &model.RemoteError{Op: "jira lookup", Kind: model.RemoteTransport, Reason: reasonFor(resp.StatusCode), Status: resp.StatusCode, Err: apiMessage(body)}
		default:
			return backoff.Permanent(&model.RemoteError{Op: "jira lookup", Kind: model.RemoteRejection, Reason: reasonFor(resp.StatusCode), Status: resp.StatusCode, Err: apiMessage(body)})
		}
	}

	var err error
	if c.maxElapsed <= 0 {
		err = op()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			err = perm.Err
		}
	} else {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxElapsedTime = c.maxElapsed
		err = backoff.Retry(op, backoff.WithContext(b, ctx))
	}
	if err != nil {
		return issuekey.Issue{}, err
	}

	id, err := strconv.ParseInt(ir.ID, 10, 64)
	if err != nil {
		return issuekey.Issue{}, fmt.Errorf("issue %s has non-numeric id %q", keyOrID, ir.ID)
	}
	return issuekey.Issue{ID: id, Key: ir.Key, Summary: ir.Fields.Summary}, nil
}

func reasonFor(status int) string {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return model.ReasonPermissionDenied
	case status == http.StatusTooManyRequests:
		return model.ReasonRateLimited
	case status >= 500:
		return model.ReasonServer
	default:
		return model.ReasonInvalid
	}
}

func apiMessage(body []byte) error {
	var er errorResponse
	if json.Unmarshal(body, &er) == nil && len(er.ErrorMessages) > 0 {
		return errors.New(strings.Join(er.ErrorMessages, "; "))
	}
	return nil
}
