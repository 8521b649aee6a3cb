// Package tempo is a client for the Tempo REST API (v4) worklog endpoints.
package tempo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/timecalc"
)

// DefaultBaseURL is the Tempo Cloud API root.
const DefaultBaseURL = "https://api.tempo.io/4"

const pageSize = 1000

// Client is an authenticated Tempo API client. It implements
// reconcile.RemoteStore for one account.
type Client struct {
	httpClient *http.Client
	baseURL    string
	accountID  string
	log        *slog.Logger

	// DefaultStartTime is assumed for worklogs returned without a start time.
	DefaultStartTime string

	retryInitial time.Duration
	retryMax     time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL overrides DefaultBaseURL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithRetry sets the backoff for retried requests. A zero max disables retries.
func WithRetry(initial, max time.Duration) Option {
	return func(c *Client) {
		c.retryInitial = initial
		c.retryMax = max
	}
}

// WithLogger sets the logger for retries.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client for accountID using an already authenticated
// HTTP client (see HTTPClient).
func NewClient(httpClient *http.Client, accountID string, opts ...Option) *Client {
	c := &Client{
		httpClient:       httpClient,
		baseURL:          DefaultBaseURL,
		accountID:        accountID,
		log:              slog.New(slog.DiscardHandler),
		DefaultStartTime: model.DefaultStartTime,
		retryInitial:     500 * time.Millisecond,
		retryMax:         30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// AccountID returns the account the client reads and writes worklogs for.
func (c *Client) AccountID() string { return c.accountID }

// worklog is the Tempo v4 worklog representation.
type worklog struct {
	TempoWorklogID   int64  `json:"tempoWorklogId"`
	Issue            issue  `json:"issue"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description"`
	CreatedAt        string `json:"createdAt"`
	Author           author `json:"author"`
}

type issue struct {
	ID int64 `json:"id"`
}

type author struct {
	AccountID string `json:"accountId"`
}

// worklogsResponse is the paged response for worklog searches.
type worklogsResponse struct {
	Metadata struct {
		Count int    `json:"count"`
		Next  string `json:"next"`
	} `json:"metadata"`
	Results []worklog `json:"results"`
}

// worklogInput is the body for create and update calls.
type worklogInput struct {
	AuthorAccountID  string `json:"authorAccountId"`
	IssueID          int64  `json:"issueId"`
	TimeSpentSeconds int64  `json:"timeSpentSeconds"`
	StartDate        string `json:"startDate"`
	StartTime        string `json:"startTime"`
	Description      string `json:"description"`
}

// toRecord maps a Tempo worklog onto a RemoteRecord. The issue key is left
// empty; callers recover it from the issue id.
func (c *Client) toRecord(w worklog) (model.RemoteRecord, error) {
	clock := w.StartTime
	if clock == "" {
		clock = c.DefaultStartTime
	}
	start, err := timecalc.ParseInstant(w.StartDate, clock)
	if err != nil {
		return model.RemoteRecord{}, fmt.Errorf("worklog %d: %w", w.TempoWorklogID, err)
	}
	var created time.Time
	if w.CreatedAt != "" {
		created, _ = time.Parse(time.RFC3339, w.CreatedAt)
	}
	return model.RemoteRecord{
		ID:              strconv.FormatInt(w.TempoWorklogID, 10),
		IssueID:         w.Issue.ID,
		Date:            w.StartDate,
		StartTime:       clock,
		Start:           start,
		DurationSeconds: w.TimeSpentSeconds,
		Description:     w.Description,
		AuthorID:        w.Author.AccountID,
		CreatedAt:       created,
	}, nil
}

func toInput(in model.WorklogInput) worklogInput {
	return worklogInput{
		AuthorAccountID:  in.AuthorID,
		IssueID:          in.IssueID,
		TimeSpentSeconds: in.DurationSeconds,
		StartDate:        in.Date,
		StartTime:        in.StartTime,
		Description:      in.Description,
	}
}

// FetchRecords returns the account's worklogs dated within [from, to].
func (c *Client) FetchRecords(ctx context.Context, from, to time.Time) ([]model.RemoteRecord, error) {
	q := url.Values{}
	q.Set("from", from.Format(timecalc.DateLayout))
	q.Set("to", to.Format(timecalc.DateLayout))
	q.Set("offset", "0")
	q.Set("limit", strconv.Itoa(pageSize))

	endpoint := c.baseURL + "/worklogs"
	if c.accountID != "" {
		endpoint += "/user/" + url.PathEscape(c.accountID)
	}
	endpoint += "?" + q.Encode()

	var all []model.RemoteRecord
	for endpoint != "" {
		var page worklogsResponse
		if err := c.do(ctx, "fetch", http.MethodGet, endpoint, nil, &page); err != nil {
			return nil, err
		}
		for _, w := range page.Results {
			rec, err := c.toRecord(w)
			if err != nil {
				c.log.Warn("skipping unreadable worklog", "remote_id", w.TempoWorklogID, "err", err)
				continue
			}
			all = append(all, rec)
		}
		endpoint = page.Metadata.Next
	}
	return all, nil
}

// CreateRecord creates a worklog and returns its id.
func (c *Client) CreateRecord(ctx context.Context, in model.WorklogInput) (string, error) {
	var created worklog
	if err := c.do(ctx, "create", http.MethodPost, c.baseURL+"/worklogs", toInput(in), &created); err != nil {
		return "", err
	}
	return strconv.FormatInt(created.TempoWorklogID, 10), nil
}

// UpdateRecord replaces the fields of an existing worklog.
func (c *Client) UpdateRecord(ctx context.Context, remoteID string, in model.WorklogInput) error {
	return c.do(ctx, "update", http.MethodPut, c.baseURL+"/worklogs/"+url.PathEscape(remoteID), toInput(in), nil)
}

// DeleteRecord removes a worklog.
func (c *Client) DeleteRecord(ctx context.Context, remoteID string) error {
	return c.do(ctx, "delete", http.MethodDelete, c.baseURL+"/worklogs/"+url.PathEscape(remoteID), nil, nil)
}

// do sends one request, retrying rate limits and, for idempotent methods,
// server errors and network failures. Failures are *model.RemoteError.
func (c *Client) do(ctx context.Context, op, method, endpoint string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s request: %w", op, err)
		}
	}
	idempotent := method != http.MethodPost

	attempt := func() error {
		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, endpoint, rdr)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("creating request: %w", err))
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			rerr := transportError(op, err)
			if !idempotent || ctx.Err() != nil {
				return backoff.Permanent(rerr)
			}
			return rerr
		}
		data, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return backoff.Permanent(transportError(op, err))
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(bytes.TrimSpace(data)) > 0 {
				if err := json.Unmarshal(data, out); err != nil {
					return backoff.Permanent(fmt.Errorf("decoding %s response: %w", op, err))
				}
			}
			return nil
		}

		rerr := statusError(op, resp.StatusCode, data)
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			c.log.Debug("rate limited by tempo", "op", op)
			return rerr
		case resp.StatusCode >= 500 && idempotent:
			return rerr
		default:
			return backoff.Permanent(rerr)
		}
	}

	if c.retryMax <= 0 {
		err := attempt()
		var perm *backoff.PermanentError
		if errors.As(err, &perm) {
			return perm.Err
		}
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInitial
	b.MaxElapsedTime = c.retryMax
	return backoff.Retry(attempt, backoff.WithContext(b, ctx))
}

func transportError(op string, err error) error {
	reason := model.ReasonNetwork
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() || errors.Is(err, context.DeadlineExceeded) {
		reason = model.ReasonTimeout
	}
	return &model.RemoteError{Op: "tempo " + op, Kind: model.RemoteTransport, Reason: reason, Err: err}
}

// apiError is Tempo's error body.
type apiError struct {
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func statusError(op string, status int, body []byte) error {
	e := &model.RemoteError{Op: "tempo " + op, Kind: model.RemoteRejection, Status: status}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Reason = model.ReasonPermissionDenied
	case status == http.StatusNotFound:
		e.Reason = model.ReasonNotFound
	case status == http.StatusTooManyRequests:
		e.Kind, e.Reason = model.RemoteTransport, model.ReasonRateLimited
	case status >= 500:
		e.Kind, e.Reason = model.RemoteTransport, model.ReasonServer
	default:
		e.Reason = model.ReasonInvalid
	}

	var ae apiError
	if json.Unmarshal(body, &ae) == nil && len(ae.Errors) > 0 {
		msgs := make([]string, 0, len(ae.Errors))
		for _, m := range ae.Errors {
			msgs = append(msgs, m.Message)
		}
		e.Err = errors.New(strings.Join(msgs, "; "))
	} else if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > 200 {
			s = s[:200]
		}
		e.Err = errors.New(s)
	}
	return e
}
