package tempo_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/Tiliavir/tempo-booker/internal/model"
	"github.com/Tiliavir/tempo-booker/internal/tempo"
)

func newClient(t *testing.T, srv *httptest.Server) *tempo.Client {
	t.Helper()
	hc, err := tempo.HTTPClient(context.Background(), tempo.Auth{APIToken: "tok"})
	require.NoError(t, err)
	return tempo.NewClient(hc, "acc-1",
		tempo.WithBaseURL(srv.URL),
		tempo.WithRetry(time.Millisecond, time.Second))
}

func day(s string) time.Time {
	d, _ := time.Parse("2006-01-02", s)
	return d
}

func TestFetchRecordsFollowsPages(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/worklogs/user/acc-1", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2025-08-25", r.URL.Query().Get("from"))
		assert.Equal(t, "2025-08-31", r.URL.Query().Get("to"))

		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("offset") == "0" {
			fmt.Fprintf(w, `{"metadata":{"count":1,"next":%q},"results":[
				{"tempoWorklogId":1,"issue":{"id":11},"timeSpentSeconds":3600,"startDate":"2025-08-25","startTime":"09:00:00",
				 "description":"Standup","createdAt":"2025-08-25T10:00:00Z","author":{"accountId":"acc-1"}}]}`,
				srv.URL+"/worklogs/user/acc-1?from=2025-08-25&to=2025-08-31&offset=1&limit=1000")
			return
		}
		fmt.Fprint(w, `{"metadata":{"count":1},"results":[
			{"tempoWorklogId":2,"issue":{"id":12},"timeSpentSeconds":1800,"startDate":"2025-08-26",
			 "description":"","author":{"accountId":"unknown"}}]}`)
	}))
	defer srv.Close()

	records, err := newClient(t, srv).FetchRecords(context.Background(), day("2025-08-25"), day("2025-08-31"))
	require.NoError(t, err)
	require.Len(t, records, 2)

	first := records[0]
	assert.Equal(t, "1", first.ID)
	assert.Equal(t, int64(11), first.IssueID)
	assert.Equal(t, "09:00:00", first.StartTime)
	assert.Equal(t, time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC), first.End())
	assert.Equal(t, "Standup", first.Description)
	assert.Equal(t, "acc-1", first.AuthorID)
	assert.Equal(t, time.Date(2025, 8, 25, 10, 0, 0, 0, time.UTC), first.CreatedAt)
	assert.Empty(t, first.IssueKey)

	second := records[1]
	assert.Equal(t, "09:00:00", second.StartTime, "missing start time falls back to the default")
	assert.Equal(t, "unknown", second.AuthorID)
}

func TestCreateRecordSendsWorklog(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/worklogs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"tempoWorklogId":4711}`)
	}))
	defer srv.Close()

	id, err := newClient(t, srv).CreateRecord(context.Background(), model.WorklogInput{
		IssueID:         11,
		DurationSeconds: 5400,
		Date:            "2025-08-25",
		StartTime:       "09:00:00",
		Description:     "Work",
		AuthorID:        "acc-1",
	})
	require.NoError(t, err)
	assert.Equal(t, "4711", id)
	assert.Equal(t, map[string]any{
		"authorAccountId":  "acc-1",
		"issueId":          float64(11),
		"timeSpentSeconds": float64(5400),
		"startDate":        "2025-08-25",
		"startTime":        "09:00:00",
		"description":      "Work",
	}, got)
}

func TestUpdateAndDeleteUseRemoteID(t *testing.T) {
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodDelete {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		fmt.Fprint(w, `{"tempoWorklogId":7}`)
	}))
	defer srv.Close()

	c := newClient(t, srv)
	require.NoError(t, c.UpdateRecord(context.Background(), "7", model.WorklogInput{IssueID: 11}))
	require.NoError(t, c.DeleteRecord(context.Background(), "7"))
	assert.Equal(t, []string{"PUT /worklogs/7", "DELETE /worklogs/7"}, calls)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		kind   model.RemoteErrorKind
		reason string
	}{
		{http.StatusBadRequest, model.RemoteRejection, model.ReasonInvalid},
		{http.StatusUnauthorized, model.RemoteRejection, model.ReasonPermissionDenied},
		{http.StatusForbidden, model.RemoteRejection, model.ReasonPermissionDenied},
		{http.StatusNotFound, model.RemoteRejection, model.ReasonNotFound},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			var hits int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				atomic.AddInt32(&hits, 1)
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"errors":[{"message":"nope"}]}`)
			}))
			defer srv.Close()

			err := newClient(t, srv).DeleteRecord(context.Background(), "1")
			var re *model.RemoteError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.kind, re.Kind)
			assert.Equal(t, tt.reason, re.Reason)
			assert.Equal(t, tt.status, re.Status)
			assert.Contains(t, re.Error(), "nope")
			assert.Equal(t, int32(1), atomic.LoadInt32(&hits), "rejections are not retried")
		})
	}
}

func TestRetriesRateLimit(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, `{"tempoWorklogId":5}`)
	}))
	defer srv.Close()

	id, err := newClient(t, srv).CreateRecord(context.Background(), model.WorklogInput{IssueID: 11})
	require.NoError(t, err)
	assert.Equal(t, "5", id)
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

func TestServerErrorRetriedOnlyWhenIdempotent(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&hits, 1)
		if r.Method == http.MethodPost || n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()
	c := newClient(t, srv)

	_, err := c.CreateRecord(context.Background(), model.WorklogInput{IssueID: 11})
	var re *model.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, model.RemoteTransport, re.Kind)
	assert.Equal(t, model.ReasonServer, re.Reason)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))

	atomic.StoreInt32(&hits, 0)
	require.NoError(t, c.DeleteRecord(context.Background(), "1"))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
}

type memTokens struct {
	tok   *oauth2.Token
	saved []*oauth2.Token
}

func (m *memTokens) LoadToken() (*oauth2.Token, error) { return m.tok, nil }

func (m *memTokens) SaveToken(t *oauth2.Token) error {
	m.saved = append(m.saved, t)
	return nil
}

func TestOAuthRefreshesAndSavesToken(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "r1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"fresh","token_type":"Bearer","refresh_token":"r2","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer fresh", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer api.Close()

	store := &memTokens{tok: &oauth2.Token{AccessToken: "stale", RefreshToken: "r1", Expiry: time.Now().Add(-time.Hour)}}
	hc, err := tempo.HTTPClient(context.Background(), tempo.Auth{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     tokenSrv.URL,
		Tokens:       store,
	})
	require.NoError(t, err)

	c := tempo.NewClient(hc, "acc-1", tempo.WithBaseURL(api.URL), tempo.WithRetry(0, 0))
	require.NoError(t, c.DeleteRecord(context.Background(), "1"))
	require.Len(t, store.saved, 1)
	assert.Equal(t, "fresh", store.saved[0].AccessToken)
	assert.Equal(t, "r2", store.saved[0].RefreshToken)
}

func TestHTTPClientWithoutCredentials(t *testing.T) {
	_, err := tempo.HTTPClient(context.Background(), tempo.Auth{})
	assert.ErrorIs(t, err, tempo.ErrNoCredentials)

	_, err = tempo.HTTPClient(context.Background(), tempo.Auth{ClientID: "c", Tokens: &memTokens{}})
	assert.ErrorIs(t, err, tempo.ErrNoCredentials)
}
