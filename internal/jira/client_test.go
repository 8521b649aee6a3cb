package jira_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tiliavir/tempo-booker/internal/issuekey"
	"github.com/Tiliavir/tempo-booker/internal/jira"
	"github.com/Tiliavir/tempo-booker/internal/model"
)

func issueServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "summary", r.URL.Query().Get("fields"))
		switch r.URL.Path {
		case "/rest/api/2/issue/ITST-1", "/rest/api/2/issue/10001":
			fmt.Fprint(w, `{"id":"10001","key":"ITST-1","fields":{"summary":"Build the thing"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `{"errorMessages":["Issue does not exist or you do not have permission to see it."]}`)
		}
	}))
}

func TestLookup(t *testing.T) {
	srv := issueServer(t)
	defer srv.Close()
	c := jira.NewClient(srv.URL, "", "pat", nil)

	is, err := c.Lookup(context.Background(), "ITST-1")
	require.NoError(t, err)
	assert.Equal(t, issuekey.Issue{ID: 10001, Key: "ITST-1", Summary: "Build the thing"}, is)

	is, err = c.LookupID(context.Background(), 10001)
	require.NoError(t, err)
	assert.Equal(t, "ITST-1", is.Key)

	_, err = c.Lookup(context.Background(), "NOPE-1")
	assert.ErrorIs(t, err, issuekey.ErrNotFound)
}

func TestAuthHeaders(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); ok {
			got = append(got, "basic "+user+":"+pass)
		} else {
			got = append(got, r.Header.Get("Authorization"))
		}
		fmt.Fprint(w, `{"id":"1","key":"A-1"}`)
	}))
	defer srv.Close()

	_, err := jira.NewClient(srv.URL, "me@example.com", "tok", nil).Lookup(context.Background(), "A-1")
	require.NoError(t, err)
	_, err = jira.NewClient(srv.URL, "", "pat", nil).Lookup(context.Background(), "A-1")
	require.NoError(t, err)

	assert.Equal(t, []string{"basic me@example.com:tok", "Bearer pat"}, got)
}

func TestLookupRetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"id":"7","key":"A-7"}`)
	}))
	defer srv.Close()

	is, err := jira.NewClient(srv.URL, "", "", nil).Lookup(context.Background(), "A-7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), is.ID)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestLookupPermissionDenied(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := jira.NewClient(srv.URL, "", "", nil)
	c.SetMaxRetryTime(time.Second)
	_, err := c.Lookup(context.Background(), "A-1")
	var re *model.RemoteError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, model.RemoteRejection, re.Kind)
	assert.Equal(t, model.ReasonPermissionDenied, re.Reason)
}

func TestResolverUsesJira(t *testing.T) {
	srv := issueServer(t)
	defer srv.Close()
	c := jira.NewClient(srv.URL, "", "", nil)

	r := issuekey.NewResolver(nil, issuekey.WithLookup(c.Lookup), issuekey.WithReverseLookup(c.LookupID))
	is, err := r.Resolve(context.Background(), "ITST-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10001), is.ID)

	_, err = r.Resolve(context.Background(), "NOPE-9")
	var resErr *issuekey.ResolutionError
	require.ErrorAs(t, err, &resErr)
	assert.Equal(t, "NOPE-9", resErr.Key)
}
