package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/go-asyncdispatch/dispatch"
)

func TestHTTPRequest_CompletesWithResponseBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
	}))
	defer srv.Close()

	q, err := dispatch.CreateQueue(dispatch.Manual, dispatch.Manual)
	require.NoError(t, err)
	defer q.Close()

	var block dispatch.Block
	block.Queue = q

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)

	require.NoError(t, HTTPRequest(&block, srv.Client(), req))
	require.True(t, q.DispatchOne(dispatch.Work, time.Second))

	assert.Equal(t, dispatch.Ok, dispatch.GetStatus(&block, false))
	assert.Equal(t, http.StatusOK, HTTPResultStatusCode(&block))

	size, err := dispatch.GetResultSize(&block)
	require.NoError(t, err)
	buf := make([]byte, size)
	require.NoError(t, dispatch.GetResult(&block, nil, buf))
	assert.Equal(t, "pong", string(buf))
}

func TestHTTPRequest_CancelAbortsInFlightRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(release)

	q, err := dispatch.CreateQueue(dispatch.Pool, dispatch.Manual)
	require.NoError(t, err)
	defer q.Close()

	var block dispatch.Block
	block.Queue = q

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	require.NoError(t, HTTPRequest(&block, srv.Client(), req))

	dispatch.Cancel(&block)
	assert.Equal(t, dispatch.Aborted, dispatch.GetStatus(&block, false))
}
