// Package transport demonstrates driving the dispatch package's async
// operation lifecycle over real I/O boundaries: a plain net/http request
// and a gorilla/websocket connection. Neither boundary reimplements HTTP
// or WebSocket framing; each is a thin adapter that turns one round trip
// into one dispatch.Provider.
package transport

import (
	"context"
	"io"
	"net/http"

	"github.com/joeycumines/go-asyncdispatch/dispatch"
)

// HTTPResult is the payload recorded by an HTTPRequest operation on
// success: the response status and body bytes.
type HTTPResult struct {
	StatusCode int
	Body       []byte
}

// httpProviderData is the private state threaded through the provider's
// opcodes for a single request.
type httpProviderData struct {
	client *http.Client
	req    *http.Request
	cancel context.CancelFunc
	result HTTPResult
	err    error
}

// HTTPRequest begins an async operation that performs req using client
// (or http.DefaultClient if nil) on block's queue, completing with the
// encoded response body. Cancelling block aborts the in-flight request
// via its context.
func HTTPRequest(block *dispatch.Block, client *http.Client, req *http.Request, opts ...dispatch.AsyncOption) error {
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)
	state := &httpProviderData{client: client, req: req, cancel: cancel}

	provider := func(op dispatch.Opcode, data *dispatch.ProviderData) dispatch.Code {
		switch op {
		case dispatch.DoWork:
			resp, err := state.client.Do(state.req)
			if err != nil {
				state.err = err
				return dispatch.OsError
			}
			defer resp.Body.Close()
			body, err := io.ReadAll(resp.Body)
			if err != nil {
				state.err = err
				return dispatch.OsError
			}
			state.result = HTTPResult{StatusCode: resp.StatusCode, Body: body}
			dispatch.Complete(data.Block, dispatch.Ok, len(body))
			return dispatch.Pending
		case dispatch.GetResultOpcode:
			copy(data.Buffer, state.result.Body)
			return dispatch.Ok
		case dispatch.CancelOpcode:
			state.cancel()
			return dispatch.Aborted
		case dispatch.Cleanup:
			state.cancel()
			return dispatch.Ok
		default:
			return dispatch.NotSupported
		}
	}

	block.Context = state
	if err := dispatch.Begin(block, state, nil, "", provider, opts...); err != nil {
		cancel()
		return err
	}
	return dispatch.Schedule(block, 0)
}

// HTTPResultStatusCode reads the status code recorded by a completed
// HTTPRequest operation out of the provider's private state, which
// HTTPRequest stores in the block's Context field.
func HTTPResultStatusCode(block *dispatch.Block) int {
	state, ok := block.Context.(*httpProviderData)
	if !ok {
		return 0
	}
	return state.result.StatusCode
}

// HTTPRequestError returns the transport error recorded by a failed
// HTTPRequest operation, or nil if it has not failed (yet, or at all).
func HTTPRequestError(block *dispatch.Block) error {
	state, ok := block.Context.(*httpProviderData)
	if !ok {
		return nil
	}
	return state.err
}
