package transport

import (
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/joeycumines/go-asyncdispatch/dispatch"
)

// WebSocketResult is the payload recorded by a WebSocketConnect
// operation on success.
type WebSocketResult struct {
	Response *http.Response
}

type wsProviderData struct {
	dialer *websocket.Dialer
	url    *url.URL
	header http.Header
	conn   *websocket.Conn
	result WebSocketResult
	err    error
}

// WebSocketConnect begins an async operation that dials target using
// dialer (or websocket.DefaultDialer if nil), completing with the
// established connection reachable via WebSocketConn. Cancelling block
// before the dial finishes closes the connection as soon as it lands.
func WebSocketConnect(block *dispatch.Block, dialer *websocket.Dialer, target *url.URL, header http.Header, opts ...dispatch.AsyncOption) error {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	state := &wsProviderData{dialer: dialer, url: target, header: header}

	var cancelled atomic.Bool

	provider := func(op dispatch.Opcode, data *dispatch.ProviderData) dispatch.Code {
		switch op {
		case dispatch.DoWork:
			conn, resp, err := state.dialer.Dial(state.url.String(), state.header)
			if err != nil {
				state.err = err
				return dispatch.OsError
			}
			if cancelled.Load() {
				_ = conn.Close()
				dispatch.Complete(data.Block, dispatch.Aborted, 0)
				return dispatch.Pending
			}
			state.conn = conn
			state.result = WebSocketResult{Response: resp}
			dispatch.Complete(data.Block, dispatch.Ok, 0)
			return dispatch.Pending
		case dispatch.GetResultOpcode:
			return dispatch.Ok
		case dispatch.CancelOpcode:
			cancelled.Store(true)
			if state.conn != nil {
				_ = state.conn.Close()
			}
			return dispatch.Aborted
		case dispatch.Cleanup:
			return dispatch.Ok
		default:
			return dispatch.NotSupported
		}
	}

	block.Context = state
	if err := dispatch.Begin(block, state, nil, "", provider, opts...); err != nil {
		return err
	}
	return dispatch.Schedule(block, 0)
}

// WebSocketConn returns the established connection for a completed
// WebSocketConnect operation, or nil if it has not completed
// successfully.
func WebSocketConn(block *dispatch.Block) *websocket.Conn {
	state, ok := block.Context.(*wsProviderData)
	if !ok {
		return nil
	}
	return state.conn
}

// WebSocketConnectError returns the dial error recorded by a failed
// WebSocketConnect operation, or nil if it has not failed (yet, or at
// all).
func WebSocketConnectError(block *dispatch.Block) error {
	state, ok := block.Context.(*wsProviderData)
	if !ok {
		return nil
	}
	return state.err
}
