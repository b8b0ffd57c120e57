package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/ipc"
)

func TestRoundTripOverHTTPServer(t *testing.T) {
	serverDone := make(chan struct{})
	var serverErr error

	mux := http.NewServeMux()
	mux.HandleFunc("/debug", func(w http.ResponseWriter, r *http.Request) {
		tun, err := Accept(w, r)
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		defer tun.Close()

		kind, payload, err := tun.ReadFrame()
		if err != nil {
			serverErr = err
			close(serverDone)
			return
		}
		if kind != ipc.FrameCommand {
			serverErr = assertErr("expected FrameCommand")
			close(serverDone)
			return
		}
		cmd, err := ipc.DecodeCommand(payload)
		if err != nil || cmd.Kind != ipc.CmdStepOver {
			serverErr = assertErr("bad command payload")
		}
		close(serverDone)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/debug"
	client, err := Dial(wsURL)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteFrame(ipc.FrameCommand, ipc.Command{Kind: ipc.CmdStepOver}))

	<-serverDone
	assert.NoError(t, serverErr)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }
