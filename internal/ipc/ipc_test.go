package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// shortSocket keeps the path under the sun_path limit.
func shortSocket(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "tsw")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func startServer(t *testing.T, h Handler) (string, *Client) {
	t.Helper()
	path := shortSocket(t)
	s := NewServer(path, h, nil)
	require.NoError(t, s.Start())
	t.Cleanup(s.Stop)
	return path, NewClient(path)
}

func TestRoundTrip(t *testing.T) {
	var gotPID int32
	_, client := startServer(t, HandlerFunc(func(_ context.Context, req *Request) *Response {
		switch req.Command {
		case CommandStatus:
			resp, _ := NewOKResponse(StatusData{HiddenCount: 1, SwallowedCount: 2, DaemonRunning: true})
			return resp
		case CommandList:
			resp, _ := NewOKResponse(ListData{Parents: []ParentInfo{{
				PID:    100,
				Window: 0x1400002,
				Origin: GeometryInfo{Width: 800, Height: 600},
				Children: []ChildInfo{
					{Window: 0x2000001, PID: 200},
				},
			}}})
			return resp
		case CommandUnswallow:
			var p UnswallowPayload
			if err := json.Unmarshal(req.Payload, &p); err != nil {
				return NewErrorResponse(err.Error())
			}
			if p.PID != 100 {
				return NewErrorResponse("process is not swallowing any window")
			}
			gotPID = p.PID
			resp, _ := NewOKResponse(nil)
			return resp
		case CommandReload:
			resp, _ := NewOKResponse(ReloadData{Files: []string{"/etc/x.yaml"}})
			return resp
		}
		return NewErrorResponse("Unknown command: " + string(req.Command))
	}))

	status, err := client.GetStatus()
	require.NoError(t, err)
	require.Equal(t, 1, status.HiddenCount)
	require.Equal(t, 2, status.SwallowedCount)
	require.NoError(t, client.Ping())

	list, err := client.List()
	require.NoError(t, err)
	require.Len(t, list.Parents, 1)
	require.Equal(t, uint32(0x2000001), list.Parents[0].Children[0].Window)

	require.NoError(t, client.Unswallow(100))
	require.Equal(t, int32(100), gotPID)

	err = client.Unswallow(5)
	require.ErrorContains(t, err, "not swallowing")

	files, err := client.Reload()
	require.NoError(t, err)
	require.Equal(t, []string{"/etc/x.yaml"}, files)
}

func TestServer_InvalidRequest(t *testing.T) {
	path, _ := startServer(t, HandlerFunc(func(context.Context, *Request) *Response {
		t.Fatal("handler must not run")
		return nil
	}))

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte("not json\n"))
	require.NoError(t, err)

	var resp Response
	require.NoError(t, json.NewDecoder(conn).Decode(&resp))
	require.Equal(t, "ERROR", resp.Status)
	require.Contains(t, resp.Error, "Invalid request")
}

func TestServer_RefusesSecondDaemon(t *testing.T) {
	path, _ := startServer(t, HandlerFunc(func(context.Context, *Request) *Response { return nil }))

	second := NewServer(path, HandlerFunc(func(context.Context, *Request) *Response { return nil }), nil)
	err := second.Start()
	require.True(t, errors.Is(err, ErrAlreadyRunning), "got %v", err)
}

func TestServer_ReplacesStaleSocket(t *testing.T) {
	path := shortSocket(t)
	require.NoError(t, os.WriteFile(path, nil, 0600))

	s := NewServer(path, HandlerFunc(func(context.Context, *Request) *Response {
		resp, _ := NewOKResponse(StatusData{DaemonRunning: true})
		return resp
	}), nil)
	require.NoError(t, s.Start())
	defer s.Stop()

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0600), info.Mode().Perm())
	require.NoError(t, NewClient(path).Ping())
}

func TestServer_StopRemovesSocket(t *testing.T) {
	path := shortSocket(t)
	s := NewServer(path, HandlerFunc(func(context.Context, *Request) *Response { return nil }), nil)
	require.NoError(t, s.Start())
	s.Stop()

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	require.Error(t, NewClient(path).Ping())
}

func TestServer_NilResponse(t *testing.T) {
	_, client := startServer(t, HandlerFunc(func(context.Context, *Request) *Response { return nil }))
	err := client.Ping()
	require.ErrorContains(t, err, "no response for STATUS")
}
