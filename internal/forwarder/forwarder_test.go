package forwarder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jobcluster/coordinator/internal/membership"
	"github.com/jobcluster/coordinator/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stripScheme(url string) string {
	return strings.TrimPrefix(url, "http://")
}

type fakeLeaderView struct {
	leaderID int
	hasLeader bool
}

func (f *fakeLeaderView) CurrentLeaderID() (int, bool) { return f.leaderID, f.hasLeader }

func TestForwardProxiesToLeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transport.SubmitTaskRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		resp := transport.SubmitTaskResponse{TaskID: "abc123", Status: "submitted"}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	table := membership.New(1, map[int]string{1: "self", 2: stripScheme(srv.URL)}, time.Second)
	f := New(table, transport.NewPeerClient(), &fakeLeaderView{leaderID: 2, hasLeader: true})

	resp, err := f.Forward(context.Background(), transport.SubmitTaskRequest{ProjectDescription: "x"})
	require.NoError(t, err)
	assert.Equal(t, "abc123", resp.TaskID)
}

func TestForwardFailsWithNoKnownLeader(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self"}, time.Second)
	f := New(table, transport.NewPeerClient(), &fakeLeaderView{hasLeader: false})

	_, err := f.Forward(context.Background(), transport.SubmitTaskRequest{ProjectDescription: "x"})
	assert.ErrorIs(t, err, ErrNoLeader)
}

func TestForwardFailsWhenLeaderUnreachable(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self", 2: "127.0.0.1:1"}, time.Second)
	f := New(table, transport.NewPeerClient(), &fakeLeaderView{leaderID: 2, hasLeader: true})

	_, err := f.Forward(context.Background(), transport.SubmitTaskRequest{ProjectDescription: "x"})
	assert.ErrorIs(t, err, ErrNoLeader)
}
