package heartbeat

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
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
	leaderID      int
	hasLeader     bool
	electionCalls int32
}

func (f *fakeLeaderView) CurrentLeaderID() (int, bool) { return f.leaderID, f.hasLeader }
func (f *fakeLeaderView) StartElection()               { atomic.AddInt32(&f.electionCalls, 1) }

func TestEmitOnceSendsHeartbeatToEveryPeer(t *testing.T) {
	var received int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&received, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	table := membership.New(1, map[int]string{1: "self", 2: stripScheme(srv.URL)}, time.Second)
	client := transport.NewPeerClient()
	svc := New(1, table, client, &fakeLeaderView{}, time.Second, time.Second, nil)

	svc.emitOnce()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&received) == 1 }, time.Second, 10*time.Millisecond)
}

func TestCheckLeaderStartsElectionWhenLeaderDead(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self", 2: "peer"}, 10*time.Millisecond)
	client := transport.NewPeerClient()
	view := &fakeLeaderView{leaderID: 2, hasLeader: true}
	svc := New(1, table, client, view, time.Second, time.Second, nil)

	svc.checkLeader()

	assert.Equal(t, int32(1), atomic.LoadInt32(&view.electionCalls))
}

func TestCheckLeaderDoesNothingWhenLeaderAlive(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self", 2: "peer"}, time.Second)
	table.RecordSeen(2)
	client := transport.NewPeerClient()
	view := &fakeLeaderView{leaderID: 2, hasLeader: true}
	svc := New(1, table, client, view, time.Second, time.Second, nil)

	svc.checkLeader()

	assert.Equal(t, int32(0), atomic.LoadInt32(&view.electionCalls))
}

func TestCheckLeaderDoesNothingWhenSelfIsLeader(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self"}, 10*time.Millisecond)
	client := transport.NewPeerClient()
	view := &fakeLeaderView{leaderID: 1, hasLeader: true}
	svc := New(1, table, client, view, time.Second, time.Second, nil)

	svc.checkLeader()

	assert.Equal(t, int32(0), atomic.LoadInt32(&view.electionCalls))
}

func TestObserveRecordsPeerSeen(t *testing.T) {
	table := membership.New(1, map[int]string{1: "self", 2: "peer"}, time.Second)
	client := transport.NewPeerClient()
	svc := New(1, table, client, &fakeLeaderView{}, time.Second, time.Second, nil)

	svc.Observe(2)

	assert.True(t, table.IsAlive(2))
}
