package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
)

type memStore struct {
	mu    sync.Mutex
	cfg   config.Node
	saves int
}

func (m *memStore) Load() (config.Node, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg, nil
}

func (m *memStore) Save(n config.Node) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = n
	m.saves++
	return nil
}

func (m *memStore) saved() config.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// udpConsole collects the OSC addresses it receives.
type udpConsole struct {
	conn  net.PacketConn
	addrs chan string
}

func newUDPConsole(t *testing.T) *udpConsole {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	c := &udpConsole{conn: pc, addrs: make(chan string, 64)}
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			addr := buf[:n]
			if i := bytes.IndexByte(addr, 0); i >= 0 {
				addr = addr[:i]
			}
			c.addrs <- string(addr)
		}
	}()
	t.Cleanup(func() { _ = pc.Close() })
	return c
}

func (c *udpConsole) port() int { return c.conn.LocalAddr().(*net.UDPAddr).Port }

func (c *udpConsole) next(t *testing.T) string {
	t.Helper()
	select {
	case a := <-c.addrs:
		return a
	case <-time.After(2 * time.Second):
		t.Fatal("console received nothing")
		return ""
	}
}

// fakeCloud accepts one relay session per dial and records result callbacks.
type fakeCloud struct {
	srv     *httptest.Server
	token   string
	frames  chan relay.Envelope
	conns   chan *websocket.Conn
	results chan relay.CueResult
	paths   chan string
}

func newFakeCloud(t *testing.T, token string) *fakeCloud {
	t.Helper()
	fc := &fakeCloud{
		token:   token,
		frames:  make(chan relay.Envelope, 64),
		conns:   make(chan *websocket.Conn, 4),
		results: make(chan relay.CueResult, 4),
		paths:   make(chan string, 4),
	}
	up := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/nodes", func(w http.ResponseWriter, r *http.Request) {
		if relay.BearerToken(r.Header.Get("Authorization")) != fc.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		fc.conns <- conn
		for {
			var env relay.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			fc.frames <- env
		}
	})
	mux.HandleFunc("/api/nodes/", func(w http.ResponseWriter, r *http.Request) {
		if relay.BearerToken(r.Header.Get("Authorization")) != fc.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var res relay.CueResult
		_ = json.NewDecoder(r.Body).Decode(&res)
		fc.paths <- r.URL.Path
		fc.results <- res
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})
	fc.srv = httptest.NewServer(mux)
	t.Cleanup(fc.srv.Close)
	return fc
}

func (fc *fakeCloud) frame(t *testing.T, typ string) relay.Envelope {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case env := <-fc.frames:
			if env.Type == typ {
				return env
			}
		case <-deadline:
			t.Fatalf("no %s frame", typ)
		}
	}
}

func nodeConfig(cloudURL string, consolePort int) config.Node {
	cfg := config.DefaultNode()
	cfg.CloudURL = cloudURL
	cfg.NodeID = "n1"
	cfg.NodeToken = "tok"
	cfg.ConsoleIP = "127.0.0.1"
	cfg.OSCMode = osc.ModeUDP
	cfg.OSCPort = consolePort
	cfg.UDPLocalPort = 0
	cfg.OSCRate = 0
	cfg.HeartbeatInterval = 50 * time.Millisecond
	return cfg
}

func startAgent(t *testing.T, store *memStore) *Agent {
	t.Helper()
	a, err := New(store, "1.0.0-test", nil)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = a.Close()
	})
	return a
}

func TestWSURL(t *testing.T) {
	cases := map[string]string{
		"https://autoque.app":     "wss://autoque.app/ws/nodes",
		"http://127.0.0.1:4000/":  "ws://127.0.0.1:4000/ws/nodes",
		"https://example.com/api": "wss://example.com/api/ws/nodes",
	}
	for in, want := range cases {
		got, err := wsURL(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := wsURL("ftp://example.com")
	require.Error(t, err)
}

func TestAgent_SessionHelloAndHeartbeat(t *testing.T) {
	console := newUDPConsole(t)
	cloud := newFakeCloud(t, "tok")
	a := startAgent(t, &memStore{cfg: nodeConfig(cloud.srv.URL, console.port())})

	var hello relay.Hello
	require.NoError(t, cloud.frame(t, relay.TypeHello).Decode(&hello))
	require.Equal(t, "n1", hello.NodeID)
	require.Equal(t, "1.0.0-test", hello.Version)

	var hb models.Heartbeat
	require.NoError(t, cloud.frame(t, relay.TypeHeartbeat).Decode(&hb))
	require.Equal(t, models.NodeStatusOnline, hb.Status)
	require.Equal(t, "127.0.0.1", hb.ConsoleIP)
	require.Equal(t, osc.ModeUDP, hb.OSCMode)
	require.True(t, hb.ConsoleReachable)

	require.Eventually(t, func() bool { return a.Status().Connected }, 2*time.Second, 10*time.Millisecond)
}

func TestAgent_CueExecuteReportsOverHTTP(t *testing.T) {
	console := newUDPConsole(t)
	cloud := newFakeCloud(t, "tok")
	startAgent(t, &memStore{cfg: nodeConfig(cloud.srv.URL, console.port())})

	var conn *websocket.Conn
	select {
	case conn = <-cloud.conns:
	case <-time.After(3 * time.Second):
		t.Fatal("agent never connected")
	}

	env, err := relay.NewEnvelope(relay.TypeCueExecute, relay.CueExecute{
		CueID: "c1",
		Commands: []osc.Command{
			{Address: "/eos/newcmd"},
			{Address: "/eos/channel/1/at", Args: []any{50}},
			{Address: "/eos/record/cue", Args: []any{7}},
		},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	require.Equal(t, "/eos/newcmd", console.next(t))
	require.Equal(t, "/eos/channel/1/at", console.next(t))
	require.Equal(t, "/eos/record/cue", console.next(t))

	select {
	case res := <-cloud.results:
		require.True(t, res.OK)
		require.Nil(t, res.SentCount)
	case <-time.After(3 * time.Second):
		t.Fatal("no result callback")
	}
	require.Equal(t, "/api/nodes/n1/cues/c1/result", <-cloud.paths)
}

func TestAgent_OSCSendRepliesWithCommandResult(t *testing.T) {
	console := newUDPConsole(t)
	cloud := newFakeCloud(t, "tok")
	startAgent(t, &memStore{cfg: nodeConfig(cloud.srv.URL, console.port())})

	conn := <-cloud.conns
	env, err := relay.NewEnvelope(relay.TypeOSCSend, osc.Command{Address: "/eos/key/go_0"})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	require.Equal(t, "/eos/key/go_0", console.next(t))
	var res relay.CommandResult
	require.NoError(t, cloud.frame(t, relay.TypeCommandResult).Decode(&res))
	require.Equal(t, env.ID, res.ID)
	require.True(t, res.OK)
}

func TestAgent_NoConsoleFailsCue(t *testing.T) {
	cloud := newFakeCloud(t, "tok")
	cfg := nodeConfig(cloud.srv.URL, 9)
	cfg.ConsoleIP = ""
	startAgent(t, &memStore{cfg: cfg})

	conn := <-cloud.conns
	env, err := relay.NewEnvelope(relay.TypeCueExecute, relay.CueExecute{
		CueID:    "c2",
		Commands: []osc.Command{{Address: "/eos/newcmd"}},
	})
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(env))

	res := <-cloud.results
	require.False(t, res.OK)
	require.Contains(t, res.Error, ErrNoConsole.Error())
}

func TestAgent_ReconnectsAfterDrop(t *testing.T) {
	console := newUDPConsole(t)
	cloud := newFakeCloud(t, "tok")
	startAgent(t, &memStore{cfg: nodeConfig(cloud.srv.URL, console.port())})

	first := <-cloud.conns
	require.NoError(t, first.Close())

	select {
	case <-cloud.conns:
	case <-time.After(5 * time.Second):
		t.Fatal("agent did not reconnect")
	}
}

func TestAgent_ApplySwapsTransport(t *testing.T) {
	oldConsole := newUDPConsole(t)
	newConsole := newUDPConsole(t)
	store := &memStore{cfg: nodeConfig("http://127.0.0.1:1", oldConsole.port())}
	a, err := New(store, "test", nil)
	require.NoError(t, err)
	defer a.Close()

	require.NoError(t, a.SendOSC([]osc.Command{{Address: "/eos/ping"}}))
	require.Equal(t, "/eos/ping", oldConsole.next(t))

	a.mu.Lock()
	old := a.transport
	a.mu.Unlock()

	next := a.Config()
	next.OSCPort = newConsole.port()
	require.NoError(t, a.UpdateConfig(next))
	require.Equal(t, newConsole.port(), store.saved().OSCPort)

	// the previous transport is closed before the new one is used
	err = old.Send([]osc.Command{{Address: "/eos/ping"}})
	require.ErrorIs(t, err, osc.ErrClosed)

	require.NoError(t, a.SendOSC([]osc.Command{{Address: "/eos/ping"}}))
	require.Equal(t, "/eos/ping", newConsole.next(t))

	// heartbeat settings are not console settings
	a.mu.Lock()
	current := a.transport
	a.mu.Unlock()
	next.HeartbeatInterval = time.Minute
	require.NoError(t, a.Apply(next))
	a.mu.Lock()
	require.Same(t, current, a.transport)
	a.mu.Unlock()

	next.OSCMode = "serial"
	require.ErrorIs(t, a.UpdateConfig(next), osc.ErrUnknownMode)
}

func TestAgent_HeartbeatWithoutConsole(t *testing.T) {
	cfg := nodeConfig("http://127.0.0.1:1", 9)
	cfg.ConsoleIP = ""
	a, err := New(&memStore{cfg: cfg}, "2.0.0", nil)
	require.NoError(t, err)

	require.ErrorIs(t, a.SendOSC([]osc.Command{{Address: "/eos/newcmd"}}), ErrNoConsole)
	hb := a.heartbeat()
	require.False(t, hb.ConsoleReachable)
	require.Equal(t, "2.0.0", hb.Version)
	require.NotEmpty(t, hb.OS)
	require.Equal(t, models.NodeStatusOnline, hb.Status)
	require.False(t, a.Status().Connected)
}
