// Package agent is the on-prem relay node. It keeps an authenticated
// websocket to the cloud, replays dispatched OSC batches against the local
// console and reports cue outcomes back over HTTP.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quickpayplatform/autocue/internal/config"
	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/models"
	"github.com/quickpayplatform/autocue/internal/osc"
	"github.com/quickpayplatform/autocue/internal/relay"
)

const (
	minBackoff       = time.Second
	maxBackoff       = 30 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
	reachTimeout     = 2 * time.Second
	callbackTimeout  = 10 * time.Second
	pairPollInterval = 5 * time.Second
	jobBuffer        = 32
)

var (
	ErrNoConsole = errors.New("console not configured")
	ErrNotPaired = errors.New("node is not paired")
)

// ConfigStore persists the node configuration. *config.NodeStore implements it.
type ConfigStore interface {
	Load() (config.Node, error)
	Save(config.Node) error
}

// Status is what the local page shows.
type Status struct {
	NodeID           string `json:"nodeId,omitempty"`
	Paired           bool   `json:"paired"`
	Connected        bool   `json:"connected"`
	PairingCode      string `json:"pairingCode,omitempty"`
	CloudURL         string `json:"cloudUrl"`
	ConsoleIP        string `json:"consoleIp"`
	OSCMode          string `json:"oscMode"`
	OSCPort          int    `json:"oscPort"`
	ConsoleReachable bool   `json:"consoleReachable"`
	Version          string `json:"version"`
	LastError        string `json:"lastError,omitempty"`
}

type Agent struct {
	store   ConfigStore
	version string
	log     *logger.Logger
	client  *http.Client
	dialer  *websocket.Dialer

	mu        sync.Mutex
	cfg       config.Node
	transport *osc.Transport
	lastErr   string

	connected atomic.Bool
	// wake interrupts backoff and drops the session after a credential change.
	wake chan struct{}

	connMu sync.Mutex
	conn   *websocket.Conn
}

// New loads the configuration and opens the console transport. A console
// that cannot be opened is not fatal; it can be fixed from the local API.
func New(store ConfigStore, version string, log *logger.Logger) (*Agent, error) {
	if log == nil {
		log = logger.Nop()
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, err
	}
	a := &Agent{
		store:   store,
		version: version,
		log:     log,
		client:  &http.Client{Timeout: callbackTimeout},
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		cfg:  cfg,
		wake: make(chan struct{}, 1),
	}
	t, err := openTransport(cfg, log)
	if err != nil {
		log.Warnw("console_open_failed", "console_ip", cfg.ConsoleIP, "mode", cfg.OSCMode, "err", err)
		a.lastErr = err.Error()
	}
	a.transport = t
	return a, nil
}

func oscConfig(n config.Node) osc.Config {
	return osc.Config{
		Host:         n.ConsoleIP,
		Port:         n.OSCPort,
		Mode:         n.OSCMode,
		UDPLocalPort: n.UDPLocalPort,
		Rate:         n.OSCRate,
	}
}

func openTransport(n config.Node, log *logger.Logger) (*osc.Transport, error) {
	if strings.TrimSpace(n.ConsoleIP) == "" {
		return nil, nil
	}
	return osc.NewTransport(oscConfig(n), log.Named("osc"))
}

// Config returns the active configuration.
func (a *Agent) Config() config.Node {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

func (a *Agent) Status() Status {
	a.mu.Lock()
	cfg, t, lastErr := a.cfg, a.transport, a.lastErr
	a.mu.Unlock()

	return Status{
		NodeID:           cfg.NodeID,
		Paired:           cfg.Paired(),
		Connected:        a.connected.Load(),
		PairingCode:      cfg.PairingCode,
		CloudURL:         cfg.CloudURL,
		ConsoleIP:        cfg.ConsoleIP,
		OSCMode:          cfg.OSCMode,
		OSCPort:          cfg.OSCPort,
		ConsoleReachable: t != nil && t.Reachable(reachTimeout),
		Version:          a.version,
		LastError:        lastErr,
	}
}

// UpdateConfig persists next and applies it.
func (a *Agent) UpdateConfig(next config.Node) error {
	if next.OSCMode != osc.ModeTCP && next.OSCMode != osc.ModeUDP {
		return fmt.Errorf("%w: %q", osc.ErrUnknownMode, next.OSCMode)
	}
	if err := a.store.Save(next); err != nil {
		return err
	}
	return a.Apply(next)
}

// Apply switches to next without persisting it. A console change closes the
// old transport before the new one opens; a credential or cloud change
// drops the current session so Run reconnects.
func (a *Agent) Apply(next config.Node) error {
	a.mu.Lock()
	prev := a.cfg
	a.cfg = next

	var openErr error
	if prev.ConsoleChanged(next) || (a.transport == nil && next.ConsoleIP != "") {
		if a.transport != nil {
			_ = a.transport.Close()
			a.transport = nil
		}
		a.transport, openErr = openTransport(next, a.log)
		if openErr != nil {
			a.lastErr = openErr.Error()
		} else {
			a.lastErr = ""
		}
		a.log.Infow("console_reconfigured", "console_ip", next.ConsoleIP, "mode", next.OSCMode, "port", next.OSCPort)
	}
	a.mu.Unlock()

	if prev.NodeID != next.NodeID || prev.NodeToken != next.NodeToken || prev.CloudURL != next.CloudURL {
		a.reconnect()
	}
	return openErr
}

func (a *Agent) reconnect() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
	a.connMu.Lock()
	if a.conn != nil {
		_ = a.conn.Close()
	}
	a.connMu.Unlock()
}

// Close releases the console transport.
func (a *Agent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.transport == nil {
		return nil
	}
	err := a.transport.Close()
	a.transport = nil
	return err
}

// SendOSC runs cmds on the current console transport.
func (a *Agent) SendOSC(cmds []osc.Command) error {
	a.mu.Lock()
	t := a.transport
	a.mu.Unlock()
	if t == nil {
		return ErrNoConsole
	}
	err := t.Send(cmds)
	a.setLastErr(err)
	return err
}

func (a *Agent) setLastErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err != nil {
		a.lastErr = err.Error()
		return
	}
	a.lastErr = ""
}

// Run keeps a session to the cloud until ctx is canceled, reconnecting with
// exponential backoff. An unpaired node waits for credentials first.
func (a *Agent) Run(ctx context.Context) {
	backoff := minBackoff
	for ctx.Err() == nil {
		cfg := a.Config()
		if !cfg.Paired() {
			a.awaitPairing(ctx)
			continue
		}

		start := time.Now()
		err := a.session(ctx, cfg)
		if ctx.Err() != nil {
			return
		}
		if time.Since(start) > maxBackoff {
			backoff = minBackoff
		}
		a.log.Warnw("relay_disconnected", "err", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return
		case <-a.wake:
			backoff = minBackoff
		case <-time.After(backoff):
			backoff = min(backoff*2, maxBackoff)
		}
	}
}

// awaitPairing polls the cloud for the credential of a pending pairing, or
// waits for one to be configured.
func (a *Agent) awaitPairing(ctx context.Context) {
	if a.Config().PairingCode != "" {
		if _, err := a.CheckPairing(ctx); err != nil && !errors.Is(err, ErrPairingPending) {
			a.log.Warnw("pairing_check_failed", "err", err)
		}
	}
	select {
	case <-ctx.Done():
	case <-a.wake:
	case <-time.After(pairPollInterval):
	}
}

// wsURL maps the cloud base URL to the relay websocket endpoint.
func wsURL(cloudURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(cloudURL, "/"))
	if err != nil {
		return "", fmt.Errorf("parse cloud url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported cloud url scheme %q", u.Scheme)
	}
	u.Path += "/ws/nodes"
	return u.String(), nil
}

func (a *Agent) session(ctx context.Context, cfg config.Node) error {
	target, err := wsURL(cfg.CloudURL)
	if err != nil {
		return err
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+cfg.NodeToken)

	conn, resp, err := a.dialer.DialContext(ctx, target, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("%w: cloud rejected node token", ErrNotPaired)
		}
		return fmt.Errorf("dial %s: %w", target, err)
	}
	a.connMu.Lock()
	a.conn = conn
	a.connMu.Unlock()
	a.connected.Store(true)
	a.log.Infow("relay_connected", "node_id", cfg.NodeID, "url", target)

	sctx, cancel := context.WithCancel(ctx)
	jobs := make(chan relay.Envelope, jobBuffer)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		_ = conn.Close()
		close(jobs)
		wg.Wait()
		a.connMu.Lock()
		a.conn = nil
		a.connMu.Unlock()
		a.connected.Store(false)
	}()

	// close the socket when ctx ends so ReadMessage returns
	go func() {
		<-sctx.Done()
		_ = conn.Close()
	}()

	if err := a.write(conn, relay.TypeHello, relay.Hello{NodeID: cfg.NodeID, Version: a.version}); err != nil {
		return err
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		a.heartbeatLoop(sctx, conn, cfg)
	}()
	go func() {
		defer wg.Done()
		// One worker keeps console commands in dispatch order.
		for env := range jobs {
			a.handle(sctx, conn, cfg, env)
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var env relay.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			a.log.Warnw("relay_bad_frame", "err", err)
			continue
		}
		switch env.Type {
		case relay.TypeOSCSend, relay.TypeCueExecute:
			select {
			case jobs <- env:
			default:
				a.log.Warnw("relay_job_dropped", "type", env.Type, "id", env.ID)
				a.reply(conn, relay.CommandResult{ID: env.ID, OK: false, Error: "node busy"})
			}
		default:
			a.log.Debugw("relay_frame_ignored", "type", env.Type)
		}
	}
}

func (a *Agent) handle(ctx context.Context, conn *websocket.Conn, cfg config.Node, env relay.Envelope) {
	switch env.Type {
	case relay.TypeOSCSend:
		var cmd osc.Command
		if err := env.Decode(&cmd); err != nil {
			a.reply(conn, relay.CommandResult{ID: env.ID, OK: false, Error: err.Error()})
			return
		}
		res := relay.CommandResult{ID: env.ID, OK: true}
		if err := a.SendOSC([]osc.Command{cmd}); err != nil {
			res.OK, res.Error = false, err.Error()
		}
		a.reply(conn, res)

	case relay.TypeCueExecute:
		var job relay.CueExecute
		if err := env.Decode(&job); err != nil || job.CueID == "" {
			a.log.Warnw("cue_execute_invalid", "id", env.ID, "err", err)
			a.reply(conn, relay.CommandResult{ID: env.ID, OK: false, Error: "invalid cue.execute payload"})
			return
		}
		res := a.execute(job)
		if err := a.reportCue(ctx, cfg, job.CueID, res); err != nil {
			a.log.Errorw("cue_result_report_failed", "cue_id", job.CueID, "err", err)
		}
	}
}

// execute replays the whole batch and summarizes it for the result callback.
func (a *Agent) execute(job relay.CueExecute) relay.CueResult {
	err := a.SendOSC(job.Commands)
	if err == nil {
		a.log.Infow("cue_executed", "cue_id", job.CueID, "commands", len(job.Commands))
		return relay.CueResult{OK: true}
	}
	sent, _ := osc.SentCount(err)
	a.log.Warnw("cue_execute_failed", "cue_id", job.CueID, "sent", sent, "total", len(job.Commands), "err", err)
	return relay.CueResult{OK: false, SentCount: &sent, Error: err.Error()}
}

func (a *Agent) reportCue(ctx context.Context, cfg config.Node, cueID string, res relay.CueResult) error {
	body, err := json.Marshal(res)
	if err != nil {
		return err
	}
	endpoint := fmt.Sprintf("%s/api/nodes/%s/cues/%s/result",
		strings.TrimRight(cfg.CloudURL, "/"), url.PathEscape(cfg.NodeID), url.PathEscape(cueID))

	// The callback outlives the session: a dropped socket must not lose the outcome.
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), callbackTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(rctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+cfg.NodeToken)

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("result callback: %s", resp.Status)
	}
	return nil
}

func (a *Agent) heartbeatLoop(ctx context.Context, conn *websocket.Conn, cfg config.Node) {
	interval := cfg.HeartbeatInterval
	if interval <= 0 {
		interval = config.DefaultNode().HeartbeatInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := a.write(conn, relay.TypeHeartbeat, a.heartbeat()); err != nil {
			a.log.Infow("heartbeat_failed", "err", err)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

func (a *Agent) heartbeat() models.Heartbeat {
	st := a.Status()
	return models.Heartbeat{
		Version:          a.version,
		OS:               runtime.GOOS,
		Status:           models.NodeStatusOnline,
		ConsoleReachable: st.ConsoleReachable,
		ConsoleIP:        st.ConsoleIP,
		OSCMode:          st.OSCMode,
		LastError:        st.LastError,
	}
}

func (a *Agent) reply(conn *websocket.Conn, res relay.CommandResult) {
	if err := a.write(conn, relay.TypeCommandResult, res); err != nil {
		a.log.Infow("command_result_failed", "id", res.ID, "err", err)
	}
}

// write serializes frames; gorilla allows one concurrent writer.
func (a *Agent) write(conn *websocket.Conn, typ string, payload any) error {
	env, err := relay.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	a.connMu.Lock()
	defer a.connMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(env)
}
