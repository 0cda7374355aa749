package osc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/metrics"
)

// Wire modes.
const (
	ModeTCP = "tcp"
	ModeUDP = "udp"
)

const (
	defaultDialTimeout = 5 * time.Second
	lengthPrefixSize   = 4
)

var (
	ErrUnknownMode = errors.New("osc: mode must be tcp or udp")
	ErrClosed      = errors.New("osc: transport closed")

	// ErrNotWhitelisted rejects a console address outside the configured allow-list.
	ErrNotWhitelisted = errors.New("osc: console ip not in whitelist")
)

// Config describes a console endpoint.
type Config struct {
	Host         string
	Port         int
	Mode         string
	UDPLocalPort int           // 0 binds an ephemeral port
	Rate         time.Duration // pause between commands
	DialTimeout  time.Duration
}

// Addr returns host:port of the console.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// SendError reports a batch that stopped at a failing command. SentCount is
// the number of commands known to have reached the wire before the failure.
type SendError struct {
	SentCount int
	Address   string
	Err       error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("osc send %q failed after %d command(s): %v", e.Address, e.SentCount, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SentCount extracts the delivered-command count from err. The second result
// is false when err carries no batch information.
func SentCount(err error) (int, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se.SentCount, true
	}
	return 0, false
}

// Transport owns the socket to one console. Batches are serialized: a batch
// runs to completion or to its first failure and cannot be interrupted.
type Transport struct {
	cfg   Config
	log   *logger.Logger
	sleep func(time.Duration)

	mu     sync.Mutex
	tcp    net.Conn
	udp    *net.UDPConn
	raddr  *net.UDPAddr
	closed bool
}

// NewTransport validates cfg and prepares the socket. UDP binds its local
// port immediately; TCP connects lazily on the first send and reconnects on
// the next batch after a write failure.
func NewTransport(cfg Config, log *logger.Logger) (*Transport, error) {
	if cfg.Mode != ModeTCP && cfg.Mode != ModeUDP {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("osc: invalid console address %q", cfg.Addr())
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if log == nil {
		log = logger.Nop()
	}
	t := &Transport{cfg: cfg, log: log, sleep: time.Sleep}

	if cfg.Mode == ModeUDP {
		raddr, err := net.ResolveUDPAddr("udp", cfg.Addr())
		if err != nil {
			return nil, fmt.Errorf("resolve console %s: %w", cfg.Addr(), err)
		}
		conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: cfg.UDPLocalPort})
		if err != nil {
			return nil, fmt.Errorf("bind udp local port %d: %w", cfg.UDPLocalPort, err)
		}
		t.udp = conn
		t.raddr = raddr
	}
	return t, nil
}

// Config returns the endpoint this transport was built for.
func (t *Transport) Config() Config { return t.cfg }

// Send delivers cmds in order, pausing cfg.Rate between commands. On failure
// it returns a *SendError whose SentCount is the index of the failing command.
func (t *Transport) Send(cmds []Command) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	for i, cmd := range cmds {
		if i > 0 && t.cfg.Rate > 0 {
			t.sleep(t.cfg.Rate)
		}
		if err := t.sendOne(cmd); err != nil {
			t.log.Errorw("osc_command_failed", "address", cmd.Address, "mode", t.cfg.Mode, "index", i, "err", err)
			metrics.OSCCommands.WithLabelValues(t.cfg.Mode, metrics.ResultError).Inc()
			return &SendError{SentCount: i, Address: cmd.Address, Err: err}
		}
		t.log.Infow("osc_command_sent", "address", cmd.Address, "mode", t.cfg.Mode, "index", i)
		metrics.OSCCommands.WithLabelValues(t.cfg.Mode, metrics.ResultOK).Inc()
	}
	return nil
}

func (t *Transport) sendOne(cmd Command) error {
	if t.closed {
		return ErrClosed
	}
	packet, err := cmd.MarshalBinary()
	if err != nil {
		return err
	}
	if t.cfg.Mode == ModeUDP {
		_, err := t.udp.WriteToUDP(packet, t.raddr)
		return err
	}
	return t.writeFrame(packet)
}

// writeFrame sends one length-prefixed packet over the persistent TCP
// connection, dialing first if needed.
func (t *Transport) writeFrame(packet []byte) error {
	if t.tcp == nil {
		conn, err := net.DialTimeout("tcp", t.cfg.Addr(), t.cfg.DialTimeout)
		if err != nil {
			return fmt.Errorf("dial console %s: %w", t.cfg.Addr(), err)
		}
		t.tcp = conn
	}

	frame := make([]byte, lengthPrefixSize+len(packet))
	binary.BigEndian.PutUint32(frame, uint32(len(packet)))
	copy(frame[lengthPrefixSize:], packet)

	if _, err := t.tcp.Write(frame); err != nil {
		_ = t.tcp.Close()
		t.tcp = nil
		return err
	}
	return nil
}

// Reachable reports whether the console looks reachable. TCP checks the live
// connection or tries a short dial; UDP has no feedback and reports
// whether its socket is bound.
func (t *Transport) Reachable(timeout time.Duration) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	if t.cfg.Mode == ModeUDP {
		return t.udp != nil
	}
	if t.tcp != nil {
		return true
	}
	conn, err := net.DialTimeout("tcp", t.cfg.Addr(), timeout)
	if err != nil {
		return false
	}
	t.tcp = conn
	return true
}

// Close releases the socket. Further sends fail with ErrClosed.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true

	var err error
	if t.tcp != nil {
		err = t.tcp.Close()
		t.tcp = nil
	}
	if t.udp != nil {
		if uerr := t.udp.Close(); err == nil {
			err = uerr
		}
		t.udp = nil
	}
	return err
}
