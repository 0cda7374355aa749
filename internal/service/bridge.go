package service

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/quickpayplatform/autocue/internal/logger"
	"github.com/quickpayplatform/autocue/internal/osc"
)

var ErrBridgeNotConfigured = errors.New("direct console bridge is not configured")

// DirectBridge owns the cloud process's own Transport to a directly
// reachable console. It is unconfigured when no console IP is set.
type DirectBridge struct {
	log       *logger.Logger
	whitelist []string

	mu        sync.Mutex
	transport *osc.Transport
}

// NewDirectBridge builds the bridge. An empty cfg.Host yields an unconfigured
// bridge; a host outside a non-empty whitelist is a configuration error.
func NewDirectBridge(cfg osc.Config, whitelist []string, log *logger.Logger) (*DirectBridge, error) {
	if log == nil {
		log = logger.Nop()
	}
	b := &DirectBridge{log: log, whitelist: whitelist}
	if cfg.Host == "" {
		return b, nil
	}
	t, err := b.open(cfg)
	if err != nil {
		return nil, err
	}
	b.transport = t
	return b, nil
}

// Configured reports whether a console transport is present.
func (b *DirectBridge) Configured() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.transport != nil
}

// Config returns the active console endpoint.
func (b *DirectBridge) Config() (osc.Config, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport == nil {
		return osc.Config{}, false
	}
	return b.transport.Config(), true
}

// Send runs the batch on the current transport. Reconfiguration waits for
// an in-flight batch to finish.
func (b *DirectBridge) Send(cmds []osc.Command) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport == nil {
		return ErrBridgeNotConfigured
	}
	return b.transport.Send(cmds)
}

// Reconfigure closes the current transport before opening one for cfg. If
// the new endpoint is rejected the bridge is left unconfigured.
func (b *DirectBridge) Reconfigure(cfg osc.Config) error {
	if err := checkWhitelist(cfg.Host, b.whitelist); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.transport != nil {
		if err := b.transport.Close(); err != nil {
			b.log.Warnw("console_transport_close_failed", "err", err)
		}
		b.transport = nil
	}
	if cfg.Host == "" {
		b.log.Infow("console_bridge_disabled")
		return nil
	}
	t, err := b.open(cfg)
	if err != nil {
		return err
	}
	b.transport = t
	return nil
}

// Close releases the transport.
func (b *DirectBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.transport == nil {
		return nil
	}
	err := b.transport.Close()
	b.transport = nil
	return err
}

func (b *DirectBridge) open(cfg osc.Config) (*osc.Transport, error) {
	if err := checkWhitelist(cfg.Host, b.whitelist); err != nil {
		return nil, err
	}
	t, err := osc.NewTransport(cfg, b.log)
	if err != nil {
		return nil, fmt.Errorf("open console transport: %w", err)
	}
	b.log.Infow("console_bridge_configured", "addr", cfg.Addr(), "mode", cfg.Mode)
	return t, nil
}

func checkWhitelist(host string, whitelist []string) error {
	if host == "" || len(whitelist) == 0 {
		return nil
	}
	if !slices.Contains(whitelist, host) {
		return fmt.Errorf("%w: %s", osc.ErrNotWhitelisted, host)
	}
	return nil
}
