package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var (
	ErrPairingPending = errors.New("pairing not claimed yet")
	ErrPairingUsed    = errors.New("pairing code already completed")
	ErrNoPairing      = errors.New("no pairing in progress")
)

// PairingStart is the cloud's answer to /api/node-pair/start.
type PairingStart struct {
	Code      string    `json:"code"`
	Nonce     string    `json:"nonce"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type credentials struct {
	NodeID    string `json:"nodeId"`
	NodeToken string `json:"nodeToken"`
}

// BeginPairing asks the cloud for a pairing code and stores code and nonce
// until the operator claims it.
func (a *Agent) BeginPairing(ctx context.Context) (*PairingStart, error) {
	cfg := a.Config()
	var ps PairingStart
	if err := a.postJSON(ctx, cfg.CloudURL+"/api/node-pair/start", struct{}{}, &ps); err != nil {
		return nil, fmt.Errorf("start pairing: %w", err)
	}
	if ps.Code == "" || ps.Nonce == "" {
		return nil, errors.New("start pairing: empty code")
	}

	cfg.PairingCode, cfg.PairingNonce = ps.Code, ps.Nonce
	if err := a.store.Save(cfg); err != nil {
		return nil, err
	}
	if err := a.Apply(cfg); err != nil {
		a.log.Warnw("console_open_failed", "err", err)
	}
	a.log.Infow("pairing_started", "code", ps.Code, "expires_at", ps.ExpiresAt)
	return &ps, nil
}

// CheckPairing tries to collect the node credential. It returns true once
// the node is paired and ErrPairingPending while the code is unclaimed.
func (a *Agent) CheckPairing(ctx context.Context) (bool, error) {
	cfg := a.Config()
	if cfg.Paired() {
		return true, nil
	}
	if cfg.PairingCode == "" || cfg.PairingNonce == "" {
		return false, ErrNoPairing
	}

	var creds credentials
	err := a.postJSON(ctx, cfg.CloudURL+"/api/node-pair/complete",
		map[string]string{"code": cfg.PairingCode, "nonce": cfg.PairingNonce}, &creds)
	if err != nil {
		return false, err
	}
	if creds.NodeID == "" || creds.NodeToken == "" {
		return false, errors.New("complete pairing: empty credential")
	}

	cfg.NodeID, cfg.NodeToken = creds.NodeID, creds.NodeToken
	cfg.PairingCode, cfg.PairingNonce = "", ""
	if err := a.store.Save(cfg); err != nil {
		return false, err
	}
	if err := a.Apply(cfg); err != nil {
		a.log.Warnw("console_open_failed", "err", err)
	}
	a.log.Infow("pairing_completed", "node_id", creds.NodeID)
	return true, nil
}

// WaitPaired polls CheckPairing until the node is paired or ctx ends.
func (a *Agent) WaitPaired(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = pairPollInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		ok, err := a.CheckPairing(ctx)
		if ok {
			return nil
		}
		if err != nil && !errors.Is(err, ErrPairingPending) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (a *Agent) postJSON(ctx context.Context, endpoint string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated:
		return json.NewDecoder(resp.Body).Decode(out)
	case http.StatusNotFound:
		return ErrPairingPending
	case http.StatusConflict:
		return ErrPairingUsed
	}
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s: %s", resp.Status, strings.TrimSpace(string(msg)))
}
