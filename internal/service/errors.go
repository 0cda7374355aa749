package service

import "errors"

// Domain errors surfaced to the HTTP layer.
var (
	ErrCueNotFound        = errors.New("cue not found")
	ErrCueNotPending      = errors.New("cue is not pending")
	ErrInvalidCue         = errors.New("invalid cue")
	ErrCueNumberLocked    = errors.New("cue number is locked")
	ErrDuplicateCueNumber = errors.New("cue number already recorded in this list")

	ErrNoOnlineNode = errors.New("no online relay node for venue")
	ErrNoRoute      = errors.New("no delivery route: no paired relay node and no direct console")

	ErrNodeNotFound     = errors.New("relay node not found")
	ErrNodeOffline      = errors.New("relay node is offline")
	ErrNodeForbidden    = errors.New("cue does not belong to this node's venue")
	ErrInvalidCommand   = errors.New("invalid osc command")
	ErrInvalidPairing   = errors.New("invalid or expired pairing code")
	ErrPairingCompleted = errors.New("pairing already completed")
	ErrPairingPending   = errors.New("pairing code not claimed yet")

	ErrInvalidOperator    = errors.New("invalid operator")
	ErrOperatorExists     = errors.New("username is taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
)
