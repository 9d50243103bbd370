package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrNotConnected        = errors.New("feed not connected")
	ErrClosed              = errors.New("feed closed")
	ErrReconnectExhausted  = errors.New("reconnect attempts exhausted")
	ErrInvalidOrder        = errors.New("invalid order parameters")
	ErrNoPosition          = errors.New("no open position")
	ErrRiskBlocked         = errors.New("blocked by risk checks")
	ErrInsufficientHistory = errors.New("insufficient candle history")
)
