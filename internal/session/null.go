// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package session

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ManuGH/pvrd/internal/domain/ports"
	xglog "github.com/ManuGH/pvrd/internal/log"
)

// ErrClientClosed is returned by a NullClient after Close.
var ErrClientClosed = errors.New("tuner client closed")

// NullDialer creates clients that accept every command and record nothing.
// It stands in for a tuner layer in development setups.
type NullDialer struct{}

func (NullDialer) Dial(_ context.Context, inputID string) (Client, error) {
	return &NullClient{
		logger: xglog.WithComponent("session").With().Str(xglog.FieldInputID, inputID).Logger(),
	}, nil
}

type NullClient struct {
	logger zerolog.Logger

	mu     sync.Mutex
	cb     ports.Callback
	closed bool
}

func (c *NullClient) callback() (ports.Callback, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClientClosed
	}
	if c.cb == nil {
		return ports.NopCallback{}, nil
	}
	return c.cb, nil
}

func (c *NullClient) Connect(inputID string, cb ports.Callback) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClientClosed
	}
	c.cb = cb
	c.mu.Unlock()
	cb.OnConnected()
	return nil
}

func (c *NullClient) StartRecord(channelURI, mediaURI string) error {
	cb, err := c.callback()
	if err != nil {
		return err
	}
	c.logger.Info().Str("channel_uri", channelURI).Str("media_uri", mediaURI).Msg("null record started")
	cb.OnRecordStarted(mediaURI)
	return nil
}

func (c *NullClient) StopRecord() error {
	_, err := c.callback()
	return err
}

func (c *NullClient) Delete(mediaURI string) error {
	cb, err := c.callback()
	if err != nil {
		return err
	}
	cb.OnRecordDeleted(mediaURI)
	return nil
}

func (c *NullClient) Tune(string) error {
	_, err := c.callback()
	return err
}

func (c *NullClient) StopTune() error {
	_, err := c.callback()
	return err
}

func (c *NullClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
