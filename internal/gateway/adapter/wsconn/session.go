// Package wsconn adapts a golang.org/x/net/websocket connection into the
// channel the wire package reports to.
package wsconn

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"

	"wsgateway/internal/wire"
)

var (
	ErrSessionClosed = errors.New("wsconn: session closed")
	ErrSendQueueFull = errors.New("wsconn: send queue full")
)

var _ wire.Channel = (*Session)(nil)

const (
	defaultQueueSize    = 64
	defaultWriteTimeout = 10 * time.Second
	defaultCloseTimeout = 5 * time.Second
)

// Options tune a Session. Zero values select defaults.
type Options struct {
	// MaxFrameBytes bounds a single inbound frame; 0 keeps the library default.
	MaxFrameBytes int
	QueueSize     int
	WriteTimeout  time.Duration
	CloseTimeout  time.Duration
	Logger        *zap.Logger
}

type outbound struct {
	text string
	done func(error)
}

// Session owns one WebSocket connection. Reads are done by the caller through
// Receive; writes go through a bounded queue drained by a single goroutine,
// so concurrent SendAsync calls never interleave frames.
type Session struct {
	id           string
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeTimeout time.Duration
	logger       *zap.Logger

	mu     sync.Mutex
	closed bool
	queue  chan outbound

	writerDone chan struct{}
}

// New wraps conn and starts its writer.
func New(conn *websocket.Conn, opts Options) *Session {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.CloseTimeout <= 0 {
		opts.CloseTimeout = defaultCloseTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxFrameBytes > 0 {
		conn.MaxPayloadBytes = opts.MaxFrameBytes
	}

	id := uuid.New().String()
	s := &Session{
		id:           id,
		conn:         conn,
		writeTimeout: opts.WriteTimeout,
		closeTimeout: opts.CloseTimeout,
		logger:       opts.Logger.With(zap.String("session_id", id)),
		queue:        make(chan outbound, opts.QueueSize),
		writerDone:   make(chan struct{}),
	}
	go s.writeLoop()
	return s
}

// ID returns the session's unique identifier.
func (s *Session) ID() string {
	return s.id
}

// Receive blocks until the next text frame arrives.
func (s *Session) Receive() (string, error) {
	var text string
	if err := websocket.Message.Receive(s.conn, &text); err != nil {
		return "", err
	}
	return text, nil
}

// SendAsync queues text for delivery without blocking. done, if non-nil, is
// called once: with nil after the frame is written, or with the reason it
// was not.
func (s *Session) SendAsync(text string, done func(error)) {
	err := s.enqueue(outbound{text: text, done: done})
	if err != nil {
		notify(done, err)
	}
}

func (s *Session) enqueue(msg outbound) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close stops accepting frames, waits up to the close timeout for queued
// frames to flush, then closes the connection.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	timer := time.NewTimer(s.closeTimeout)
	defer timer.Stop()
	select {
	case <-s.writerDone:
	case <-timer.C:
		s.logger.Warn("closing session with unflushed frames")
	}
	return s.conn.Close()
}

func (s *Session) writeLoop() {
	defer close(s.writerDone)
	for msg := range s.queue {
		notify(msg.done, s.write(msg.text))
	}
}

func (s *Session) write(text string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if err := websocket.Message.Send(s.conn, text); err != nil {
		s.logger.Debug("frame write failed", zap.Error(err))
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

func notify(done func(error), err error) {
	if done != nil {
		done(err)
	}
}
