// Package ws is the websocket transport behind every venue adapter.
package ws

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"booksync/internal/adapter"
	"booksync/logger"

	"github.com/gorilla/websocket"
)

// Compression names the application-level frame encoding of a venue.
type Compression string

const (
	CompressionNone    Compression = ""
	CompressionGzip    Compression = "gzip"
	CompressionDeflate Compression = "deflate"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	writeTimeout            = 5 * time.Second
)

type Config struct {
	Name string
	URL  string
	// Subscribe payloads are written in order right after the dial.
	Subscribe [][]byte
	// LocalIP binds the dial to a source address when set.
	LocalIP string
	// PingInterval enables keepalives: PingPayload as a text frame, or a
	// websocket ping when the payload is empty.
	PingInterval     time.Duration
	PingPayload      []byte
	Compression      Compression
	HandshakeTimeout time.Duration
}

// Conn is a reusable websocket adapter. Each Connect starts one connection
// that lives until the server closes it or Disconnect is called.
type Conn struct {
	config  Config
	log     *logger.Entry
	mu      sync.Mutex
	writeMu sync.Mutex
	wg      sync.WaitGroup
	conn    *websocket.Conn
	done    chan struct{}
	running bool
}

func New(cfg Config) *Conn {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	return &Conn{
		config: cfg,
		log: logger.GetLogger().WithComponent("ws_transport").WithFields(logger.Fields{
			"stream": cfg.Name,
			"url":    cfg.URL,
		}),
	}
}

// Connect dials in the background and reports through h. Dial failures are
// delivered as OnError followed by OnClose.
func (c *Conn) Connect(h adapter.Handler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("websocket %s already connected", c.config.Name)
	}
	c.running = true
	c.done = make(chan struct{})

	c.wg.Add(1)
	go c.serve(h, c.done)
	return nil
}

// Disconnect closes the connection and waits for its goroutines. Safe to
// call repeatedly.
func (c *Conn) Disconnect() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.done)
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	c.wg.Wait()
	return err
}

func (c *Conn) Send(raw []byte) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return adapter.ErrClosed
	}
	return c.write(conn, websocket.TextMessage, raw)
}

func (c *Conn) write(conn *websocket.Conn, messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(messageType, data)
}

func (c *Conn) dialer() *websocket.Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.config.HandshakeTimeout,
	}
	if c.config.LocalIP != "" {
		if ip := net.ParseIP(c.config.LocalIP); ip != nil {
			dialer.NetDialContext = (&net.Dialer{LocalAddr: &net.TCPAddr{IP: ip}}).DialContext
		} else {
			c.log.WithField("local_ip", c.config.LocalIP).Warn("invalid local ip, using default route")
		}
	}
	return dialer
}

func closed(done chan struct{}) bool {
	select {
	case <-done:
		return true
	default:
		return false
	}
}

func (c *Conn) serve(h adapter.Handler, done chan struct{}) {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-done:
			cancel()
		case <-ctx.Done():
		}
	}()

	conn, resp, err := c.dialer().DialContext(ctx, c.config.URL, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if closed(done) {
			return
		}
		c.log.WithError(err).Warn("failed to connect websocket")
		h.OnError(adapter.HandshakeError(err, resp))
		h.OnClose()
		return
	}

	c.mu.Lock()
	if closed(done) {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	for _, sub := range c.config.Subscribe {
		if err := c.write(conn, websocket.TextMessage, sub); err != nil {
			if closed(done) {
				return
			}
			c.log.WithError(err).Warn("failed to subscribe")
			conn.Close()
			h.OnClose()
			return
		}
	}
	c.log.Info("websocket connected")
	h.OnOpen()

	if c.config.PingInterval > 0 {
		c.wg.Add(1)
		go c.ping(conn, done)
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if closed(done) {
				return
			}
			c.log.WithError(err).Warn("websocket read error")
			conn.Close()
			h.OnClose()
			return
		}
		data, err := inflate(c.config.Compression, msg)
		if err != nil {
			c.log.WithError(err).Warn("failed to decompress frame")
			continue
		}
		h.OnMessage(data)
	}
}

func (c *Conn) ping(conn *websocket.Conn, done chan struct{}) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			var err error
			if len(c.config.PingPayload) > 0 {
				err = c.write(conn, websocket.TextMessage, c.config.PingPayload)
			} else {
				c.writeMu.Lock()
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout))
				c.writeMu.Unlock()
			}
			if err != nil {
				c.log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}

func inflate(compression Compression, msg []byte) ([]byte, error) {
	switch compression {
	case CompressionGzip:
		r, err := gzip.NewReader(bytes.NewReader(msg))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case CompressionDeflate:
		r := flate.NewReader(bytes.NewReader(msg))
		defer r.Close()
		return io.ReadAll(r)
	default:
		return msg, nil
	}
}
