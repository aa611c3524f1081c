// Package pump implements the bidirectional byte relay used by CONNECT
// tunnels and one-shot HTTP forwarding: two independent copy loops, one
// per direction, each with its own 8 KiB buffer, running until either
// side reaches EOF or an error.
package pump

import (
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xdg/tinygate/internal/clog"
	"github.com/xdg/tinygate/internal/proxyerr"
)

// bufferSize matches the spec's fixed 8 KiB per-direction buffer.
const bufferSize = 8192

// Copy relays bytes in both directions between (a, b) until both
// directions have terminated: a->b and b->a run concurrently, each ending
// independently on EOF (read returns 0) or error. A read error is logged
// and treated as end-of-stream for that direction, not a failure. A write
// error is returned as a *proxyerr.Error of kind IO.
//
// idleTimeout, if nonzero, sets the source's read deadline before every
// read and the destination's write deadline before every write, per
// direction. A direction whose source sees no data within the window ends
// as if it had reached EOF, whatever the traffic in the other direction.
// Pass 0 for no idle timeout.
//
// The returned byte count is the sum of bytes successfully copied in both
// directions.
func Copy(a, b net.Conn, idleTimeout time.Duration) (int64, error) {
	var total int64
	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup

	record := func(err error) {
		if err == nil {
			return
		}
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		n, err := copyDirection(b, a, idleTimeout)
		atomic.AddInt64(&total, n)
		record(err)
		halfClose(b)
	}()
	go func() {
		defer wg.Done()
		n, err := copyDirection(a, b, idleTimeout)
		atomic.AddInt64(&total, n)
		record(err)
		halfClose(a)
	}()
	wg.Wait()

	return atomic.LoadInt64(&total), firstErr
}

// copyDirection copies from src to dst until EOF, a read error (logged,
// treated as end-of-stream), or a write error (returned as IO).
func copyDirection(dst io.Writer, src net.Conn, idleTimeout time.Duration) (int64, error) {
	buf := make([]byte, bufferSize)
	var total int64

	for {
		if idleTimeout > 0 {
			if err := src.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
				clog.Warn("pump: failed to set read deadline: %v", err)
			}
		}

		n, err := src.Read(buf)
		if n > 0 {
			if w, ok := dst.(net.Conn); ok && idleTimeout > 0 {
				if derr := w.SetWriteDeadline(time.Now().Add(idleTimeout)); derr != nil {
					clog.Warn("pump: failed to set write deadline: %v", derr)
				}
			}
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return total, proxyerr.Wrap(proxyerr.IO, werr, "pump write failed")
			}
			total += int64(n)
		}
		if err != nil {
			if err != io.EOF {
				clog.Debug("pump: read ended: %v", err)
			}
			return total, nil
		}
	}
}

// halfClose closes the write side of conn if it supports it, signalling
// EOF to the peer without tearing down the read side, so the other
// direction's final bytes can still be delivered.
func halfClose(conn net.Conn) {
	type writeCloser interface {
		CloseWrite() error
	}
	if wc, ok := conn.(writeCloser); ok {
		if err := wc.CloseWrite(); err != nil {
			clog.Warn("pump: close-write failed: %v", err)
		}
		return
	}
	_ = conn.Close()
}
