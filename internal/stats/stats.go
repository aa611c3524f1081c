// Package stats holds the process-wide counter bundle shared by every
// connection handler: connection and request counts, transferred bytes,
// and auth attempts, all updated with per-field atomics so the stats
// endpoint can read them without blocking handlers.
package stats

import (
	"fmt"
	"html"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Sink is the shared, concurrency-safe counter bundle. The zero value
// (via New) is ready to use; all mutation is through atomic adds so
// concurrent handlers never need a lock, and the stats-response path
// takes a consistent-enough snapshot by reading each field once.
type Sink struct {
	connectionsOpened int64
	connectionsClosed int64
	activeConnections int64
	peakConnections   int64

	requestsProcessed int64
	requestsDenied    int64
	requestsFailed    int64
	requestsFiltered  int64

	bytesTransferred int64

	authAttempts int64
	authFailures int64

	startTime time.Time
}

// New creates a Sink with its start time set to now.
func New() *Sink {
	return &Sink{startTime: time.Now()}
}

// ConnectionOpened records a newly accepted connection and updates the
// active/peak counters.
func (s *Sink) ConnectionOpened() {
	atomic.AddInt64(&s.connectionsOpened, 1)
	active := atomic.AddInt64(&s.activeConnections, 1)
	for {
		peak := atomic.LoadInt64(&s.peakConnections)
		if active <= peak {
			return
		}
		if atomic.CompareAndSwapInt64(&s.peakConnections, peak, active) {
			return
		}
	}
}

// ConnectionClosed records a connection handler's exit.
func (s *Sink) ConnectionClosed() {
	atomic.AddInt64(&s.connectionsClosed, 1)
	atomic.AddInt64(&s.activeConnections, -1)
}

// RequestProcessed increments requests_processed.
func (s *Sink) RequestProcessed() { atomic.AddInt64(&s.requestsProcessed, 1) }

// RequestDenied increments requests_denied (ACL/auth denial).
func (s *Sink) RequestDenied() { atomic.AddInt64(&s.requestsDenied, 1) }

// RequestFailed increments requests_failed (parse/IO/timeout failure).
func (s *Sink) RequestFailed() { atomic.AddInt64(&s.requestsFailed, 1) }

// RequestFiltered increments requests_filtered (filter-engine block).
func (s *Sink) RequestFiltered() { atomic.AddInt64(&s.requestsFiltered, 1) }

// BytesTransferred adds n to the running byte total.
func (s *Sink) BytesTransferred(n int64) { atomic.AddInt64(&s.bytesTransferred, n) }

// AuthAttempt records one authentication attempt, and a failure if ok is
// false.
func (s *Sink) AuthAttempt(ok bool) {
	atomic.AddInt64(&s.authAttempts, 1)
	if !ok {
		atomic.AddInt64(&s.authFailures, 1)
	}
}

// Snapshot is a point-in-time, read-only copy of the counters plus their
// derived values (peak connections, uptime, success rates) — the
// supplemented fields original_source/src/stats.rs computed on demand.
type Snapshot struct {
	ConnectionsOpened int64
	ConnectionsClosed int64
	ActiveConnections int64
	PeakConnections   int64

	RequestsProcessed int64
	RequestsDenied    int64
	RequestsFailed    int64
	RequestsFiltered  int64

	BytesTransferred int64

	AuthAttempts int64
	AuthFailures int64

	StartTime time.Time
	Uptime    time.Duration
}

// SuccessRate returns the percentage of processed-vs-failed requests that
// succeeded, or 0 if none were attempted.
func (snap Snapshot) SuccessRate() float64 {
	total := snap.RequestsProcessed + snap.RequestsFailed
	if total == 0 {
		return 0
	}
	return float64(snap.RequestsProcessed) / float64(total) * 100
}

// AuthSuccessRate returns the percentage of authentication attempts that
// succeeded, or 0 if none were attempted.
func (snap Snapshot) AuthSuccessRate() float64 {
	if snap.AuthAttempts == 0 {
		return 0
	}
	successes := snap.AuthAttempts - snap.AuthFailures
	return float64(successes) / float64(snap.AuthAttempts) * 100
}

// Snapshot takes a consistent-enough read of every counter. Individual
// field reads may interleave with concurrent writers (mild skew, as
// spec.md's design notes accept), but each field itself is read
// atomically.
func (s *Sink) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsOpened: atomic.LoadInt64(&s.connectionsOpened),
		ConnectionsClosed: atomic.LoadInt64(&s.connectionsClosed),
		ActiveConnections: atomic.LoadInt64(&s.activeConnections),
		PeakConnections:   atomic.LoadInt64(&s.peakConnections),

		RequestsProcessed: atomic.LoadInt64(&s.requestsProcessed),
		RequestsDenied:    atomic.LoadInt64(&s.requestsDenied),
		RequestsFailed:    atomic.LoadInt64(&s.requestsFailed),
		RequestsFiltered:  atomic.LoadInt64(&s.requestsFiltered),

		BytesTransferred: atomic.LoadInt64(&s.bytesTransferred),

		AuthAttempts: atomic.LoadInt64(&s.authAttempts),
		AuthFailures: atomic.LoadInt64(&s.authFailures),

		StartTime: s.startTime,
		Uptime:    time.Since(s.startTime),
	}
}

const htmlTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>tinygate statistics</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        table { border-collapse: collapse; width: 100%%; }
        th, td { border: 1px solid #ddd; padding: 12px; text-align: left; }
        th { background-color: #f2f2f2; }
        .section { margin-bottom: 30px; }
        .value { font-weight: bold; color: #2c3e50; }
    </style>
</head>
<body>
    <h1>tinygate statistics</h1>

    <div class="section">
        <h2>Server</h2>
        <div>Start time: <span class="value">%s</span></div>
        <div>Uptime: <span class="value">%s</span></div>
    </div>

    <div class="section">
        <h2>Connections</h2>
        <table>
            <tr><th>Metric</th><th>Value</th></tr>
            <tr><td>Active</td><td class="value">%d</td></tr>
            <tr><td>Opened</td><td class="value">%d</td></tr>
            <tr><td>Closed</td><td class="value">%d</td></tr>
            <tr><td>Peak</td><td class="value">%d</td></tr>
        </table>
    </div>

    <div class="section">
        <h2>Requests</h2>
        <table>
            <tr><th>Metric</th><th>Value</th></tr>
            <tr><td>Processed</td><td class="value">%d</td></tr>
            <tr><td>Denied</td><td class="value">%d</td></tr>
            <tr><td>Failed</td><td class="value">%d</td></tr>
            <tr><td>Filtered</td><td class="value">%d</td></tr>
            <tr><td>Success rate</td><td class="value">%.1f%%</td></tr>
        </table>
    </div>

    <div class="section">
        <h2>Data transfer</h2>
        <table>
            <tr><th>Metric</th><th>Value</th></tr>
            <tr><td>Bytes transferred</td><td class="value">%s</td></tr>
        </table>
    </div>

    <div class="section">
        <h2>Authentication</h2>
        <table>
            <tr><th>Metric</th><th>Value</th></tr>
            <tr><td>Attempts</td><td class="value">%d</td></tr>
            <tr><td>Failures</td><td class="value">%d</td></tr>
            <tr><td>Success rate</td><td class="value">%.1f%%</td></tr>
        </table>
    </div>
</body>
</html>`

// RenderHTML renders the stat-host response page. Byte and duration
// formatting is delegated to go-humanize (IBytes, RelTime) rather than the
// hand-rolled formatters of the original implementation.
func (s *Sink) RenderHTML() string {
	snap := s.Snapshot()
	uptime := humanize.RelTime(snap.StartTime, time.Now(), "", "")

	return fmt.Sprintf(htmlTemplate,
		html.EscapeString(snap.StartTime.Format("2006-01-02 15:04:05 MST")),
		html.EscapeString(uptime),
		snap.ActiveConnections,
		snap.ConnectionsOpened,
		snap.ConnectionsClosed,
		snap.PeakConnections,
		snap.RequestsProcessed,
		snap.RequestsDenied,
		snap.RequestsFailed,
		snap.RequestsFiltered,
		snap.SuccessRate(),
		humanize.IBytes(uint64(snap.BytesTransferred)),
		snap.AuthAttempts,
		snap.AuthFailures,
		snap.AuthSuccessRate(),
	)
}
