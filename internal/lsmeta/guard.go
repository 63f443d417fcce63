package lsmeta

import (
	"log/slog"
	"strings"
	"time"
)

// DefaultWarnThreshold is the guard hold time above which a warning is logged.
const DefaultWarnThreshold = 100 * time.Millisecond

type guardClick struct {
	mod     string
	elapsed time.Duration
}

// timeGuard holds the record mutex for one operation and measures how long.
type timeGuard struct {
	m      *Meta
	op     string
	start  time.Time
	last   time.Time
	clicks []guardClick
}

func (m *Meta) lock(op string) *timeGuard {
	m.mu.Lock()
	now := time.Now()
	return &timeGuard{m: m, op: op, start: now, last: now}
}

// click records a named checkpoint inside the critical section.
func (g *timeGuard) click(mod string) {
	now := time.Now()
	g.clicks = append(g.clicks, guardClick{mod: mod, elapsed: now.Sub(g.last)})
	g.last = now
}

// unlock releases the mutex, then reports the hold time.
func (g *timeGuard) unlock() {
	elapsed := time.Since(g.start)
	g.m.mu.Unlock()

	m := g.m
	m.metrics.ObserveGuardHold(g.op, elapsed)
	if m.warnThreshold <= 0 || elapsed <= m.warnThreshold {
		return
	}
	m.metrics.IncSlowSection(g.op)
	m.logger.Warn("ls meta critical section too slow",
		"op", g.op,
		"elapsed", elapsed,
		"threshold", m.warnThreshold,
		slog.String("clicks", g.formatClicks()),
	)
}

func (g *timeGuard) formatClicks() string {
	parts := make([]string, 0, len(g.clicks))
	for _, c := range g.clicks {
		parts = append(parts, c.mod+"="+c.elapsed.String())
	}
	return strings.Join(parts, ",")
}
