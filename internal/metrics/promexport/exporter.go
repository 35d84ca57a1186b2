// Package promexport renders the internal counter set in Prometheus text
// exposition format. It never registers with a global registry; callers
// mount the Handler where they want it scraped.
package promexport

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/coverbridge/auth-service/internal/metrics"
)

// Source is what the exporter reads on every scrape. The audit-dropped
// count rides along so backpressure loss is visible without a counter slot.
type Source interface {
	TakeSnapshot() metrics.Snapshot
	AuditDropped() uint64
}

// Exporter renders one Source. The zero value and a nil Source both render
// empty output.
type Exporter struct {
	source Source
}

func New(source Source) *Exporter {
	return &Exporter{source: source}
}

// Handler serves the current counters as a scrape response.
func (e *Exporter) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = w.Write([]byte(e.Render()))
	})
}

// Render writes every counter in definition order, then the audit-dropped
// line, in Prometheus text exposition format. Disabled metrics render as
// an empty document so scrapes stay cheap and obviously off.
func (e *Exporter) Render() string {
	if e == nil || e.source == nil {
		return ""
	}

	snapshot := e.source.TakeSnapshot()
	dropped := e.source.AuditDropped()
	if len(snapshot.Counters) == 0 && dropped == 0 {
		return ""
	}

	var b strings.Builder
	b.Grow(8192)

	for _, def := range metrics.Defs() {
		writeCounter(&b, def.Name, def.Help, snapshot.Counters[def.ID])
	}
	writeCounter(&b, "auth_audit_dropped_total", "Audit events dropped by emitter backpressure.", dropped)

	return b.String()
}

func writeCounter(b *strings.Builder, name, help string, value uint64) {
	b.WriteString("# HELP ")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(escapeHelp(help))
	b.WriteByte('\n')
	b.WriteString("# TYPE ")
	b.WriteString(name)
	b.WriteString(" counter\n")
	b.WriteString(name)
	b.WriteByte(' ')
	b.WriteString(strconv.FormatUint(value, 10))
	b.WriteByte('\n')
}

func escapeHelp(help string) string {
	help = strings.ReplaceAll(help, "\\", "\\\\")
	help = strings.ReplaceAll(help, "\n", "\\n")
	return help
}
