// Package sink holds summary sinks that do not need a backing store.
package sink

import (
	"log/slog"

	"github.com/V4T54L/killwatch/internal/domain"
)

// Fanout hands every summary to each of its sinks in order.
type Fanout struct {
	sinks []domain.SummarySink
}

// NewFanout combines sinks. Nil sinks are ignored.
func NewFanout(sinks ...domain.SummarySink) *Fanout {
	f := &Fanout{}
	for _, s := range sinks {
		if s != nil {
			f.sinks = append(f.sinks, s)
		}
	}
	return f
}

func (f *Fanout) Accept(summary domain.KillSummary) {
	for _, s := range f.sinks {
		s.Accept(summary)
	}
}

// Len is the number of attached sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// LogSink writes one structured log line per summary.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With("component", "log_sink")}
}

func (s *LogSink) Accept(summary domain.KillSummary) {
	attrs := []any{
		"event_id", summary.EventID,
		"provider", summary.Provider,
		"system", summary.SystemName,
		"ship", summary.Display.ShipName,
		"standing", summary.Display.Standing,
		"attackers", len(summary.Attackers),
		"url", summary.Display.URL,
	}
	if summary.Victim != nil && summary.Victim.Name != "" {
		attrs = append(attrs, "victim", summary.Victim.Name)
	}
	if summary.Display.CorporationTicker != "" {
		attrs = append(attrs, "corp", summary.Display.CorporationTicker)
	}
	if summary.Display.AllianceTicker != "" {
		attrs = append(attrs, "alliance", summary.Display.AllianceTicker)
	}
	s.logger.Info("kill", attrs...)
}
