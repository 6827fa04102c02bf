// Package audit defines the external audit-log interface consumed by the
// Permission & Team Boundary Engine (spec §6.3) and a default
// structured-logging implementation. Emission errors are always swallowed
// by the Log implementation itself and never reach the caller, per the
// spec §7 propagation policy ("Audit log errors -> logged, swallowed").
package audit

import (
	"context"
	"log/slog"
	"time"
)

// Record describes a single audit event.
type Record struct {
	Who          string
	What         string
	When         time.Time
	ResourceType string
	ResourceID   string
	DetailsJSON  string
	IP           string
}

// Log is the narrow interface every permission mutation writes through.
// Implementations must never return an error to the caller; Record is a
// side effect only.
type Log interface {
	Record(ctx context.Context, rec Record)
}

// SlogLog logs audit records as structured slog events. It is the default
// Log implementation, grounded on the teacher's use of slog everywhere else
// in the codebase.
type SlogLog struct {
	logger *slog.Logger
}

// NewSlogLog builds a SlogLog writing through logger.
func NewSlogLog(logger *slog.Logger) *SlogLog {
	return &SlogLog{logger: logger}
}

func (l *SlogLog) Record(ctx context.Context, rec Record) {
	if rec.When.IsZero() {
		rec.When = time.Now()
	}
	l.logger.InfoContext(ctx, "audit",
		"who", rec.Who,
		"what", rec.What,
		"when", rec.When,
		"resource_type", rec.ResourceType,
		"resource_id", rec.ResourceID,
		"details", rec.DetailsJSON,
		"ip", rec.IP,
	)
}
