package handler

import (
	"go.uber.org/zap"

	"github.com/xenking/catalog-ingest/internal/domain/ingest"
)

// logObserver reports pipeline progress of a request to its logger.
type logObserver struct {
	lg *zap.Logger
}

func newLogObserver(lg *zap.Logger) logObserver {
	return logObserver{lg: lg}
}

func (o logObserver) Transition(from, to ingest.State) {
	o.lg.Debug("Ingest transition", zap.Stringer("from", from), zap.Stringer("to", to))
}

func (o logObserver) Done(out ingest.Outcome) {
	fields := []zap.Field{zap.Stringer("state", out.State)}
	if out.Record != nil {
		fields = append(fields, zap.String("record_id", out.Record.ID))
	}
	if out.Err != nil {
		fields = append(fields, zap.String("reason", ingest.Reason(out.Err)), zap.Error(out.Err))
	}
	if len(out.Orphans) > 0 {
		fields = append(fields, zap.Int("orphans", len(out.Orphans)))
	}
	o.lg.Info("Ingest finished", fields...)
}
