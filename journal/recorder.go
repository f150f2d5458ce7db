package journal

import (
	"go.uber.org/zap"

	"github.com/rustyeddy/simex/engine"
	"github.com/rustyeddy/simex/internal/logging"
)

// Attach wires a journal to a live engine: every completed bracket becomes a
// trade record and every bar advance an equity snapshot. Returns a disposer
// that detaches both subscriptions.
func Attach(e *engine.Engine, j Journal, runID string, log *zap.Logger) func() {
	log = logging.Or(log)

	offTrades := e.Subscribe(engine.EventBracketCompleted, func(ev engine.Event) {
		b := ev.Payload.(engine.BracketPayload).Bracket
		rec := TradeRecord{
			RunID:      runID,
			TradeID:    b.EntryID,
			BracketID:  b.ID,
			Side:       b.Cfg.Side.String(),
			Size:       b.ExitFillQty,
			EntryPrice: b.EntryFillPrice,
			ExitPrice:  b.ExitFillPrice,
			OpenTime:   b.CreatedAt,
			CloseTime:  b.CompletedAt,
			RealizedPL: b.RealizedPnL,
			Reason:     b.ExitReason.String(),
		}
		if err := j.RecordTrade(rec); err != nil {
			log.Warn("journal trade write failed",
				zap.String("bracket_id", b.ID), zap.Error(err))
		}
	})

	lastCursor := -1
	offState := e.OnStateChange(func(s engine.State) {
		if s.Cursor == 0 || s.Cursor <= lastCursor || s.Cursor > len(s.Bars) {
			return
		}
		lastCursor = s.Cursor
		bar := s.Bars[s.Cursor-1]
		if err := j.RecordEquity(EquitySnapshot{
			RunID:   runID,
			Time:    bar.Time,
			Balance: s.Balance,
			Equity:  s.Equity(bar.Close),
		}); err != nil {
			log.Warn("journal equity write failed", zap.Error(err))
		}
	})

	return func() {
		offTrades()
		offState()
	}
}

var _ Journal = (*SQLiteJournal)(nil)
var _ Journal = (*CSVJournal)(nil)
