package journal

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"
)

// CSVJournal writes runs, trades and equity to three flat files, flushing
// after every record so partial runs are still inspectable.
type CSVJournal struct {
	runs, trades, equity *csv.Writer
	rf, tf, ef           *os.File
}

func NewCSV(runsPath, tradesPath, equityPath string) (*CSVJournal, error) {
	rf, err := os.Create(runsPath)
	if err != nil {
		return nil, err
	}
	tf, err := os.Create(tradesPath)
	if err != nil {
		rf.Close()
		return nil, err
	}
	ef, err := os.Create(equityPath)
	if err != nil {
		rf.Close()
		tf.Close()
		return nil, err
	}

	j := &CSVJournal{
		runs:   csv.NewWriter(rf),
		trades: csv.NewWriter(tf),
		equity: csv.NewWriter(ef),
		rf:     rf, tf: tf, ef: ef,
	}

	j.runs.Write([]string{"run_id", "strategy", "params", "started_at", "finished_at",
		"initial_balance", "final_balance", "total_return", "max_drawdown", "sharpe_ratio", "trades"})
	j.trades.Write([]string{"trade_id", "run_id", "bracket_id", "side", "size",
		"entry_price", "exit_price", "open_time", "close_time", "realized_pl", "reason"})
	j.equity.Write([]string{"run_id", "time", "balance", "equity"})

	if err := j.flush(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *CSVJournal) RecordRun(r RunRecord) error {
	j.runs.Write([]string{
		r.RunID, r.Strategy, r.Params,
		r.StartedAt.Format(time.RFC3339), r.FinishedAt.Format(time.RFC3339),
		f(r.InitialBalance), f(r.FinalBalance), f(r.TotalReturn),
		f(r.MaxDrawdown), f(r.SharpeRatio), strconv.Itoa(r.Trades),
	})
	return j.flush()
}

func (j *CSVJournal) RecordTrade(t TradeRecord) error {
	j.trades.Write([]string{
		t.TradeID, t.RunID, t.BracketID, t.Side, f(t.Size),
		f(t.EntryPrice), f(t.ExitPrice),
		t.OpenTime.Format(time.RFC3339), t.CloseTime.Format(time.RFC3339),
		f(t.RealizedPL), t.Reason,
	})
	return j.flush()
}

func (j *CSVJournal) RecordEquity(e EquitySnapshot) error {
	j.equity.Write([]string{
		e.RunID, e.Time.Format(time.RFC3339), f(e.Balance), f(e.Equity),
	})
	return j.flush()
}

func (j *CSVJournal) flush() error {
	for _, w := range []*csv.Writer{j.runs, j.trades, j.equity} {
		w.Flush()
		if err := w.Error(); err != nil {
			return err
		}
	}
	return nil
}

func (j *CSVJournal) Close() error {
	if err := j.flush(); err != nil {
		return err
	}
	for _, fd := range []*os.File{j.rf, j.tf, j.ef} {
		if err := fd.Close(); err != nil {
			return err
		}
	}
	return nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 6, 64)
}
