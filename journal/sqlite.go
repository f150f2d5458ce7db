package journal

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
)

type SQLiteJournal struct {
	db *sql.DB
}

func NewSQLite(path string) (*SQLiteJournal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteJournal{db: db}, nil
}

func (j *SQLiteJournal) RecordRun(r RunRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO runs
		(run_id, strategy, params, started_at, finished_at,
		 initial_balance, final_balance, total_return, max_drawdown, sharpe_ratio, trades)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Strategy, r.Params, r.StartedAt, r.FinishedAt,
		r.InitialBalance, r.FinalBalance, r.TotalReturn, r.MaxDrawdown, r.SharpeRatio, r.Trades,
	)
	return err
}

func (j *SQLiteJournal) RecordTrade(t TradeRecord) error {
	_, err := j.db.Exec(`
		INSERT INTO trades
		(trade_id, run_id, bracket_id, side, size, entry_price, exit_price,
		 open_time, close_time, realized_pl, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TradeID, t.RunID, t.BracketID, t.Side, t.Size, t.EntryPrice, t.ExitPrice,
		t.OpenTime, t.CloseTime, t.RealizedPL, t.Reason,
	)
	return err
}

func (j *SQLiteJournal) RecordEquity(e EquitySnapshot) error {
	_, err := j.db.Exec(`
		INSERT INTO equity (run_id, time, balance, equity)
		VALUES (?, ?, ?, ?)`,
		e.RunID, e.Time, e.Balance, e.Equity,
	)
	return err
}

// TradesByRun returns a run's trades ordered by close time.
func (j *SQLiteJournal) TradesByRun(runID string) ([]TradeRecord, error) {
	rows, err := j.db.Query(`
		SELECT trade_id, run_id, bracket_id, side, size, entry_price, exit_price,
		       open_time, close_time, realized_pl, reason
		FROM trades WHERE run_id = ? ORDER BY close_time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.TradeID, &t.RunID, &t.BracketID, &t.Side, &t.Size,
			&t.EntryPrice, &t.ExitPrice, &t.OpenTime, &t.CloseTime, &t.RealizedPL, &t.Reason); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// EquityByRun returns a run's equity curve in time order.
func (j *SQLiteJournal) EquityByRun(runID string) ([]EquitySnapshot, error) {
	rows, err := j.db.Query(`
		SELECT run_id, time, balance, equity
		FROM equity WHERE run_id = ? ORDER BY time`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EquitySnapshot
	for rows.Next() {
		var e EquitySnapshot
		if err := rows.Scan(&e.RunID, &e.Time, &e.Balance, &e.Equity); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Run returns one run summary.
func (j *SQLiteJournal) Run(runID string) (RunRecord, error) {
	var r RunRecord
	err := j.db.QueryRow(`
		SELECT run_id, strategy, params, started_at, finished_at,
		       initial_balance, final_balance, total_return, max_drawdown, sharpe_ratio, trades
		FROM runs WHERE run_id = ?`, runID).
		Scan(&r.RunID, &r.Strategy, &r.Params, &r.StartedAt, &r.FinishedAt,
			&r.InitialBalance, &r.FinalBalance, &r.TotalReturn, &r.MaxDrawdown, &r.SharpeRatio, &r.Trades)
	return r, err
}

func (j *SQLiteJournal) Close() error {
	return j.db.Close()
}
