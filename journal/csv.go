package journal

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"
)

var (
	equityHeader = []string{"challenge_id", "time", "balance", "equity", "realized_pnl", "unrealized_pnl", "danger_level", "status"}
	actionHeader = []string{"challenge_id", "time", "action", "reason", "closed_positions", "equity"}
)

// CSVJournal appends to a pair of CSV files. Existing files are extended,
// and the header is written only to an empty file.
type CSVJournal struct {
	mu      sync.Mutex
	equity  *csv.Writer
	actions *csv.Writer
	ef, af  *os.File
}

func NewCSV(equityPath, actionsPath string) (*CSVJournal, error) {
	ef, ew, err := openCSV(equityPath, equityHeader)
	if err != nil {
		return nil, err
	}
	af, aw, err := openCSV(actionsPath, actionHeader)
	if err != nil {
		ef.Close()
		return nil, err
	}
	return &CSVJournal{equity: ew, actions: aw, ef: ef, af: af}, nil
}

func openCSV(path string, header []string) (*os.File, *csv.Writer, error) {
	fh, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	st, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, nil, err
	}

	w := csv.NewWriter(fh)
	if st.Size() == 0 {
		if err := w.Write(header); err != nil {
			fh.Close()
			return nil, nil, err
		}
		w.Flush()
		if err := w.Error(); err != nil {
			fh.Close()
			return nil, nil, fmt.Errorf("write header %s: %w", path, err)
		}
	}
	return fh, w, nil
}

func (j *CSVJournal) RecordEquity(e EquityRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.equity.Write([]string{
		e.ChallengeID,
		e.Time.UTC().Format(time.RFC3339Nano),
		f(e.Balance),
		f(e.Equity),
		f(e.RealizedPnL),
		f(e.UnrealizedPnL),
		f(e.DangerLevel),
		e.Status,
	})
	if err != nil {
		return err
	}
	j.equity.Flush()
	return j.equity.Error()
}

func (j *CSVJournal) RecordAction(a ActionRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	err := j.actions.Write([]string{
		a.ChallengeID,
		a.Time.UTC().Format(time.RFC3339Nano),
		a.Action,
		a.Reason,
		strconv.Itoa(a.ClosedPositions),
		f(a.Equity),
	})
	if err != nil {
		return err
	}
	j.actions.Flush()
	return j.actions.Error()
}

func (j *CSVJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.equity.Flush()
	if err := j.equity.Error(); err != nil {
		return err
	}
	j.actions.Flush()
	if err := j.actions.Error(); err != nil {
		return err
	}

	if err := j.ef.Close(); err != nil {
		return err
	}
	if err := j.af.Close(); err != nil {
		return err
	}
	return nil
}

func f(x float64) string {
	return strconv.FormatFloat(x, 'f', 2, 64)
}
