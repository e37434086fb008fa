package journal

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readCSV(t *testing.T, path string) [][]string {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()

	recs, err := csv.NewReader(fh).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestCSVJournalHeaders(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	equityPath := filepath.Join(dir, "equity.csv")
	actionsPath := filepath.Join(dir, "actions.csv")

	j, err := NewCSV(equityPath, actionsPath)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	assert.Equal(t, [][]string{equityHeader}, readCSV(t, equityPath))
	assert.Equal(t, [][]string{actionHeader}, readCSV(t, actionsPath))
}

func TestCSVJournalRecords(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	equityPath := filepath.Join(dir, "equity.csv")
	actionsPath := filepath.Join(dir, "actions.csv")

	j, err := NewCSV(equityPath, actionsPath)
	require.NoError(t, err)

	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, j.RecordEquity(EquityRecord{
		ChallengeID:   "C1",
		Time:          at,
		Balance:       9893.333,
		Equity:        9835,
		RealizedPnL:   -106.67,
		UnrealizedPnL: -58.33,
		DangerLevel:   16.5,
		Status:        "active",
	}))
	require.NoError(t, j.RecordAction(ActionRecord{
		ChallengeID:     "C1",
		Time:            at,
		Action:          "FORCE_CLOSE_AND_FAIL",
		Reason:          "DAILY_LOSS_EXCEEDED",
		ClosedPositions: 2,
		Equity:          9400,
	}))
	require.NoError(t, j.Close())

	eq := readCSV(t, equityPath)
	require.Len(t, eq, 2)
	assert.Equal(t, []string{"C1", "2024-01-02T03:04:05Z", "9893.33", "9835.00", "-106.67", "-58.33", "16.50", "active"}, eq[1])

	acts := readCSV(t, actionsPath)
	require.Len(t, acts, 2)
	assert.Equal(t, []string{"C1", "2024-01-02T03:04:05Z", "FORCE_CLOSE_AND_FAIL", "DAILY_LOSS_EXCEEDED", "2", "9400.00"}, acts[1])
}

func TestCSVJournalAppendsOnReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	equityPath := filepath.Join(dir, "equity.csv")
	actionsPath := filepath.Join(dir, "actions.csv")

	for i := 0; i < 2; i++ {
		j, err := NewCSV(equityPath, actionsPath)
		require.NoError(t, err)
		require.NoError(t, j.RecordEquity(EquityRecord{ChallengeID: "C1", Time: time.Unix(int64(i), 0), Equity: 10000}))
		require.NoError(t, j.Close())
	}

	eq := readCSV(t, equityPath)
	require.Len(t, eq, 3, "one header and two rows")
	assert.Equal(t, equityHeader, eq[0])
}

func TestCSVJournalBadPath(t *testing.T) {
	t.Parallel()

	_, err := NewCSV(filepath.Join(t.TempDir(), "missing", "equity.csv"), "actions.csv")
	assert.Error(t, err)
}

func TestNopJournal(t *testing.T) {
	t.Parallel()

	var j Journal = Nop{}
	assert.NoError(t, j.RecordEquity(EquityRecord{}))
	assert.NoError(t, j.RecordAction(ActionRecord{}))
	assert.NoError(t, j.Close())
}
