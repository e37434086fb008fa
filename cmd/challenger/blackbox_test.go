//go:build blackbox

package main

import (
	"database/sql"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

var challengerBin string

func TestMain(m *testing.M) {
	tmp, err := os.MkdirTemp("", "challenger-blackbox-*")
	if err != nil {
		panic(err)
	}
	defer os.RemoveAll(tmp)

	challengerBin = filepath.Join(tmp, "challenger")

	// Build the binary once for all tests.
	cmd := exec.Command("go", "build", "-o", challengerBin, ".")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		panic(err)
	}

	os.Exit(m.Run())
}

// run executes the binary in dir, where the default config puts its
// databases.
func run(t *testing.T, dir string, args ...string) string {
	t.Helper()

	cmd := exec.Command(challengerBin, args...)
	cmd.Dir = dir
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("command failed: %v\nargs: %v\noutput:\n%s", err, args, string(out))
	}
	return string(out)
}

func TestTradeAndLiquidate(t *testing.T) {
	dir := t.TempDir()

	run(t, dir, "config", "init", "-o", "challenger.yaml")
	out := run(t, dir, "-c", "challenger.yaml", "challenge", "create", "--balance", "10000")
	m := regexp.MustCompile(`Challenge (\S+) opened`).FindStringSubmatch(out)
	if len(m) != 2 {
		t.Fatalf("no challenge id in output:\n%s", out)
	}
	id := m[1]

	run(t, dir, "-c", "challenger.yaml", "trade", id, "buy", "EUR_USD", "1000", "--price", "1.08")
	// selling far below the synthetic mark realizes a loss past the daily limit
	out = run(t, dir, "-c", "challenger.yaml", "trade", id, "sell", "EUR_USD", "1000", "--price", "0.5")
	if !strings.Contains(out, "failed") {
		t.Fatalf("expected the challenge to fail, got:\n%s", out)
	}

	out = run(t, dir, "-c", "challenger.yaml", "journal", "actions", id)
	if !strings.Contains(out, "FORCE_CLOSE") {
		t.Fatalf("expected a liquidation in the journal, got:\n%s", out)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "challenger.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM trades WHERE challenge_id = ?`, id).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Fatalf("expected 2 trades, got %d", n)
	}

	var status string
	if err := db.QueryRow(`SELECT status FROM challenges WHERE id = ?`, id).Scan(&status); err != nil {
		t.Fatal(err)
	}
	if status != "failed" {
		t.Fatalf("expected failed, got %q", status)
	}
}
