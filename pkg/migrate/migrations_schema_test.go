package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fleetlyhq/fleetly-backend/pkg/migrate"
)

func TestMigrationsDirValidates(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations dir: %v", err)
	}
}

func TestInitSchemaContainsLedgerConstraints(t *testing.T) {
	matches, err := filepath.Glob(filepath.Join("migrations", "*_init_schema.sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no init schema migration file found")
	}

	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	content := string(data)

	checks := []string{
		"CONSTRAINT idx_payments_order_leg UNIQUE (order_id, leg)",
		"CONSTRAINT idx_wallet_tx_reference UNIQUE (wallet_id, reference)",
		"stripe_payment_intent_id TEXT UNIQUE",
		"CHECK (balance_cents >= 0)",
		"CHECK (rating BETWEEN 1 AND 5)",
		"DROP TABLE IF EXISTS wallet_transactions",
	}

	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}
