package config

import (
	"strings"
	"testing"
)

func TestEnsureDSNPrefersExplicitDSN(t *testing.T) {
	db := DBConfig{DSN: "postgres://app:secret@db:5432/fleetly"}
	if err := db.ensureDSN(); err != nil {
		t.Fatalf("ensureDSN: %v", err)
	}
	if db.DSN != "postgres://app:secret@db:5432/fleetly" {
		t.Fatalf("explicit DSN must be kept, got %s", db.DSN)
	}
}

func TestEnsureDSNAssemblesFromLegacyVars(t *testing.T) {
	db := DBConfig{
		LegacyHost:     "localhost",
		LegacyPort:     5432,
		LegacyUser:     "fleetly",
		LegacyPassword: "pw",
		LegacyName:     "fleetly_dev",
		LegacySSLMode:  "disable",
	}
	if err := db.ensureDSN(); err != nil {
		t.Fatalf("ensureDSN: %v", err)
	}
	for _, part := range []string{"postgres://", "fleetly:pw@localhost:5432", "/fleetly_dev", "sslmode=disable"} {
		if !strings.Contains(db.DSN, part) {
			t.Fatalf("assembled DSN missing %q: %s", part, db.DSN)
		}
	}
}

func TestEnsureDSNReportsMissingVars(t *testing.T) {
	db := DBConfig{LegacyHost: "localhost"}
	err := db.ensureDSN()
	if err == nil {
		t.Fatal("expected error when legacy vars incomplete")
	}
	if !strings.Contains(err.Error(), EnvDBUser) || !strings.Contains(err.Error(), EnvDBName) {
		t.Fatalf("error should name missing vars, got %v", err)
	}
}

func TestStripeEnvironmentNormalized(t *testing.T) {
	if (StripeConfig{Env: " TEST "}).Environment() != "test" {
		t.Fatal("environment should be trimmed and lowercased")
	}
	if (StripeConfig{}).Environment() != "test" {
		t.Fatal("empty environment should default to test")
	}
}

func TestAppEnvHelpers(t *testing.T) {
	if !(AppConfig{Env: "Dev"}).IsDev() {
		t.Fatal("IsDev should be case-insensitive")
	}
	if !(AppConfig{Env: "PROD"}).IsProd() {
		t.Fatal("IsProd should be case-insensitive")
	}
}
