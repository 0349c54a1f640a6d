package main

import (
	"strings"
	"testing"
)

func TestDBCmd_Help(t *testing.T) {
	out, err := runCmd(t, "", "db", "--help")
	if err != nil {
		t.Fatalf("db --help failed: %v", err)
	}
	if !strings.Contains(out, "Database management") {
		t.Errorf("expected help to mention 'Database management', got: %s", out)
	}
	for _, sub := range []string{"init", "reset"} {
		if !strings.Contains(out, sub) {
			t.Errorf("expected help to list %q subcommand, got: %s", sub, out)
		}
	}
}

func TestDBInitCmd_Help(t *testing.T) {
	out, err := runCmd(t, "", "db", "init", "--help")
	if err != nil {
		t.Fatalf("db init --help failed: %v", err)
	}
	for _, want := range []string{"--config", "labchat.yaml", "--seed"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected help to contain %q, got: %s", want, out)
		}
	}
}

func TestDBInitCmd_MissingConfig(t *testing.T) {
	_, err := runCmd(t, "", "db", "init", "--config", "/nonexistent/labchat.yaml")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "load config") {
		t.Errorf("error = %q, want to contain %q", err.Error(), "load config")
	}
}

func TestDBInitCmd_InvalidConfig(t *testing.T) {
	path := writeTestConfig(t, "chat:\n  identity_match: sometimes\n")
	_, err := runCmd(t, "", "db", "init", "--config", path)
	if err == nil {
		t.Fatal("expected error for invalid config")
	}
	if !strings.Contains(err.Error(), "identity_match") {
		t.Errorf("error = %q, want to mention identity_match", err.Error())
	}
}

func TestDBInitCmd_SQLiteSeed(t *testing.T) {
	path := writeTestConfig(t, seedConfig)

	out, err := runCmd(t, "", "db", "init", "--config", path, "--seed")
	if err != nil {
		t.Fatalf("db init: %v\n%s", err, out)
	}
	for _, want := range []string{"Loaded config", "Migrated 2 tables", "Seeded 2 chats (0 already present)", "initialized successfully"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	out, err = runCmd(t, "", "db", "init", "--config", path, "--seed")
	if err != nil {
		t.Fatalf("db init (again): %v", err)
	}
	if !strings.Contains(out, "Seeded 0 chats (2 already present)") {
		t.Errorf("second init should not duplicate seeds:\n%s", out)
	}
}

func TestDBResetCmd_Aborts(t *testing.T) {
	path := writeTestConfig(t, seedConfig)
	if _, err := runCmd(t, "", "db", "init", "--config", path, "--seed"); err != nil {
		t.Fatalf("db init: %v", err)
	}

	out, err := runCmd(t, "no\n", "db", "reset", "--config", path)
	if err != nil {
		t.Fatalf("db reset: %v", err)
	}
	if !strings.Contains(out, "Aborted.") {
		t.Errorf("expected abort, got: %s", out)
	}

	out, err = runCmd(t, "", "chat", "list", "--config", path, "--scope", "clinic-1")
	if err != nil {
		t.Fatalf("chat list: %v", err)
	}
	if !strings.Contains(out, "Crown 36") {
		t.Errorf("aborted reset lost data:\n%s", out)
	}
}

func TestDBResetCmd_SQLite(t *testing.T) {
	path := writeTestConfig(t, seedConfig)
	if _, err := runCmd(t, "", "db", "init", "--config", path, "--seed"); err != nil {
		t.Fatalf("db init: %v", err)
	}

	out, err := runCmd(t, "yes\n", "db", "reset", "--config", path)
	if err != nil {
		t.Fatalf("db reset: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Dropped 2 tables") || !strings.Contains(out, "reset and re-initialized") {
		t.Errorf("unexpected output:\n%s", out)
	}

	out, err = runCmd(t, "", "chat", "list", "--config", path, "--scope", "clinic-1")
	if err != nil {
		t.Fatalf("chat list: %v", err)
	}
	if !strings.Contains(out, "No chats found.") {
		t.Errorf("chats survived reset:\n%s", out)
	}
}
