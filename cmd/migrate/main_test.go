package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRunOfflineCreateRequiresName(t *testing.T) {
	handled, err := runOffline(options{cmd: "create", dir: t.TempDir()})
	if !handled {
		t.Fatal("expected create to run offline")
	}
	if err == nil {
		t.Fatal("expected error without -name")
	}
}

func TestRunOfflineCreateWritesFile(t *testing.T) {
	dir := t.TempDir()
	handled, err := runOffline(options{cmd: "create", dir: dir, name: "add payment index"})
	if !handled || err != nil {
		t.Fatalf("create: handled=%v err=%v", handled, err)
	}
	matches, _ := filepath.Glob(filepath.Join(dir, "*_add_payment_index.sql"))
	if len(matches) != 1 {
		t.Fatalf("expected one migration file, got %v", matches)
	}
}

func TestRunOfflineValidate(t *testing.T) {
	dir := t.TempDir()
	body := "-- +goose Up\nSELECT 1;\n-- +goose Down\nSELECT 1;\n"
	if err := os.WriteFile(filepath.Join(dir, "20261001120000_init.sql"), []byte(body), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if handled, err := runOffline(options{cmd: "validate", dir: dir}); !handled || err != nil {
		t.Fatalf("validate: handled=%v err=%v", handled, err)
	}
}

func TestDatabaseCommandsAreNotOffline(t *testing.T) {
	for name := range dbCommands {
		if handled, _ := runOffline(options{cmd: name}); handled {
			t.Fatalf("%s must not run offline", name)
		}
	}
	if _, ok := dbCommands["create"]; ok {
		t.Fatal("create is an offline command")
	}
}
