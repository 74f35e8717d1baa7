package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAuditReferenceTable(t *testing.T) {
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"audit", "--reference", "--max-collisions", "2"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("audit: %v", err)
	}
	got := out.String()
	for _, want := range []string{
		"hyperperiod: 3000 ticks",
		"measure_frequency",
		"telemetry_send",
		"slot 1: read_digital wins over read_analog",
		"more",
	} {
		if !strings.Contains(got, want) {
			t.Fatalf("output missing %q:\n%s", want, got)
		}
	}
}

func TestAuditConfigTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cyclex.yaml")
	body := "executive:\n  tasks:\n    - {name: measure_frequency, period: 4, phase: 0}\n    - {name: read_digital, period: 2, phase: 0}\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"audit", "--config", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("audit: %v", err)
	}
	got := out.String()
	if !strings.Contains(got, "hyperperiod: 4 ticks") || !strings.Contains(got, "slot 0: measure_frequency wins over read_digital") {
		t.Fatalf("unexpected output:\n%s", got)
	}
}

func TestAuditMissingConfig(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"audit", "--config", filepath.Join(t.TempDir(), "nope.yaml")})
	err := cmd.Execute()
	if err == nil || !strings.Contains(err.Error(), "--reference") {
		t.Fatalf("err = %v", err)
	}
}
