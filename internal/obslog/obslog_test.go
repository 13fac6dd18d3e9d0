package obslog

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWarnfWritesJSONLineAndMirrors(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer
	l := New(filepath.Join(dir, "dcat.log"), WithMirror(&mirror))
	l.useColor = false

	l.Warnf("tail line at %d was torn", 42)

	if !strings.Contains(mirror.String(), "tail line at 42 was torn") {
		t.Fatalf("mirror output = %q", mirror.String())
	}
	if !strings.Contains(mirror.String(), "[warn]") {
		t.Fatalf("expected warn tag in mirror output, got %q", mirror.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "dcat.log"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), `"level":"warn"`) || !strings.Contains(string(data), "tail line at 42 was torn") {
		t.Fatalf("log file = %q", data)
	}
}

func TestFieldedAttachesFields(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	l := New(filepath.Join(dir, "dcat.log"))
	l.file = &buf
	l.mirror = nil

	f := l.WithFields(map[string]any{"project": "dc"})
	f.Errorf("compaction failed")

	var rec line
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatal(err)
	}
	if rec.Level != LevelError || rec.Fields["project"] != "dc" {
		t.Fatalf("got %+v", rec)
	}
}

func TestDebugSuppressedWithoutColorMirror(t *testing.T) {
	dir := t.TempDir()
	var mirror bytes.Buffer
	l := New(filepath.Join(dir, "dcat.log"), WithMirror(&mirror))
	l.useColor = false

	l.Debugf("reload scanned %d lines", 10)

	if mirror.Len() != 0 {
		t.Fatalf("expected debug to be file-only without a color terminal, got %q", mirror.String())
	}
}
