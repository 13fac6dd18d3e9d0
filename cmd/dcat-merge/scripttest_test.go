package main

import (
	"context"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"rsc.io/script"
	"rsc.io/script/scripttest"
)

func TestScripts(t *testing.T) {
	exeName := "dcat-merge"
	if runtime.GOOS == "windows" {
		exeName += ".exe"
	}
	exe := filepath.Join(t.TempDir(), exeName)
	if err := exec.Command("go", "build", "-o", exe, ".").Run(); err != nil {
		t.Fatal(err)
	}

	engine := script.NewEngine()
	engine.Cmds["dcat-merge"] = script.Program(exe, nil, 2*time.Second)

	scripttest.Test(t, context.Background(), engine, nil, "testdata/*.txt")
}
