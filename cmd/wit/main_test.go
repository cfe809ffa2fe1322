package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"witlab/internal/agent"
	"witlab/internal/config"
	"witlab/internal/store"
)

// testEnv points the globals at a temporary workspace.
func testEnv(t *testing.T) string {
	t.Helper()
	logger = zap.NewNop()
	workspace = t.TempDir()
	timeout = time.Minute

	c := config.DefaultConfig()
	c.Storage.BaseFolder = filepath.Join(workspace, "data")
	c.Storage.HistoryPath = ""
	cfg = c
	return workspace
}

func newTestCommand() (*cobra.Command, *bytes.Buffer) {
	var buf bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetContext(context.Background())
	return cmd, &buf
}

func TestJoinArgs(t *testing.T) {
	got := joinArgs([]string{"one", "two", "three"})
	if got != "one two three" {
		t.Fatalf("expected 'one two three', got '%s'", got)
	}
	if got := joinArgs(nil); got != "" {
		t.Fatalf("expected empty string, got '%s'", got)
	}
}

func TestParamArgs(t *testing.T) {
	got := paramArgs(map[string]string{
		"Spin_Coating_Speed_1": "4000",
		"Formula_SAM_1":        "4PACz",
		"Concentration_PVK":    "1.5",
	})
	if got["Spin_Coating_Speed_1"] != 4000.0 {
		t.Fatalf("expected numeric speed, got %#v", got["Spin_Coating_Speed_1"])
	}
	if got["Concentration_PVK"] != 1.5 {
		t.Fatalf("expected numeric concentration, got %#v", got["Concentration_PVK"])
	}
	if got["Formula_SAM_1"] != "4PACz" {
		t.Fatalf("expected string SAM, got %#v", got["Formula_SAM_1"])
	}
}

func TestFormatEvent(t *testing.T) {
	call := formatEvent(agent.Event{Kind: agent.EventToolCall, Tool: "path_generator", Args: map[string]any{"test_number": 3, "exp_id": "E12"}})
	if call != "🔧 path_generator (exp_id=E12, test_number=3)" {
		t.Fatalf("unexpected tool call line: %q", call)
	}

	res := formatEvent(agent.Event{Kind: agent.EventToolResult, Tool: "exp_IV", Text: "a\nb", Failed: true})
	if res != "✗ exp_IV (0ms)\n   a\n   b" {
		t.Fatalf("unexpected result line: %q", res)
	}
}

func TestFormatMetric(t *testing.T) {
	if got := formatMetric(nil); got != "-" {
		t.Fatalf("expected '-', got '%s'", got)
	}
	v := 21.456
	if got := formatMetric(&v); got != "21.46" {
		t.Fatalf("expected '21.46', got '%s'", got)
	}
}

func TestResolveConfigPath(t *testing.T) {
	ws := testEnv(t)
	configPath = ""
	if got := resolveConfigPath(); got != filepath.Join(ws, ".wit", "config.yaml") {
		t.Fatalf("unexpected default config path: %s", got)
	}
	configPath = "/etc/wit.yaml"
	defer func() { configPath = "" }()
	if got := resolveConfigPath(); got != "/etc/wit.yaml" {
		t.Fatalf("expected explicit config path, got %s", got)
	}
}

func TestPathCommand(t *testing.T) {
	testEnv(t)
	pathTest = 3
	pathType = "IV"
	defer func() { pathTest = -1 }()

	cmd, out := newTestCommand()
	if err := pathCmd.RunE(cmd, []string{"E12"}); err != nil {
		t.Fatalf("path returned error: %v", err)
	}
	want := filepath.Join(cfg.Storage.BaseFolder, "E12", "all", "IV", "3")
	if !strings.Contains(out.String(), want) {
		t.Fatalf("expected %s in output, got: %s", want, out.String())
	}
}

func TestHistoryDisabled(t *testing.T) {
	testEnv(t)

	cmd, out := newTestCommand()
	if err := showHistory(cmd, nil); err != nil {
		t.Fatalf("showHistory returned error: %v", err)
	}
	if !strings.Contains(out.String(), "History is disabled") {
		t.Fatalf("expected disabled notice, got: %s", out.String())
	}
}

func TestHistoryEmptyAndPopulated(t *testing.T) {
	ws := testEnv(t)
	cfg.Storage.HistoryPath = filepath.Join(ws, "history.db")
	historyExtractions = false

	cmd, out := newTestCommand()
	if err := showHistory(cmd, nil); err != nil {
		t.Fatalf("showHistory returned error: %v", err)
	}
	if !strings.Contains(out.String(), "No entries recorded yet.") {
		t.Fatalf("expected empty notice, got: %s", out.String())
	}

	h, err := store.Open(cfg.Storage.HistoryPath)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	pce := 21.5
	if _, err := h.RecordPrediction(context.Background(), store.PredictionEntry{
		SessionID: "cli",
		Mode:      "普通生成",
		Formula:   "Cs0.05FA0.95PbI3",
		PCE:       &pce,
	}); err != nil {
		t.Fatalf("record prediction: %v", err)
	}
	h.Close()

	cmd, out = newTestCommand()
	if err := showHistory(cmd, nil); err != nil {
		t.Fatalf("showHistory returned error: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Cs0.05FA0.95PbI3") || !strings.Contains(text, "21.50") {
		t.Fatalf("expected recorded prediction in output, got: %s", text)
	}
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	ws := testEnv(t)
	configPath = filepath.Join(ws, "wit.yaml")
	defer func() { configPath = "" }()

	cmd, out := newTestCommand()
	if err := configInitCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("config init returned error: %v", err)
	}
	if !strings.Contains(out.String(), "Wrote") {
		t.Fatalf("expected confirmation, got: %s", out.String())
	}
	if err := configInitCmd.RunE(cmd, nil); err == nil {
		t.Fatal("expected error when config exists without --force")
	}
}

func TestConfigShowRedactsKey(t *testing.T) {
	testEnv(t)
	cfg.LLM.APIKey = "sk-secret"

	cmd, out := newTestCommand()
	if err := configShowCmd.RunE(cmd, nil); err != nil {
		t.Fatalf("config show returned error: %v", err)
	}
	if strings.Contains(out.String(), "sk-secret") {
		t.Fatalf("API key leaked: %s", out.String())
	}
	if cfg.LLM.APIKey != "sk-secret" {
		t.Fatal("config show must not modify the loaded config")
	}
}
