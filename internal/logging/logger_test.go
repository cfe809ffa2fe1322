package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func readLogs(t *testing.T, dir string) map[string]string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("Failed to read logs dir: %v", err)
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			t.Fatalf("Failed to read %s: %v", e.Name(), err)
		}
		out[e.Name()] = string(data)
	}
	return out
}

// TestAllCategoriesLog tests that all categories create log files when debug mode is on
func TestAllCategoriesLog(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer CloseAll()

	if !IsDebugMode() {
		t.Error("Expected debug mode to be enabled")
	}

	for _, cat := range Categories {
		if !IsCategoryEnabled(cat) {
			t.Errorf("Category %s should be enabled", cat)
		}
		l := Get(cat)
		l.Info("Test info message for %s", cat)
		l.Debug("Test debug message for %s", cat)
	}

	Predict("prediction for %s", "Cs0.05FA0.81")
	ExtractWarn("file %s has no metrics", "IV_1_20240914_201_201_CH1.txt")
	CloseAll()

	logs := readLogs(t, filepath.Join(ws, ".wit", "logs"))
	for _, cat := range Categories {
		found := false
		for name, content := range logs {
			if strings.HasSuffix(name, "_"+string(cat)+".log") {
				found = true
				if content == "" {
					t.Errorf("Log file for %s is empty", cat)
				}
			}
		}
		if !found {
			t.Errorf("No log file found for category: %s", cat)
		}
	}
}

// TestDebugModeDisabled tests that no logs are created when debug mode is off
func TestDebugModeDisabled(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: false, Level: "debug"}); err != nil {
		t.Fatalf("Failed to initialize logging: %v", err)
	}
	defer CloseAll()

	Boot("should not appear")
	Get(CategoryTools).Error("nor this")

	if _, err := os.Stat(filepath.Join(ws, ".wit", "logs")); !os.IsNotExist(err) {
		t.Errorf("logs directory should not exist in production mode, stat err = %v", err)
	}
}

func TestCategoryFilter(t *testing.T) {
	ws := t.TempDir()
	err := Initialize(ws, Options{
		DebugMode:  true,
		Categories: map[string]bool{"api": false},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer CloseAll()

	if IsCategoryEnabled(CategoryAPI) {
		t.Error("api should be disabled")
	}
	if !IsCategoryEnabled(CategoryPredict) {
		t.Error("unlisted categories default to enabled")
	}

	API("dropped")
	Predict("kept")
	CloseAll()

	for name := range readLogs(t, filepath.Join(ws, ".wit", "logs")) {
		if strings.HasSuffix(name, "_api.log") {
			t.Errorf("unexpected api log file %s", name)
		}
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true, Level: "warn", Format: "json"}); err != nil {
		t.Fatal(err)
	}
	defer CloseAll()

	PredictDebug("hidden-debug")
	PredictError("visible-error")
	CloseAll()

	var content string
	for name, c := range readLogs(t, filepath.Join(ws, ".wit", "logs")) {
		if strings.HasSuffix(name, "_predict.log") {
			content = c
		}
	}
	if strings.Contains(content, "hidden-debug") {
		t.Error("debug line written at warn level")
	}
	if !strings.Contains(content, "visible-error") {
		t.Error("error line missing")
	}

	var line map[string]interface{}
	first := strings.SplitN(strings.TrimSpace(content), "\n", 2)[0]
	if err := json.Unmarshal([]byte(first), &line); err != nil {
		t.Fatalf("json format expected, got %q: %v", first, err)
	}
	if line["cat"] != "predict" {
		t.Errorf("cat field = %v, want predict", line["cat"])
	}
}

func TestInitializeRequiresWorkspace(t *testing.T) {
	if err := Initialize("", Options{}); err == nil {
		t.Error("expected error for empty workspace")
	}
}

func TestTimer(t *testing.T) {
	timer := StartTimer(CategoryAgent, "turn")
	time.Sleep(2 * time.Millisecond)
	if d := timer.Stop(); d < 2*time.Millisecond {
		t.Errorf("elapsed = %v", d)
	}
	if d := StartTimer(CategoryAgent, "fast").StopWithThreshold(time.Hour); d <= 0 {
		t.Errorf("elapsed = %v", d)
	}
}

func TestAuditEvents(t *testing.T) {
	ws := t.TempDir()
	if err := Initialize(ws, Options{DebugMode: true}); err != nil {
		t.Fatal(err)
	}
	defer CloseAll()
	if err := InitAudit(); err != nil {
		t.Fatal(err)
	}

	a := AuditWithSession("sess-1")
	a.SessionStart()
	a.ToolExec("exp_IV", 12, nil)
	a.ToolExec("Evaluator", 40, errors.New("service returned 502"))
	a.Extraction(3, 2, 1)
	CloseAll()

	var auditPath string
	for name := range readLogs(t, filepath.Join(ws, ".wit", "logs")) {
		if strings.HasSuffix(name, "_audit.log") {
			auditPath = filepath.Join(ws, ".wit", "logs", name)
		}
	}
	if auditPath == "" {
		t.Fatal("audit log not created")
	}

	f, err := os.Open(auditPath)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	var events []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var ev map[string]interface{}
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			t.Fatalf("bad audit line %q: %v", sc.Text(), err)
		}
		events = append(events, ev)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	if events[0]["event"] != string(AuditSessionStart) || events[0]["session"] != "sess-1" {
		t.Errorf("unexpected first event %v", events[0])
	}
	if events[2]["event"] != string(AuditToolError) || events[2]["error"] != "service returned 502" {
		t.Errorf("unexpected tool error event %v", events[2])
	}
}

func TestAuditNoopWithoutInit(t *testing.T) {
	if err := Initialize(t.TempDir(), Options{}); err != nil {
		t.Fatal(err)
	}
	defer CloseAll()
	if err := InitAudit(); err != nil {
		t.Fatal(err)
	}
	Audit().Prediction("http://x/predict", 1, nil)
}
