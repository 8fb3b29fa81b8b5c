package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/goleak"

	"opchain/internal/blocktest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const chainConfig = "testdata/chain.yaml"

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := cli(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestBlocksListsBuiltins(t *testing.T) {
	code, out, errOut := runCLI(t, "blocks")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	for _, want := range []string{"PsiChiToUV", "HydrostaticPressure", "StdDev", "Ensemble", "FieldCopy", "Composite"} {
		if !strings.Contains(out, want) {
			t.Errorf("blocks output lacks %s:\n%s", want, out)
		}
	}
}

func TestSelfTestsPass(t *testing.T) {
	code, out, errOut := runCLI(t, "test", "--config", chainConfig)
	if code != 0 {
		t.Fatalf("exit %d\nstdout:\n%s\nstderr:\n%s", code, out, errOut)
	}
	if !strings.Contains(out, "0 failed") || !strings.Contains(out, "0 errors") {
		t.Fatalf("unexpected summary:\n%s", out)
	}
}

func TestJSONReportToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	code, _, errOut := runCLI(t, "test", "-c", chainConfig, "--format", "json", "-o", path)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var rep blocktest.Report
	if err := json.Unmarshal(raw, &rep); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	res, ok := rep.Find("PsiChiToUV", blocktest.KindInverse)
	if !ok || res.Status != blocktest.StatusSkipped {
		t.Fatalf("wind inverse should be skipped, got %+v", res)
	}
	res, ok = rep.Find("sd", blocktest.KindAdjoint)
	if !ok || res.Status != blocktest.StatusPassed {
		t.Fatalf("stddev adjoint should pass, got %+v", res)
	}
}

func TestCalibrateWritesToFilesystem(t *testing.T) {
	root := t.TempDir()
	t.Setenv("OPCHAIN_STATISTICS_DRIVER", "fs")
	t.Setenv("OPCHAIN_FS_ROOT", root)
	code, out, errOut := runCLI(t, "calibrate", "-c", chainConfig)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, "calibrate") {
		t.Fatalf("decisions missing:\n%s", out)
	}
	for _, v := range []string{"eastward_wind", "northward_wind", "hydrostatic_pressure"} {
		if _, err := os.Stat(filepath.Join(root, "run1", "sd", "standard_deviation", v)); err != nil {
			t.Errorf("statistic for %s not written: %v", v, err)
		}
	}
}

func TestEnsembleCommandUsesEnvFile(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "stats.db")
	envFile := filepath.Join(dir, "opchain.env")
	if err := os.WriteFile(envFile, []byte("OPCHAIN_STATISTICS_DRIVER=sqlite\nOPCHAIN_SQLITE_PATH="+dbPath+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"OPCHAIN_STATISTICS_DRIVER", "OPCHAIN_SQLITE_PATH"} {
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatal(err)
		}
	}
	code, out, errOut := runCLI(t, "ensemble", "-c", chainConfig, "--env-file", envFile, "--members", "3", "--prefix", "ens/a")
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	if !strings.Contains(out, `wrote 3 members`) {
		t.Fatalf("unexpected output %q", out)
	}
	if _, err := os.Stat(dbPath); err != nil {
		t.Fatalf("sqlite database not created: %v", err)
	}
}

func TestMetricsAndTrace(t *testing.T) {
	trace := filepath.Join(t.TempDir(), "trace.jsonl")
	code, _, errOut := runCLI(t, "test", "-c", chainConfig, "--metrics-addr", "127.0.0.1:0", "--trace", trace)
	if code != 0 {
		t.Fatalf("exit %d: %s", code, errOut)
	}
	f, err := os.Open(trace)
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	defer func() { _ = f.Close() }()
	kinds := map[string]int{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("bad trace line %q: %v", sc.Text(), err)
		}
		kind, _ := entry["kind"].(string)
		kinds[kind]++
	}
	if kinds["operation"] == 0 {
		t.Fatalf("no spans traced: %v", kinds)
	}
	if kinds["test"] == 0 {
		t.Fatalf("no test results traced: %v", kinds)
	}
}

func TestErrorsExitTwo(t *testing.T) {
	cases := [][]string{
		{"test", "-c", filepath.Join(t.TempDir(), "missing.yaml")},
		{"test", "-c", chainConfig, "--format", "xml"},
		{"nonsense"},
	}
	for _, args := range cases {
		code, _, errOut := runCLI(t, args...)
		if code != 2 {
			t.Errorf("%v: exit %d, want 2 (%s)", args, code, errOut)
		}
	}
}
