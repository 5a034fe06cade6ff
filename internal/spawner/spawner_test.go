package spawner

import (
	"io"
	"os"
	"runtime"
	"strings"
	"testing"

	"acsd/internal/model"
)

func TestBuildCommand_ShellCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only expectations")
	}
	name, args, effective, err := BuildCommand(model.Execution{Type: model.ExecutionShellCommand, Value: "echo hi"}, "")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if name != "/bin/sh" || len(args) != 2 || args[0] != "-c" || args[1] != "echo hi" {
		t.Fatalf("got name=%q args=%v", name, args)
	}
	if effective != "echo hi" {
		t.Fatalf("effective = %q", effective)
	}
}

func TestBuildCommand_ShellCommandWithArgs(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only expectations")
	}
	_, args, effective, err := BuildCommand(model.Execution{Type: model.ExecutionShellCommand, Value: "echo"}, "hi there")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if args[1] != "echo hi there" {
		t.Fatalf("args[1] = %q", args[1])
	}
	if effective != "echo hi there" {
		t.Fatalf("effective = %q", effective)
	}
}

func TestBuildCommand_ScriptFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only expectations")
	}
	name, args, _, err := BuildCommand(model.Execution{Type: model.ExecutionScriptFile, Value: "/opt/jobs/run.sh"}, "")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	if name != "/bin/sh" || len(args) != 1 || args[0] != "/opt/jobs/run.sh" {
		t.Fatalf("got name=%q args=%v", name, args)
	}
}

func TestBuildCommand_UnknownExecution(t *testing.T) {
	_, _, _, err := BuildCommand(model.Execution{Type: "bogus"}, "")
	if err == nil {
		t.Fatalf("expected error for unknown execution type")
	}
}

func TestMergeEnv_Precedence(t *testing.T) {
	os.Setenv("ACSD_SPAWNER_TEST_VAR", "inherited")
	defer os.Unsetenv("ACSD_SPAWNER_TEST_VAR")

	merged := MergeEnv(
		map[string]string{"ACSD_SPAWNER_TEST_VAR": "job", "JOB_ONLY": "j"},
		map[string]string{"ACSD_SPAWNER_TEST_VAR": "trigger"},
	)
	if merged["ACSD_SPAWNER_TEST_VAR"] != "trigger" {
		t.Fatalf("trigger env did not win: %v", merged["ACSD_SPAWNER_TEST_VAR"])
	}
	if merged["JOB_ONLY"] != "j" {
		t.Fatalf("job env not present: %v", merged)
	}
}

func TestStartReadWait(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	name, args, _, err := BuildCommand(model.Execution{Type: model.ExecutionShellCommand, Value: "echo hello"}, "")
	if err != nil {
		t.Fatalf("BuildCommand: %v", err)
	}
	h, err := Start(name, args, "", EnvSlice(MergeEnv(nil, nil)))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	out, err := io.ReadAll(h)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Fatalf("output = %q", out)
	}
	code, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 0 {
		t.Fatalf("exit code = %d, want 0", code)
	}
}

func TestStartExitCode(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	name, args, _, _ := BuildCommand(model.Execution{Type: model.ExecutionShellCommand, Value: "exit 7"}, "")
	h, err := Start(name, args, "", EnvSlice(MergeEnv(nil, nil)))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_, _ = io.ReadAll(h)
	code, err := h.Wait()
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if code != 7 {
		t.Fatalf("exit code = %d, want 7", code)
	}
}

func TestKillBeforeCompletion(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Unix-only harness")
	}
	name, args, _, _ := BuildCommand(model.Execution{Type: model.ExecutionShellCommand, Value: "sleep 30"}, "")
	h, err := Start(name, args, "", EnvSlice(MergeEnv(nil, nil)))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if err := h.Kill(); err != nil {
		t.Fatalf("second Kill: %v", err)
	}
	_, _ = io.ReadAll(h)
	if _, err := h.Wait(); err != nil {
		t.Fatalf("Wait after kill: %v", err)
	}
}
