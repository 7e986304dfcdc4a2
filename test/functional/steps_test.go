package functional

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	blobPkg "github.com/crateload/crateload/internal/blob"
	"github.com/crateload/crateload/internal/crate"
)

func aSearchPathDirectory(ctx context.Context) (context.Context, error) {
	state := getState(ctx)
	return ctx, os.MkdirAll(filepath.Join(state.workDir, "search"), 0o755)
}

func writeFixture(state *testState, name string, stableID crate.StableID, deps []crate.Dep) error {
	blob, err := blobPkg.EncodeForTest(&blobPkg.Descriptor{
		Name:     name,
		StableID: stableID,
		Hash:     "deadbeef",
		Deps:     deps,
	})
	if err != nil {
		return err
	}
	path := filepath.Join(state.workDir, "search", "lib"+name+".rlib")
	return os.WriteFile(path, blob, 0o644)
}

func parseStableIDArg(s string) (crate.StableID, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
	if err != nil {
		return 0, err
	}
	return crate.StableID(v), nil
}

func aCrateInTheSearchPath(ctx context.Context, name, idStr string) error {
	state := getState(ctx)
	id, err := parseStableIDArg(idStr)
	if err != nil {
		return err
	}
	return writeFixture(state, name, id, nil)
}

func aCrateDependingOnInTheSearchPath(ctx context.Context, name, idStr, depName string) error {
	state := getState(ctx)
	id, err := parseStableIDArg(idStr)
	if err != nil {
		return err
	}
	return writeFixture(state, name, id, []crate.Dep{{Name: depName, DepKind: crate.DepExplicit}})
}

func aSecondCandidateInTheSearchPath(ctx context.Context, name, idStr string) error {
	state := getState(ctx)
	id, err := parseStableIDArg(idStr)
	if err != nil {
		return err
	}
	blobBytes, err := blobPkg.EncodeForTest(&blobPkg.Descriptor{Name: name, StableID: id, Hash: "c0ffee00"})
	if err != nil {
		return err
	}
	path := filepath.Join(state.workDir, "search", "lib"+name+"-c0ffee00.rlib")
	return os.WriteFile(path, blobBytes, 0o644)
}

func runResolveCmd(ctx context.Context, name string, extraArgs []string) (context.Context, error) {
	state := getState(ctx)
	if state == nil {
		return ctx, fmt.Errorf("no test state; is the Before hook running?")
	}

	args := append([]string{"resolve", name, "-L", filepath.Join(state.workDir, "search")}, extraArgs...)
	cmd := exec.Command(state.binPath, args...)
	cmd.Env = append(os.Environ(), "CRATELOAD_HOME="+state.workDir)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	state.stdout = stdout.String()
	state.stderr = stderr.String()

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			state.exitCode = exitErr.ExitCode()
		} else {
			return ctx, fmt.Errorf("command execution failed: %w", err)
		}
	} else {
		state.exitCode = 0
	}

	return ctx, nil
}

func iRunCrateloadResolve(ctx context.Context, name string) (context.Context, error) {
	return runResolveCmd(ctx, name, nil)
}

func iRunCrateloadResolveWithExtern(ctx context.Context, name, externValue string) (context.Context, error) {
	return runResolveCmd(ctx, name, []string{"--extern", externValue})
}

func theExitCodeIs(ctx context.Context, expected int) error {
	state := getState(ctx)
	if state.exitCode != expected {
		return fmt.Errorf("expected exit code %d, got %d\nstdout: %s\nstderr: %s",
			expected, state.exitCode, state.stdout, state.stderr)
	}
	return nil
}

func theOutputContains(ctx context.Context, text string) error {
	state := getState(ctx)
	if !strings.Contains(state.stdout, text) {
		return fmt.Errorf("expected stdout to contain %q, got:\n%s", text, state.stdout)
	}
	return nil
}

func theErrorOutputContains(ctx context.Context, text string) error {
	state := getState(ctx)
	if !strings.Contains(state.stderr, text) {
		return fmt.Errorf("expected stderr to contain %q, got:\n%s", text, state.stderr)
	}
	return nil
}

func theErrorOutputDoesNotContain(ctx context.Context, text string) error {
	state := getState(ctx)
	if strings.Contains(state.stderr, text) {
		return fmt.Errorf("expected stderr not to contain %q, got:\n%s", text, state.stderr)
	}
	return nil
}
