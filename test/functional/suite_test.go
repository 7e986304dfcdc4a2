package functional

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/cucumber/godog"
)

type stateKeyType struct{}

var stateKey = stateKeyType{}

type testState struct {
	binPath  string
	workDir  string
	stdout   string
	stderr   string
	exitCode int
}

func getState(ctx context.Context) *testState {
	if s, ok := ctx.Value(stateKey).(*testState); ok {
		return s
	}
	return nil
}

func setState(ctx context.Context, s *testState) context.Context {
	return context.WithValue(ctx, stateKey, s)
}

func TestFeatures(t *testing.T) {
	binPath := os.Getenv("CRATELOAD_TEST_BINARY")
	if binPath == "" {
		t.Skip("CRATELOAD_TEST_BINARY not set; set it to the path of a built crateload binary")
	}

	absBin, err := filepath.Abs(binPath)
	if err != nil {
		t.Fatalf("resolving binary path: %v", err)
	}
	binPath = absBin

	opts := &godog.Options{
		Format:   "pretty",
		Paths:    []string{"features"},
		TestingT: t,
	}
	if tags := os.Getenv("CRATELOAD_TEST_TAGS"); tags != "" {
		opts.Tags = tags
	}

	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			initializeScenario(ctx, binPath)
		},
		Options: opts,
	}
	if suite.Run() != 0 {
		t.Fatal("functional tests failed")
	}
}

func initializeScenario(ctx *godog.ScenarioContext, binPath string) {
	ctx.Before(func(ctx context.Context, sc *godog.Scenario) (context.Context, error) {
		dir, err := os.MkdirTemp("", "crateload-functional-")
		if err != nil {
			return ctx, err
		}
		state := &testState{binPath: binPath, workDir: dir}
		return setState(ctx, state), nil
	})
	ctx.After(func(ctx context.Context, sc *godog.Scenario, err error) (context.Context, error) {
		if state := getState(ctx); state != nil {
			os.RemoveAll(state.workDir)
		}
		return ctx, nil
	})

	ctx.Step(`^a search path directory$`, aSearchPathDirectory)
	ctx.Step(`^a crate "([^"]*)" with stable id (0x[0-9a-fA-F]+) in the search path$`, aCrateInTheSearchPath)
	ctx.Step(`^a crate "([^"]*)" with stable id (0x[0-9a-fA-F]+) depending on "([^"]*)" in the search path$`, aCrateDependingOnInTheSearchPath)
	ctx.Step(`^a second candidate for crate "([^"]*)" with stable id (0x[0-9a-fA-F]+) in the search path$`, aSecondCandidateInTheSearchPath)

	ctx.Step(`^I run crateload resolve "([^"]*)"$`, iRunCrateloadResolve)
	ctx.Step(`^I run crateload resolve "([^"]*)" with extern "([^"]*)"$`, iRunCrateloadResolveWithExtern)

	ctx.Step(`^the exit code is (\d+)$`, theExitCodeIs)
	ctx.Step(`^the output contains "([^"]*)"$`, theOutputContains)
	ctx.Step(`^the error output contains "([^"]*)"$`, theErrorOutputContains)
	ctx.Step(`^the error output does not contain "([^"]*)"$`, theErrorOutputDoesNotContain)
}
