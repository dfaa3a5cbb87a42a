package buildservice

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bikappa/blockly-sketchbook/buildservice/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const placeholder = "@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@@"

const buildScript = `echo "compiling"
cat main_program.cpp
echo "warning: something" >&2
exit 3
`

// newToolchain writes a fake toolchain and returns its directory.
func newToolchain(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{
		"build.sh":         buildScript,
		"wiring.h":         "#define HIGH 1\n",
		"main_program.cpp": "#include \"wiring.h\"\n" + placeholder + "\nint main(void) {}\n",
	}
	for name, data := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(data), 0o644))
	}
	return dir
}

func newTestService(t *testing.T, mutate func(*LocalBuildServiceConfiguration)) (*LocalBuildService, string) {
	t.Helper()
	workspaces := t.TempDir()
	config := LocalBuildServiceConfiguration{
		ToolchainDir:     newToolchain(t),
		Manifest:         []string{"build.sh", "wiring.h"},
		TemplateFile:     "main_program.cpp",
		CodePlaceholder:  placeholder,
		Command:          []string{"sh", "build.sh"},
		Timeout:          10 * time.Second,
		MaxOutputBytes:   1 << 20,
		WorkspaceBaseDir: workspaces,
		WorkspacePrefix:  "blockly-avr-",
		Logger:           zerolog.Nop(),
	}
	if mutate != nil {
		mutate(&config)
	}
	svc, err := NewLocalBuildService(config)
	require.NoError(t, err)
	return svc, workspaces
}

func TestBuild_ReturnsMergedOutputRegardlessOfExitStatus(t *testing.T) {
	svc, _ := newTestService(t, nil)

	result, err := svc.Build(context.Background(), types.BuildParameters{Code: "int x=1;"})
	require.NoError(t, err)

	expected := "compiling\n#include \"wiring.h\"\nint x=1;\nint main(void) {}\nwarning: something\n"
	assert.Equal(t, expected, result.Output)
	assert.Equal(t, types.BuildFailed, result.Status)
	assert.Equal(t, 3, result.ExitCode)
	assert.False(t, result.Truncated)
	assert.NotEmpty(t, result.ID)
}

func TestBuild_Success(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "cat wiring.h"}
	})

	result, err := svc.Build(context.Background(), types.BuildParameters{Code: ""})
	require.NoError(t, err)
	assert.Equal(t, types.BuildSucceeded, result.Status)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "#define HIGH 1\n", result.Output)
}

func TestBuild_RemovesWorkspace(t *testing.T) {
	svc, workspaces := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "pwd"}
	})

	result, err := svc.Build(context.Background(), types.BuildParameters{Code: "x"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(filepath.Base(result.Workspace), "blockly-avr-"))

	_, err = os.Stat(result.Workspace)
	assert.True(t, os.IsNotExist(err))

	entries, err := os.ReadDir(workspaces)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuild_KeepWorkspaces(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "true"}
		c.KeepWorkspaces = true
	})

	result, err := svc.Build(context.Background(), types.BuildParameters{Code: "void loop(){}"})
	require.NoError(t, err)

	program, err := os.ReadFile(filepath.Join(result.Workspace, "main_program.cpp"))
	require.NoError(t, err)
	assert.Contains(t, string(program), "void loop(){}")
	assert.NotContains(t, string(program), placeholder)

	for _, name := range []string{"build.sh", "wiring.h"} {
		_, err := os.Stat(filepath.Join(result.Workspace, name))
		assert.NoError(t, err, name)
	}
}

func TestBuild_DistinctWorkspaces(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "true"}
	})

	first, err := svc.Build(context.Background(), types.BuildParameters{})
	require.NoError(t, err)
	second, err := svc.Build(context.Background(), types.BuildParameters{})
	require.NoError(t, err)
	assert.NotEqual(t, first.Workspace, second.Workspace)
}

func TestBuild_Timeout(t *testing.T) {
	svc, workspaces := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "echo started; exec sleep 10"}
		c.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	result, err := svc.Build(context.Background(), types.BuildParameters{})
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
	require.NotNil(t, result)
	assert.Equal(t, types.BuildTimedOut, result.Status)
	assert.Equal(t, "started\n", result.Output)

	entries, err := os.ReadDir(workspaces)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuild_TimeoutKillsChildProcesses(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "flashed")
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "echo started; (sleep 1; touch " + marker + ") & sleep 10"}
		c.Timeout = 200 * time.Millisecond
	})

	start := time.Now()
	result, err := svc.Build(context.Background(), types.BuildParameters{})
	assert.ErrorIs(t, err, ErrTimeout)
	// no child is left holding the output pipe open
	assert.Less(t, time.Since(start), waitDelay)
	require.NotNil(t, result)
	assert.Equal(t, "started\n", result.Output)

	time.Sleep(1500 * time.Millisecond)
	assert.NoFileExists(t, marker)
}

func TestBuild_TruncatesOutput(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"sh", "-c", "i=0; while [ $i -lt 100 ]; do echo 0123456789; i=$((i+1)); done"}
		c.MaxOutputBytes = 25
	})

	result, err := svc.Build(context.Background(), types.BuildParameters{})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
	assert.Equal(t, "0123456789\n0123456789\n012"+truncatedMarker, result.Output)
}

func TestBuild_MissingToolchainFile(t *testing.T) {
	svc, workspaces := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Manifest = append(c.Manifest, "libavr-thread.a")
	})

	_, err := svc.Build(context.Background(), types.BuildParameters{})
	assert.Error(t, err)

	entries, err := os.ReadDir(workspaces)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestBuild_MissingTemplate(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.TemplateFile = "nope.cpp"
	})

	_, err := svc.Build(context.Background(), types.BuildParameters{})
	assert.Error(t, err)
}

func TestBuild_CommandNotFound(t *testing.T) {
	svc, _ := newTestService(t, func(c *LocalBuildServiceConfiguration) {
		c.Command = []string{"definitely-not-a-build-tool-7f3a"}
	})

	_, err := svc.Build(context.Background(), types.BuildParameters{})
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestBuild_CanceledContext(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Build(ctx, types.BuildParameters{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLocalBuildService_Validation(t *testing.T) {
	_, err := NewLocalBuildService(LocalBuildServiceConfiguration{Timeout: time.Second, MaxOutputBytes: 1, CodePlaceholder: "@"})
	assert.Error(t, err)
	_, err = NewLocalBuildService(LocalBuildServiceConfiguration{Command: []string{"sh"}, MaxOutputBytes: 1, CodePlaceholder: "@"})
	assert.Error(t, err)
}

func TestRenderProgram(t *testing.T) {
	file, ok := RenderProgram("main_program.cpp", "a\n@@\nb @@", "@@", "code")
	assert.True(t, ok)
	assert.Equal(t, "main_program.cpp", file.Name)
	assert.Equal(t, "a\ncode\nb code", file.Data)

	file, ok = RenderProgram("main_program.cpp", "no token", "@@", "code")
	assert.False(t, ok)
	assert.Equal(t, "no token", file.Data)
}

func TestOutputBuffer(t *testing.T) {
	b := newOutputBuffer(4)
	n, err := b.Write([]byte("ab"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, b.Truncated())

	n, err = b.Write([]byte("cdef"))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.True(t, b.Truncated())
	assert.Equal(t, "abcd"+truncatedMarker, b.String())
}
