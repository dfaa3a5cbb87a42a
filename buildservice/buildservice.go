// Package buildservice stages generated programs into a toolchain workspace
// and runs the external build script on them.
package buildservice

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bikappa/blockly-sketchbook/buildservice/types"
	"github.com/bikappa/blockly-sketchbook/logging"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var ErrTimeout = errors.New("build timed out")

// how long Wait keeps reading output after the build process was killed
const waitDelay = 2 * time.Second

type BuildService interface {
	Build(ctx context.Context, params types.BuildParameters) (*types.BuildResult, error)
}

type LocalBuildServiceConfiguration struct {
	// directory holding the manifest files and the program template
	ToolchainDir    string
	Manifest        []string
	TemplateFile    string
	CodePlaceholder string

	Command        []string
	Timeout        time.Duration
	MaxOutputBytes int64

	// workspaces are created here, os.TempDir() when empty
	WorkspaceBaseDir string
	WorkspacePrefix  string
	KeepWorkspaces   bool

	Logger zerolog.Logger
}

type LocalBuildService struct {
	config LocalBuildServiceConfiguration
	log    zerolog.Logger
}

var _ BuildService = (*LocalBuildService)(nil)

func NewLocalBuildService(config LocalBuildServiceConfiguration) (*LocalBuildService, error) {
	if len(config.Command) == 0 {
		return nil, fmt.Errorf("build command is required")
	}
	if config.Timeout <= 0 {
		return nil, fmt.Errorf("build timeout must be positive")
	}
	if config.MaxOutputBytes <= 0 {
		return nil, fmt.Errorf("build output limit must be positive")
	}
	if config.CodePlaceholder == "" {
		return nil, fmt.Errorf("code placeholder is required")
	}

	toolchainDir, err := filepath.Abs(config.ToolchainDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve toolchain directory: %w", err)
	}
	config.ToolchainDir = toolchainDir

	if config.WorkspaceBaseDir == "" {
		config.WorkspaceBaseDir = os.TempDir()
	}

	return &LocalBuildService{
		config: config,
		log:    config.Logger.With().Str("component", "buildservice").Logger(),
	}, nil
}

// Build runs one build in a fresh workspace. A build that exits non-zero is
// not an error: its output and exit code are in the result. On timeout the
// partial result is returned together with ErrTimeout.
func (s *LocalBuildService) Build(ctx context.Context, params types.BuildParameters) (*types.BuildResult, error) {
	buildID := uuid.New().String()
	log := s.log.With().Str("build_id", buildID).Str("request_id", params.RequestID).Logger()

	workspace := filepath.Join(s.config.WorkspaceBaseDir, s.config.WorkspacePrefix+buildID)
	if err := os.Mkdir(workspace, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}
	if !s.config.KeepWorkspaces {
		defer func() {
			if err := os.RemoveAll(workspace); err != nil {
				log.Warn().Err(err).Str("workspace", workspace).Msg("failed to remove workspace")
			}
		}()
	}

	tmpl, err := os.ReadFile(filepath.Join(s.config.ToolchainDir, s.config.TemplateFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read program template: %w", err)
	}
	program, ok := RenderProgram(s.config.TemplateFile, string(tmpl), s.config.CodePlaceholder, params.Code)
	if !ok {
		log.Warn().Str("template", s.config.TemplateFile).Msg("program template has no code placeholder")
	}

	opts := BuildOptions{
		ID:           buildID,
		Workspace:    workspace,
		ToolchainDir: s.config.ToolchainDir,
		Manifest:     s.config.Manifest,
		Files:        []types.File{program},
	}
	stageStart := time.Now()
	if err := opts.Stage(ctx); err != nil {
		return nil, err
	}
	logging.LogDuration(log, "stage workspace", stageStart)

	log.Debug().Str("workspace", workspace).Strs("command", s.config.Command).Msg("starting build")
	result, err := s.run(ctx, buildID, workspace)
	if result != nil {
		log.Info().
			Str("status", string(result.Status)).
			Int("exit_code", result.ExitCode).
			Dur("duration", result.Duration).
			Bool("truncated", result.Truncated).
			Msg("build finished")
	}
	return result, err
}

func (s *LocalBuildService) run(ctx context.Context, buildID, workspace string) (*types.BuildResult, error) {
	runCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, s.config.Command[0], s.config.Command[1:]...)
	cmd.Dir = workspace
	setupProcessGroup(cmd)
	cmd.Cancel = func() error {
		return killProcessGroup(cmd)
	}
	cmd.WaitDelay = waitDelay
	output := newOutputBuffer(s.config.MaxOutputBytes)
	cmd.Stdout = output
	cmd.Stderr = output

	result := &types.BuildResult{
		ID:        buildID,
		Workspace: workspace,
		StartedAt: time.Now().UTC(),
	}
	err := cmd.Run()
	result.CompletedAt = time.Now().UTC()
	result.Duration = result.CompletedAt.Sub(result.StartedAt)
	result.Output = output.String()
	result.Truncated = output.Truncated()

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		result.Status = types.BuildTimedOut
		result.ExitCode = -1
		return result, fmt.Errorf("%w after %s", ErrTimeout, s.config.Timeout)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		result.Status = types.BuildSucceeded
	case errors.As(err, &exitErr):
		result.Status = types.BuildFailed
		result.ExitCode = exitErr.ExitCode()
	case errors.Is(err, exec.ErrWaitDelay):
		// the build exited but a child kept its output open
		result.ExitCode = cmd.ProcessState.ExitCode()
		result.Status = types.BuildSucceeded
		if result.ExitCode != 0 {
			result.Status = types.BuildFailed
		}
	default:
		return nil, fmt.Errorf("failed to run build command: %w", err)
	}
	return result, nil
}
