package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Strob0t/StreamForge/internal/adapter/npm"
	cfotel "github.com/Strob0t/StreamForge/internal/adapter/otel"
	"github.com/Strob0t/StreamForge/internal/domain/event"
	"github.com/Strob0t/StreamForge/internal/domain/execution"
)

// CommandRunner runs a build command in a project directory, reporting each
// output line.
type CommandRunner interface {
	Run(ctx context.Context, dir string, onLine func(string) error, args ...string) error
}

// PreviewMounter serves a built dist directory. Mounting the same graph again
// replaces the previous directory.
type PreviewMounter interface {
	Mount(graphID, dir string) (string, error)
}

// DeployService builds graph projects with npm and mounts their output.
type DeployService struct {
	workDir string
	runner  CommandRunner
	mounter PreviewMounter
	pool    *npm.Pool
	metrics *cfotel.Metrics
}

// NewDeployService creates a DeployService rooted at workDir. pool may be nil.
func NewDeployService(workDir string, runner CommandRunner, mounter PreviewMounter, pool *npm.Pool) *DeployService {
	return &DeployService{workDir: workDir, runner: runner, mounter: mounter, pool: pool}
}

// SetMetrics sets the OTEL metrics instruments.
func (s *DeployService) SetMetrics(m *cfotel.Metrics) { s.metrics = m }

// Pipeline implements DeployPipeline.
func (s *DeployService) Pipeline(req execution.DeployRequest) Producer {
	return func(ctx context.Context, emit Emitter) (event.Payload, error) {
		if err := emit.Emit(ctx, event.Start{ExecutionID: emit.ExecutionID(), Type: string(execution.TypeDeploy)}); err != nil {
			return nil, err
		}

		var result event.Payload
		start := time.Now()
		err := s.pool.Run(ctx, func() error {
			var err error
			result, err = s.deploy(ctx, emit, req)
			return err
		})
		s.recordDuration(ctx, start, err)
		return result, err
	}
}

func (s *DeployService) recordDuration(ctx context.Context, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	s.metrics.DeployDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *DeployService) deploy(ctx context.Context, emit Emitter, req execution.DeployRequest) (event.Payload, error) {
	dir := filepath.Join(s.workDir, req.GraphID)

	if err := s.stage(ctx, emit, event.StageChecking, "checking project "+req.GraphID, func(ctx context.Context) error {
		return s.check(ctx, emit, dir, req.Redeploy)
	}); err != nil {
		return nil, err
	}

	nodeModules := filepath.Join(dir, "node_modules")
	if exists(nodeModules) {
		if err := emit.Emit(ctx, event.Log{Content: "[installing] node_modules present, skipping npm install"}); err != nil {
			return nil, err
		}
	} else if err := s.stage(ctx, emit, event.StageInstalling, "installing dependencies", func(ctx context.Context) error {
		return s.run(ctx, emit, dir, event.StageInstalling, "install")
	}); err != nil {
		return nil, err
	}

	if err := s.stage(ctx, emit, event.StageBuilding, "building project", func(ctx context.Context) error {
		return s.run(ctx, emit, dir, event.StageBuilding, "run", "build")
	}); err != nil {
		return nil, err
	}

	var previewURL string
	if err := s.stage(ctx, emit, event.StageDeploying, "mounting build output", func(ctx context.Context) error {
		dist := filepath.Join(dir, "dist")
		if err := verifyDist(dist); err != nil {
			return err
		}
		url, err := s.mounter.Mount(req.GraphID, dist)
		if err != nil {
			return fmt.Errorf("mount preview: %w", err)
		}
		previewURL = url
		return emit.Emit(ctx, event.Log{Content: "[deploying] mounted " + dist + " at " + url})
	}); err != nil {
		return nil, err
	}

	return event.DeployResult{
		PreviewURL: previewURL,
		Message:    fmt.Sprintf("graph %s deployed", req.GraphID),
	}, nil
}

// stage announces a stage, runs fn under a stage span and checks for
// cancellation before starting.
func (s *DeployService) stage(ctx context.Context, emit Emitter, st event.Stage, msg string, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := emit.Emit(ctx, event.Progress{Stage: st, Message: msg}); err != nil {
		return err
	}
	ctx, span := cfotel.StartStageSpan(ctx, emit.ExecutionID(), string(st))
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}

func (s *DeployService) check(ctx context.Context, emit Emitter, dir string, redeploy bool) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("project directory %s not found", dir)
	}
	if !exists(filepath.Join(dir, "package.json")) {
		return fmt.Errorf("package.json not found in %s", dir)
	}
	if !redeploy {
		return nil
	}
	for _, name := range []string{"node_modules", "dist"} {
		p := filepath.Join(dir, name)
		if !exists(p) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
		if err := emit.Emit(ctx, event.Log{Content: "[checking] removed " + name}); err != nil {
			return err
		}
	}
	return nil
}

func (s *DeployService) run(ctx context.Context, emit Emitter, dir string, st event.Stage, args ...string) error {
	prefix := "[" + string(st) + "] "
	err := s.runner.Run(ctx, dir, func(line string) error {
		return emit.Emit(ctx, event.Log{Content: prefix + line})
	}, args...)
	var exitErr *npm.ExitError
	if errors.As(err, &exitErr) {
		return event.WithCode(event.CodeCommandFailed, err)
	}
	return err
}

// verifyDist requires dist to exist and contain an index.html at any depth.
func verifyDist(dist string) error {
	info, err := os.Stat(dist)
	if err != nil || !info.IsDir() {
		return errors.New("build produced no dist directory")
	}
	matches, err := doublestar.Glob(os.DirFS(dist), "**/index.html")
	if err != nil {
		return fmt.Errorf("scan dist: %w", err)
	}
	if len(matches) == 0 {
		return errors.New("build output has no index.html")
	}
	return nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
