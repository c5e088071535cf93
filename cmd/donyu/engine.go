package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/goccy/go-yaml"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/terassyi/donyu/internal/artifact"
	"github.com/terassyi/donyu/internal/catalog"
	"github.com/terassyi/donyu/internal/component"
	"github.com/terassyi/donyu/internal/errors"
	"github.com/terassyi/donyu/internal/executor"
	"github.com/terassyi/donyu/internal/helper"
	"github.com/terassyi/donyu/internal/journal"
	"github.com/terassyi/donyu/internal/localstate"
	"github.com/terassyi/donyu/internal/operation"
	"github.com/terassyi/donyu/internal/printer"
	"github.com/terassyi/donyu/internal/repository"
	"github.com/terassyi/donyu/internal/run"
	"github.com/terassyi/donyu/internal/vars"
)

// maintenanceToolName is the artifact written beside the installation.
const maintenanceToolName = "maintenance"

// embeddedMode reads the marker baked into this binary. A plain (non
// artifact) binary runs as installer.
func embeddedMode() (run.Mode, error) {
	exe, err := os.Executable()
	if err != nil {
		return run.ModeInstaller, nil
	}
	meta, err := artifact.Read(exe)
	if err != nil {
		return run.ModeInstaller, nil
	}
	switch meta.Marker {
	case artifact.MarkerUninstaller:
		return run.ModeUninstaller, nil
	case artifact.MarkerUpdater:
		return run.ModeUpdater, nil
	case artifact.MarkerPackageManager:
		return run.ModePackageManager, nil
	default:
		return run.ModeInstaller, nil
	}
}

// loadEmbeddedMetadata returns this binary's artifact metadata, nil when the
// binary is a plain installer.
func loadEmbeddedMetadata() *artifact.Metadata {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}
	meta, err := artifact.Read(exe)
	if err != nil {
		return nil
	}
	return meta
}

// loadSettings prefers the settings document embedded into the maintenance
// tool over the one on disk.
func loadSettings(meta *artifact.Metadata) (*catalog.Settings, error) {
	if meta != nil {
		if s := meta.Section(artifact.TagSettings); s != nil {
			var settings catalog.Settings
			if err := yaml.Unmarshal(s.Data, &settings); err != nil {
				return nil, errors.NewManifestError("embedded settings", 0, 0, err.Error())
			}
			return &settings, nil
		}
	}
	return catalog.LoadSettings(flagSettings)
}

func messageHandler() run.MessageHandler {
	switch {
	case flagAutoAccept:
		return run.AutoAnswer{Answer: run.AnswerYes}
	case flagAutoReject, flagSilent:
		return run.AutoAnswer{Answer: run.AnswerNo}
	default:
		// Without a wizard surface, the CLI answers conservatively.
		return run.AutoAnswer{Answer: run.AnswerNo}
	}
}

// setupFileLogging tees slog into a rotating log below the target directory.
func setupFileLogging(targetDir string) {
	logger := &lumberjack.Logger{
		Filename:   filepath.Join(targetDir, "donyu.log"),
		MaxSize:    5, // MB
		MaxBackups: 3,
	}
	w := io.MultiWriter(os.Stderr, logger)
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: globalLogLevel.Level()})))
}

// runEngine is the full engine flow for one run mode.
func runEngine(ctx context.Context, mode run.Mode) error {
	opts := run.DefaultOptions()
	opts.Silent = flagSilent

	rc := run.New(mode, opts)
	rc.Messages = messageHandler()

	// A pending interrupt becomes a cooperative cancel; the executor
	// observes it between operations.
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-sigCtx.Done()
		rc.Cancel()
	}()

	out := printer.New(os.Stdout, flagNoColor)

	meta := loadEmbeddedMetadata()
	settings, err := loadSettings(meta)
	if err != nil {
		return err
	}

	varMap := vars.New()
	varMap.Set(vars.ApplicationName, settings.ApplicationName)
	varMap.Set(vars.ProductVersion, settings.ApplicationVersion)

	targetDir := flagTargetDir
	if targetDir == "" {
		targetDir = varMap.Snapshot().Expand(settings.TargetDir)
	}
	if targetDir == "" {
		return errors.New(errors.CategoryManifest, "no target directory configured").
			WithHint("set targetDir in the settings document or pass --target-dir")
	}
	varMap.Set(vars.TargetDir, targetDir)
	setupFileLogging(targetDir)

	store, err := localstate.NewStore(targetDir,
		localstate.WithSilentRetries(opts.SilentRetries),
		localstate.WithAnswerer(rc))
	if err != nil {
		return err
	}
	if err := store.Lock(); err != nil {
		return err
	}
	defer func() { _ = store.Unlock() }()

	installed, err := store.Load()
	if err != nil {
		return err
	}
	if err := store.CreateBackup(); err != nil {
		slog.Warn("failed to back up installed catalog", "error", err)
	}

	prior := journal.New()
	if meta != nil {
		if s := meta.Section(artifact.TagJournal); s != nil {
			if prior, err = journal.Decode(s.Data); err != nil {
				return err
			}
		}
	}

	registry := operation.Builtin()
	backupDir, err := os.MkdirTemp("", "donyu-backup-")
	if err != nil {
		return err
	}

	if mode == run.ModeUninstaller {
		status := uninstall(rc, registry, prior, store, varMap, backupDir, out)
		exitStatus = status
		return nil
	}

	// Metadata phase: stage every configured repository.
	urls := settings.RepositoryURLs()
	urls = append(urls, flagAddRepositories...)
	if flagTempRepository != "" {
		url, replace := strings.CutSuffix(flagTempRepository, ",replace")
		if replace {
			urls = nil
		}
		urls = append(urls, url)
	}

	stagings, err := repository.NewManager(rc).FetchAll(sigCtx, urls)
	if err != nil {
		return err
	}

	loader := catalog.NewLoader(
		catalog.WithStrictParse(opts.StrictParse),
		catalog.WithEngineVersion(version),
	)
	cat, err := loader.Load(repository.Dirs(stagings))
	if err != nil {
		return err
	}
	opts.ChecksumDownload = cat.ChecksumDownload
	rc.Options = opts

	forest := component.Build(cat, installed, mode, opts)
	if mode == run.ModeUpdater {
		forest.ApplyUpdaterFilter(opts)
	}

	order := forest.ComponentsToInstall(mode, opts)
	if len(order) == 0 {
		out.Plainf("Nothing to do.")
		exitStatus = run.StatusSuccess
		return nil
	}

	rows := make([][]string, 0, len(order))
	for _, h := range order {
		n := forest.Get(h)
		rows = append(rows, []string{n.Name(), n.Pkg.Version})
	}
	out.Table([]string{"COMPONENT", "VERSION"}, rows)

	progress := newProgressSink(out, flagNoColor)
	rc.Progress = progress

	exec := executor.New(rc, forest, registry, store, varMap, backupDir,
		executor.WithPriorJournal(prior),
		executor.WithElevatorFactory(func() (executor.Elevator, error) {
			return helper.Start(sigCtx, &helper.ElevateLauncher{})
		}),
	)

	status, runErr := exec.Run(order)
	progress.Finish()

	if runErr != nil {
		if errors.IsCanceled(runErr) {
			out.Warnf("Canceled; the session was rolled back.")
		} else {
			out.Failuref("%s failed: %v", strings.ToUpper(mode.String()[:1])+mode.String()[1:], runErr)
		}
		exitStatus = status
		return nil
	}

	if err := writeMaintenanceTool(settings, exec.Journal(), store, targetDir); err != nil {
		return err
	}

	out.Successf("%d component(s) installed into %s", len(order), targetDir)
	exitStatus = status
	return nil
}

// uninstall replays the embedded journal's undo in reverse. Undo failures
// are collected; the run completes what it can and reports the partial set.
func uninstall(
	rc *run.Context,
	registry *operation.Registry,
	prior *journal.Journal,
	store *localstate.Store,
	varMap *vars.Map,
	backupDir string,
	out *printer.Printer,
) run.Status {
	var failed int
	opCtx := &operation.Context{Vars: varMap.Snapshot(), BackupDir: backupDir}

	for i := prior.Len() - 1; i >= 0; i-- {
		if rc.Canceled() {
			return run.StatusCanceled
		}
		op := prior.Ops[i]
		if err := registry.Undo(opCtx, op); err != nil {
			failed++
			slog.Warn("undo failed during uninstall",
				"kind", op.Kind, "component", op.Component(), "error", err)
		}
	}

	for _, name := range prior.Components() {
		store.Remove(name)
	}
	if err := store.Flush(); err != nil {
		slog.Warn("failed to update installed catalog", "error", err)
		failed++
	}

	if failed > 0 {
		out.Warnf("Uninstall finished with %d failed undo step(s); see the log for details", failed)
		return run.StatusFailure
	}
	out.Successf("Uninstalled.")
	return run.StatusSuccess
}

// writeMaintenanceTool embeds the journal, the package registry, and the
// settings into a copy of this binary beside the installation.
func writeMaintenanceTool(settings *catalog.Settings, j *journal.Journal, store *localstate.Store, targetDir string) error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}
	base, err := artifact.BaseImage(exe)
	if err != nil {
		return err
	}
	baseTmp := filepath.Join(targetDir, "."+maintenanceToolName+".base")
	if err := os.WriteFile(baseTmp, base, 0755); err != nil {
		return err
	}
	defer os.Remove(baseTmp)

	journalBytes, err := j.Encode()
	if err != nil {
		return err
	}
	registryBytes, err := yaml.Marshal(struct {
		Components []localstate.InstalledRecord `yaml:"components"`
	}{Components: store.Records()})
	if err != nil {
		return err
	}
	settingsBytes, err := yaml.Marshal(settings)
	if err != nil {
		return err
	}

	meta := &artifact.Metadata{Marker: artifact.MarkerPackageManager}
	meta.SetSection(artifact.TagJournal, journalBytes)
	meta.SetSection(artifact.TagPackageRegistry, registryBytes)
	meta.SetSection(artifact.TagSettings, settingsBytes)

	target := filepath.Join(targetDir, maintenanceToolName)
	return artifact.NewWriter().Write(target, baseTmp, meta)
}

// runHelper serves privileged operations back over the engine's socket.
func runHelper(socketPath string) error {
	conn, err := helper.Dial(socketPath)
	if err != nil {
		return err
	}
	backupDir, err := os.MkdirTemp("", "donyu-helper-backup-")
	if err != nil {
		return err
	}
	return helper.NewServer(operation.Builtin(), backupDir).Serve(conn)
}
