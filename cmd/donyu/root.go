package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/terassyi/donyu/internal/run"
)

// logLevelFlag implements pflag.Value for slog.Level.
type logLevelFlag struct {
	level slog.Level
}

func (f *logLevelFlag) String() string { return strings.ToLower(f.level.String()) }
func (f *logLevelFlag) Type() string   { return "string" }
func (f *logLevelFlag) Set(s string) error {
	switch strings.ToLower(s) {
	case "debug":
		f.level = slog.LevelDebug
	case "info":
		f.level = slog.LevelInfo
	case "warn":
		f.level = slog.LevelWarn
	case "error":
		f.level = slog.LevelError
	default:
		return fmt.Errorf("unknown log level %q (valid: debug, info, warn, error)", s)
	}
	return nil
}

func (f *logLevelFlag) Level() slog.Level { return f.level }

var (
	globalLogLevel = &logLevelFlag{level: slog.LevelWarn}

	flagInstall        bool
	flagUpdater        bool
	flagManagePackages bool
	flagUninstall      bool

	flagSilent     bool
	flagAutoAccept bool
	flagAutoReject bool
	flagVerbose    bool
	flagNoColor    bool

	flagSettings  string
	flagTargetDir string

	flagAddRepositories []string
	flagTempRepository  string

	flagRunHelper string

	// exitStatus is set by the run commands and picked up in main.
	exitStatus run.Status
)

var rootCmd = &cobra.Command{
	Use:   "donyu",
	Short: "Cross-platform software install, update, and uninstall engine",
	Long: `Donyu installs, updates, and uninstalls component-based software from
declarative repositories. The same binary acts as installer and as the
generated maintenance tool; the embedded marker or an explicit mode flag
selects what a run does.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		if flagVerbose && globalLogLevel.level > slog.LevelInfo {
			globalLogLevel.level = slog.LevelInfo
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: globalLogLevel.Level()})))
		return nil
	},
	RunE: func(cmd *cobra.Command, _ []string) error {
		if flagRunHelper != "" {
			return runHelper(flagRunHelper)
		}
		mode, err := selectMode()
		if err != nil {
			return err
		}
		return runEngine(cmd.Context(), mode)
	},
}

// selectMode maps the mutually exclusive mode flags onto the run mode,
// falling back to the marker embedded in this binary.
func selectMode() (run.Mode, error) {
	set := 0
	mode := run.ModeInstaller
	for _, m := range []struct {
		flag bool
		mode run.Mode
	}{
		{flagInstall, run.ModeInstaller},
		{flagUpdater, run.ModeUpdater},
		{flagManagePackages, run.ModePackageManager},
		{flagUninstall, run.ModeUninstaller},
	} {
		if m.flag {
			set++
			mode = m.mode
		}
	}
	if set > 1 {
		return 0, fmt.Errorf("at most one of --install, --updater, --manage-packages, --uninstall may be given")
	}
	if set == 1 {
		return mode, nil
	}
	return embeddedMode()
}

func init() {
	rootCmd.PersistentFlags().Var(globalLogLevel, "log-level", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose output")

	rootCmd.Flags().BoolVar(&flagInstall, "install", false, "Run as installer")
	rootCmd.Flags().BoolVar(&flagUpdater, "updater", false, "Run as updater")
	rootCmd.Flags().BoolVar(&flagManagePackages, "manage-packages", false, "Run as package manager")
	rootCmd.Flags().BoolVar(&flagUninstall, "uninstall", false, "Run as uninstaller")

	rootCmd.Flags().BoolVar(&flagSilent, "silent", false, "Run without prompting; defaults are applied")
	rootCmd.Flags().BoolVar(&flagAutoAccept, "auto-accept-messages", false, "Answer every question with yes")
	rootCmd.Flags().BoolVar(&flagAutoReject, "auto-reject-messages", false, "Answer every question with no")
	rootCmd.Flags().BoolVar(&flagNoColor, "no-color", false, "Disable colored output")

	rootCmd.Flags().StringVar(&flagSettings, "settings", "settings.yaml", "Installer settings document")
	rootCmd.Flags().StringVar(&flagTargetDir, "target-dir", "", "Install target directory (overrides settings)")

	rootCmd.Flags().StringArrayVar(&flagAddRepositories, "add-repository", nil, "Add a repository URL for this run")
	rootCmd.Flags().StringVar(&flagTempRepository, "set-temporary-repository", "",
		"Use a temporary repository URL; append ',replace' to displace configured ones")

	rootCmd.Flags().StringVar(&flagRunHelper, "run-helper", "", "Internal: serve privileged operations on the given socket")
	_ = rootCmd.Flags().MarkHidden("run-helper")

	rootCmd.AddCommand(versionCmd)
}
