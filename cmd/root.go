package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartdl/smartdl/internal/config"
	smarthttp "github.com/smartdl/smartdl/internal/downloaders/http"
	"github.com/smartdl/smartdl/internal/output"
	"github.com/smartdl/smartdl/internal/utils"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	exitOK        = 0
	exitFailure   = 1
	exitCancelled = 130
)

var (
	outputPath        string
	connections       int
	configPath        string
	timeout           time.Duration
	inactivityTimeout time.Duration
	retries           int
	userAgent         string
	headers           []string
	debug             bool
	logFile           string
	cleanOutput       bool
)

var SmartDLVersion = "dev"

var exitCode = exitOK

var rootCmd = &cobra.Command{
	Use:   "smartdl URL [flags]",
	Short: "smartdl is a resumable multi-connection HTTP downloader",
	Long: `smartdl downloads a file over HTTP/HTTPS using parallel range requests.

Features:
  - Smart connection optimization (speed test when -c is not given)
  - Parallel downloads with resume support
  - Progress tracking with speed and ETA
  - File type detection
  - Ctrl+C to cancel, run the same command again to resume`,
	Example: `  smartdl https://example.com/file.zip
  smartdl https://example.com/file.zip -o myfile.zip
  smartdl https://example.com/file.zip -c 4
  smartdl https://example.com/file.zip -o myfile.zip -c 4`,
	Version:       SmartDLVersion,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) > 1 {
			return errors.New("multiple URLs specified")
		}
		if len(args) == 0 && !cleanOutput {
			return errors.New("URL is required")
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if cleanOutput {
			return runClean(cmd, args)
		}
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if err := utils.InitLogger(cfg.Debug, cfg.LogFile); err != nil {
			return fmt.Errorf("error opening log file: %w", err)
		}

		out := cmd.OutOrStdout()
		showProgress := false
		if f, ok := out.(*os.File); ok {
			showProgress = term.IsTerminal(int(f.Fd()))
		}
		session, err := smarthttp.NewSession(smarthttp.Options{
			URL:          args[0],
			OutputPath:   outputPath,
			Config:       cfg,
			Out:          out,
			ShowProgress: showProgress,
		})
		if err != nil {
			return err
		}

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		finished := make(chan struct{})
		defer close(finished)
		go watchSignals(signals, finished, session.Cancel, func() {
			output.PrintWarning(cmd.ErrOrStderr(), "Forced exit, partial data kept in "+session.WorkDir())
			os.Exit(exitCancelled)
		})

		result := session.Run(cmd.Context())
		switch result.Outcome {
		case utils.OutcomeCompleted:
			exitCode = exitOK
		case utils.OutcomeCancelled:
			exitCode = exitCancelled
		default:
			exitCode = exitFailure
		}
		return nil
	},
}

// watchSignals cancels the session on the first signal and calls force on a second one,
// for when the cancel itself hangs.
func watchSignals(signals <-chan os.Signal, finished <-chan struct{}, cancel, force func()) {
	select {
	case <-signals:
	case <-finished:
		return
	}
	go cancel()
	select {
	case <-signals:
		force()
	case <-finished:
	}
}

// loadConfig layers the flags the user actually set over the file and environment settings.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("connections") {
		if connections < 1 || connections > utils.MaxConnections {
			return cfg, fmt.Errorf("connections must be between 1 and %d", utils.MaxConnections)
		}
		cfg.Connections = connections
	}
	if flags.Changed("timeout") {
		cfg.Timeout = timeout
	}
	if flags.Changed("inactivity-timeout") {
		cfg.InactivityTimeout = inactivityTimeout
	}
	if flags.Changed("retries") {
		cfg.Retries = retries
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = userAgent
	}
	if flags.Changed("header") {
		if cfg.Headers == nil {
			cfg.Headers = make(map[string]string)
		}
		for k, v := range utils.ParseHeaderArgs(headers) {
			cfg.Headers[k] = v
		}
	}
	if flags.Changed("debug") {
		cfg.Debug = debug
	}
	if flags.Changed("log-file") {
		cfg.LogFile = logFile
	}
	return cfg, cfg.Validate()
}

// Execute runs the command line and returns the process exit code.
func Execute() int {
	exitCode = exitOK
	if err := rootCmd.Execute(); err != nil {
		output.PrintError(rootCmd.ErrOrStderr(), "Error: "+err.Error())
		fmt.Fprintln(rootCmd.ErrOrStderr(), "Use --help for usage information")
		return exitFailure
	}
	return exitCode
}

func init() {
	defaults := config.Default()
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (inferred from the URL if not provided)")
	rootCmd.Flags().IntVarP(&connections, "connections", "c", 0, "Number of connections (1-8), skips the speed test")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "t", defaults.Timeout, "Time to wait for response headers (eg. 5s, 1m)")
	rootCmd.Flags().DurationVar(&inactivityTimeout, "inactivity-timeout", defaults.InactivityTimeout, "Abort a transfer that receives no data for this long (0 disables)")
	rootCmd.Flags().IntVarP(&retries, "retries", "r", defaults.Retries, "Attempts per chunk before the download fails")
	rootCmd.Flags().StringVarP(&userAgent, "user-agent", "a", utils.ToolUserAgent, "User agent")
	rootCmd.Flags().StringArrayVarP(&headers, "header", "H", []string{}, "Custom headers (like 'X-Token: abc'); can be specified multiple times")

	// flags without shorthand
	rootCmd.Flags().BoolVar(&cleanOutput, "clean", false, "Clean up temporary files for provided output path")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "Write logs to this file instead of stderr")
}
