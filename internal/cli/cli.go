// Package cli parses pipewright's command-line arguments into an app.Config.
package cli

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/pipewright/pipewright/internal/app"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

// inputFlags collects repeatable -input key=value pairs.
type inputFlags map[string]string

func (f inputFlags) String() string {
	pairs := make([]string, 0, len(f))
	for k, v := range f {
		pairs = append(pairs, k+"="+v)
	}
	return strings.Join(pairs, ",")
}

func (f inputFlags) Set(raw string) error {
	key, value, found := strings.Cut(raw, "=")
	if !found || key == "" {
		return fmt.Errorf("input must be key=value, got %q", raw)
	}
	f[key] = value
	return nil
}

// Parse processes command-line arguments. It returns a populated app.Config,
// a boolean indicating if the program should exit cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")
	flagSet := flag.NewFlagSet("pipewright", flag.ContinueOnError)
	flagSet.SetOutput(output)

	// Custom usage/help text function
	flagSet.Usage = func() {
		fmt.Fprint(output, `
Pipewright - A declarative pipeline orchestration engine.

Usage:
  pipewright [options] [PIPELINE_PATH]

Arguments:
  PIPELINE_PATH
    Path to a single .hcl file or a directory containing .hcl files.

Options:
`)
		flagSet.PrintDefaults()
	}

	pipelineFlag := flagSet.String("pipeline", "", "Path to the pipeline file or directory.")
	pFlag := flagSet.String("p", "", "Path to the pipeline file or directory (shorthand).")
	eventFlag := flagSet.String("event", "push", "Trigger event. Options: 'push', 'pull_request', 'workflow_dispatch'.")
	branchFlag := flagSet.String("branch", "", "Source branch of the trigger.")
	targetBranchFlag := flagSet.String("target-branch", "", "Target branch of a pull_request trigger.")
	shaFlag := flagSet.String("sha", "", "Commit SHA identifying the artifact under build.")
	configFlag := flagSet.String("config", "", "Path to an optional YAML engine config file.")
	reportPortFlag := flagSet.Int("report-port", 0, "Port for the HTTP report server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "json", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	workersFlag := flagSet.Int("workers", 0, "Number of concurrently running job instances. 0 uses the configured default.")

	inputs := inputFlags{}
	flagSet.Var(inputs, "input", "Dispatch input as key=value. Repeatable.")

	if err := flagSet.Parse(args); err != nil {
		if err == flag.ErrHelp {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.")

	path := ""
	if *pipelineFlag != "" {
		path = *pipelineFlag
	} else if *pFlag != "" {
		path = *pFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	slog.Debug("Pipeline path determined.", "path", path)

	if path == "" {
		slog.Debug("No pipeline path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, &ExitError{Code: 2, Message: "invalid log-format: must be 'text' or 'json'"}
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid log-level: must be 'debug', 'info', 'warn', or 'error'"}
	}

	event := strings.ToLower(*eventFlag)
	switch event {
	case "push", "pull_request", "workflow_dispatch":
		// valid
	default:
		return nil, false, &ExitError{Code: 2, Message: "invalid event: must be 'push', 'pull_request', or 'workflow_dispatch'"}
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		PipelinePath: path,
		Event:        event,
		Branch:       *branchFlag,
		TargetBranch: *targetBranchFlag,
		SHA:          *shaFlag,
		Inputs:       inputs,
		ReportPort:   *reportPortFlag,
		LogFormat:    logFormat,
		LogLevel:     logLevel,
		WorkerCount:  *workersFlag,
	}, *configFlag)

	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}
