package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/term"

	"conductor/pkg/config"
	"conductor/pkg/logx"
)

// Version information - set by goreleaser via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// cliOptions carries the parsed command line through run().
type cliOptions struct {
	workflowPath    string
	projectDir      string
	initialFiles    []string
	validateOnly    bool
	cacheStats      bool
	clearCache      bool
	listRuns        bool
	listEscalations bool
	ackID           string
	metricsFor      string
}

func main() {
	var (
		workflowPath    = flag.String("workflow", "", "Path to the workflow definition (YAML or JSON)")
		validateOnly    = flag.Bool("validate", false, "Validate the workflow definition and exit")
		projectDir      = flag.String("projectdir", ".", "Project directory")
		initialFiles    = flag.String("files", "", "Comma-separated initial working set for gate evaluation")
		cacheStats      = flag.Bool("cache-stats", false, "Print gate cache statistics and exit")
		clearCache      = flag.Bool("clear-cache", false, "Clear the gate cache and exit")
		listRuns        = flag.Bool("runs", false, "List recent workflow runs and exit")
		listEscalations = flag.Bool("escalations", false, "List pending escalations and exit")
		ackID           = flag.String("ack", "", "Acknowledge an escalation by ID and exit")
		metricsFor      = flag.String("metrics", "", "Print Prometheus metrics for a workflow and exit")
		tee             = flag.Bool("tee", false, "Output logs to both console and file (default: file only)")
		showVersion     = flag.Bool("version", false, "Show version information")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", date)
		os.Exit(0)
	}

	// Initialize log file rotation BEFORE any logging occurs so config
	// loading is captured too.
	logsDir := filepath.Join(*projectDir, config.ProjectConfigDir, config.DefaultLogsDir)
	if err := logx.InitializeLogFile(logsDir, config.DefaultLogRotationHours, *tee); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize log file: %v\n", err)
		os.Exit(1)
	}

	opts := &cliOptions{
		workflowPath:    *workflowPath,
		projectDir:      *projectDir,
		initialFiles:    splitFileList(*initialFiles, *projectDir),
		validateOnly:    *validateOnly,
		cacheStats:      *cacheStats,
		clearCache:      *clearCache,
		listRuns:        *listRuns,
		listEscalations: *listEscalations,
		ackID:           *ackID,
		metricsFor:      *metricsFor,
	}
	exitCode := run(opts)

	if closeErr := logx.CloseLogFile(); closeErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", closeErr)
	}
	os.Exit(exitCode)
}

// run contains the main application logic and returns an exit code.
// This allows defers in main() to execute before os.Exit is called.
func run(opts *cliOptions) int {
	if opts.projectDir == "." {
		config.LogInfo("⚠️  -projectdir not set. Using the current directory.")
	}

	if err := config.LoadConfig(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	// Load encrypted credentials into memory before anything spawns agents.
	if err := handleSecretsDecryption(opts.projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to handle secrets: %v\n", err)
		return 1
	}

	switch {
	case opts.validateOnly:
		return runValidate(opts)
	case opts.cacheStats:
		return runCacheStats()
	case opts.clearCache:
		return runClearCache()
	case opts.listRuns:
		return runListRuns()
	case opts.listEscalations:
		return runListEscalations()
	case opts.ackID != "":
		return runAcknowledge(opts.ackID)
	case opts.metricsFor != "":
		return runMetricsReport(opts.metricsFor)
	}

	return runWorkflow(opts)
}

// handleSecretsDecryption loads encrypted credentials into memory when a
// secrets file is present. The password comes from CONDUCTOR_PASSWORD when
// set (CI), otherwise an interactive prompt.
func handleSecretsDecryption(projectDir string) error {
	if !config.SecretsFileExists(projectDir) {
		return nil
	}

	password := os.Getenv("CONDUCTOR_PASSWORD")
	if password == "" {
		if !term.IsTerminal(syscall.Stdin) {
			return fmt.Errorf("secrets file present but no password available: set CONDUCTOR_PASSWORD or run interactively")
		}
		prompted, err := promptForPassword()
		if err != nil {
			return err
		}
		password = prompted
	}

	secrets, err := config.DecryptSecretsFile(projectDir, password)
	if err != nil {
		return err
	}
	config.SetDecryptedSecrets(secrets)
	config.LogInfo("🔓 Loaded %d secret(s) from encrypted store", len(secrets))
	return nil
}

// promptForPassword reads the project password without echo.
func promptForPassword() (string, error) {
	fmt.Print("Enter the project password: ")
	passwordBytes, err := term.ReadPassword(syscall.Stdin)
	fmt.Println() // New line after password input
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	password := string(passwordBytes)
	for i := range passwordBytes {
		passwordBytes[i] = 0
	}
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	return password, nil
}

// splitFileList parses the -files flag into paths resolved against the
// project directory.
func splitFileList(raw, projectDir string) []string {
	if raw == "" {
		return nil
	}
	var files []string
	for _, f := range strings.Split(raw, ",") {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		if !filepath.IsAbs(f) {
			f = filepath.Join(projectDir, f)
		}
		files = append(files, f)
	}
	return files
}

// resolveWorkflowPath picks the workflow definition: the -workflow flag
// wins, then the project's configured default.
func resolveWorkflowPath(opts *cliOptions) (string, error) {
	path := opts.workflowPath
	if path == "" {
		cfg, err := config.GetConfig()
		if err != nil {
			return "", err
		}
		if cfg.Project != nil {
			path = cfg.Project.DefaultWorkflow
		}
	}
	if path == "" {
		return "", fmt.Errorf("no workflow specified: pass -workflow or set project.default_workflow in config")
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(opts.projectDir, path)
	}
	return path, nil
}
