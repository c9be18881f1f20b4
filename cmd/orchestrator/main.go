package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/complyflow/orchestrator"
	"github.com/complyflow/orchestrator/breaker"
	"github.com/complyflow/orchestrator/handlers"
	"github.com/complyflow/orchestrator/stream"
)

// CLI configuration
type Config struct {
	GraphFile   string
	Inputs      map[string]any
	ThreadID    string
	DataDir     string
	Timeout     time.Duration
	MaxRetries  int
	Verbose     bool
	JSON        bool
	Stream      bool
	ListThreads bool
	ShowOutputs bool
}

func main() {
	config := parseFlags()

	logger := setupLogger(config.Verbose)
	store := setupStore(config)

	if config.ListThreads {
		listThreads(store)
		return
	}

	if config.GraphFile == "" {
		color.Red("Error: graph file is required")
		flag.Usage()
		os.Exit(1)
	}
	if _, err := os.Stat(config.GraphFile); os.IsNotExist(err) {
		color.Red("Error: graph file '%s' not found", config.GraphFile)
		os.Exit(1)
	}

	color.Blue("Loading graph from: %s", config.GraphFile)
	graph, err := orchestrator.LoadFile(config.GraphFile)
	if err != nil {
		log.Fatalf("Failed to load graph: %v", err)
	}
	color.Cyan("Graph: %s", graph.Name())
	if graph.Description() != "" {
		color.White("Description: %s", graph.Description())
	}

	engine, err := orchestrator.NewEngine(orchestrator.EngineOptions{
		Graph:      graph,
		Handlers:   registryList(handlers.Builtins()),
		Store:      store,
		Tracker:    breaker.NewTracker(breaker.DefaultConfig()),
		Logger:     logger,
		MaxRetries: config.MaxRetries,
	})
	if err != nil {
		log.Fatalf("Failed to create engine: %v", err)
	}

	ctx := context.Background()
	if config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.Timeout)
		defer cancel()
		color.Yellow("Timeout: %v", config.Timeout)
	}

	threadID := config.ThreadID
	if threadID == "" {
		threadID = orchestrator.NewThreadID()
	}
	color.Green("Starting run (thread: %s)...\n", threadID)

	startTime := time.Now()
	if config.Stream {
		err = runStreaming(ctx, engine, logger, threadID, config)
	} else {
		err = runSynchronous(ctx, engine, threadID, config)
	}
	duration := time.Since(startTime)

	color.White("Run finished in %v", duration)
	if err != nil {
		color.Red("Error: %v", err)
		os.Exit(1)
	}
	color.Green("Run successful!")
}

func runSynchronous(ctx context.Context, engine *orchestrator.Engine, threadID string, config *Config) error {
	state, err := engine.Run(ctx, threadID, config.Inputs)
	if err != nil {
		return err
	}
	if config.ShowOutputs {
		showOutputs(state.ToolOutputs(), config.JSON)
	}
	return nil
}

func runStreaming(ctx context.Context, engine *orchestrator.Engine, logger *slog.Logger, threadID string, config *Config) error {
	emitter := stream.NewEmitter(engine, logger)
	frames, err := emitter.Emit(ctx, threadID, config.Inputs)
	if err != nil {
		return err
	}
	for frame := range frames {
		data, err := json.Marshal(frame)
		if err != nil {
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		fmt.Println(string(data))
		if frame.Kind == stream.FrameError {
			return fmt.Errorf("run failed, see error frame")
		}
	}
	return nil
}

func listThreads(store orchestrator.CheckpointStore) {
	lister, ok := store.(interface {
		ListThreads(ctx context.Context) ([]orchestrator.ThreadSummary, error)
	})
	if !ok {
		color.Red("Error: the configured store cannot list threads")
		os.Exit(1)
	}
	summaries, err := lister.ListThreads(context.Background())
	if err != nil {
		log.Fatalf("Failed to list threads: %v", err)
	}
	if len(summaries) == 0 {
		color.Blue("No threads found")
		return
	}
	color.Blue("Threads:")
	for _, summary := range summaries {
		fmt.Printf("  %s  %-10s  step=%s  seq=%d  %s\n",
			summary.ThreadID,
			summary.Status,
			summary.CurrentStep,
			summary.Sequence,
			summary.WrittenAt.Format(time.RFC3339))
	}
}

func showOutputs(outputs map[string]any, asJSON bool) {
	if len(outputs) == 0 {
		return
	}
	fmt.Printf("\n")
	color.Magenta("Outputs:")
	if asJSON {
		data, err := json.MarshalIndent(outputs, "", "  ")
		if err != nil {
			fmt.Printf("Error formatting outputs: %v\n", err)
			return
		}
		fmt.Println(string(data))
		return
	}
	for key, value := range outputs {
		if data, err := json.Marshal(value); err == nil {
			fmt.Printf("  %s: %s\n", key, string(data))
		} else {
			fmt.Printf("  %s: %v\n", key, value)
		}
	}
}

func registryList(registry orchestrator.HandlerRegistry) []orchestrator.StepHandler {
	list := make([]orchestrator.StepHandler, 0, len(registry))
	for _, handler := range registry {
		list = append(list, handler)
	}
	return list
}

func setupLogger(verbose bool) *slog.Logger {
	if verbose {
		return orchestrator.NewLogger()
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func setupStore(config *Config) orchestrator.CheckpointStore {
	if config.DataDir == "" {
		return orchestrator.NewMemoryCheckpointStore()
	}
	store, err := orchestrator.NewFileCheckpointStore(config.DataDir)
	if err != nil {
		log.Fatalf("Failed to create checkpoint store: %v", err)
	}
	color.Blue("Checkpoints: %s", config.DataDir)
	return store
}

func parseFlags() *Config {
	config := &Config{
		Inputs: make(map[string]any),
	}

	flag.StringVar(&config.GraphFile, "file", "", "Path to the YAML graph definition file (required)")
	flag.StringVar(&config.GraphFile, "f", "", "Path to the YAML graph definition file (shorthand)")

	var inputFlags stringSlice
	flag.Var(&inputFlags, "input", "Input parameter in format key=value (can be used multiple times)")
	flag.Var(&inputFlags, "i", "Input parameter in format key=value (shorthand, can be used multiple times)")

	flag.StringVar(&config.ThreadID, "thread", "", "Thread ID to resume (optional; a new ID is generated when empty)")
	flag.StringVar(&config.DataDir, "checkpoints", "", "Directory for durable checkpoints (optional; in-memory when empty)")
	flag.StringVar(&config.DataDir, "c", "", "Directory for durable checkpoints (shorthand)")

	flag.DurationVar(&config.Timeout, "timeout", 0, "Run timeout (e.g., 30s, 5m, 1h)")
	flag.DurationVar(&config.Timeout, "t", 0, "Run timeout (shorthand)")
	flag.IntVar(&config.MaxRetries, "max-retries", 0, "Maximum recovery attempts per run (0 uses the default)")

	flag.BoolVar(&config.Verbose, "verbose", false, "Enable verbose logging")
	flag.BoolVar(&config.Verbose, "v", false, "Enable verbose logging (shorthand)")

	flag.BoolVar(&config.JSON, "json", false, "Output results in JSON format")
	flag.BoolVar(&config.Stream, "stream", false, "Stream frames as the run progresses")
	flag.BoolVar(&config.ListThreads, "list", false, "List checkpointed threads and exit")
	flag.BoolVar(&config.ShowOutputs, "show-outputs", true, "Show step outputs after the run")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Orchestrator CLI - Execute YAML-defined workflow graphs

Usage: %s [options] -file <graph.yaml>

Examples:
  # Execute a graph
  %s -file example.yaml

  # Execute with inputs and durable checkpoints
  %s -file graph.yaml -input topic=gdpr -checkpoints ./threads

  # Resume a checkpointed thread
  %s -file graph.yaml -checkpoints ./threads -thread thread_01h2xcejqtf2nbrexx3vqjhp41

  # Stream frames as they are produced
  %s -file graph.yaml -stream

Options:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
		flag.PrintDefaults()

		fmt.Fprintf(os.Stderr, `
Built-in Handlers:
  print  - Print a message to the console
  script - Evaluate a Risor expression against run state
  time   - Report the current time
  wait   - Pause for a duration
  fail   - Intentionally fail, for exercising retry and fallback paths

Input Format:
  Use -input key=value for each input parameter.
  Values are parsed as JSON if possible, otherwise as strings.

`)
	}

	flag.Parse()

	for _, input := range inputFlags {
		parts := strings.SplitN(input, "=", 2)
		if len(parts) != 2 {
			fmt.Fprintf(os.Stderr, "Error: invalid input format '%s'. Use key=value\n", input)
			os.Exit(1)
		}
		key, value := parts[0], parts[1]
		var parsed any
		if err := json.Unmarshal([]byte(value), &parsed); err != nil {
			parsed = value
		}
		config.Inputs[key] = parsed
	}
	return config
}

// Custom flag type for handling multiple input values
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}
