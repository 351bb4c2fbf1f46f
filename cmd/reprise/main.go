// Package main provides the Reprise CLI: record browser workflows, validate
// recordings against the live site, execute runs, and poll schedules.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/entrhq/reprise/pkg/capture"
	"github.com/entrhq/reprise/pkg/config"
	"github.com/entrhq/reprise/pkg/logic"
	"github.com/entrhq/reprise/pkg/page"
	"github.com/entrhq/reprise/pkg/replay"
	"github.com/entrhq/reprise/pkg/runner"
	"github.com/entrhq/reprise/pkg/schedule"
	"github.com/entrhq/reprise/pkg/scope"
	"github.com/entrhq/reprise/pkg/store"
	"github.com/entrhq/reprise/pkg/types"
	"github.com/entrhq/reprise/pkg/vault"
)

const version = "0.1.0"

const usage = `Usage: reprise [flags] <command>

Commands:
  record    record a workflow by interacting with the browser
  replay    validate a recording step by step against the live site
  run       execute a workflow end to end
  schedule  poll schedules and dispatch due runs

Flags:
  -config path   YAML configuration file (defaults apply when omitted)
  -version       print the version and exit
`

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if *showVersion {
		fmt.Printf("Reprise v%s\n", version)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	switch args[0] {
	case "record":
		err = runRecord(ctx, cfg, args[1:])
	case "replay":
		err = runReplay(ctx, cfg, args[1:])
	case "run":
		err = runExecute(ctx, cfg, args[1:])
	case "schedule":
		err = runSchedule(ctx, cfg, args[1:])
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", args[0], err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

// newManager starts the browser runtime configured for this invocation.
func newManager(cfg *config.Config) (*page.Manager, error) {
	manager := page.NewManager()
	if err := manager.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	if cfg.Browser.MaxPages > 0 {
		manager.SetMaxPages(cfg.Browser.MaxPages)
	}
	return manager, nil
}

func pageOptions(cfg *config.Config) page.Options {
	return page.Options{
		Headless:       cfg.Browser.Headless,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		DefaultTimeout: cfg.Browser.NavigationTimeout.Std(),
	}
}

// loadWorkflow reads a workflow definition from a JSON file.
func loadWorkflow(path string) (*types.Workflow, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}
	var wf types.Workflow
	if err := json.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("failed to parse workflow file: %w", err)
	}
	if wf.ID == "" {
		return nil, fmt.Errorf("workflow file %s has no id", path)
	}
	return &wf, nil
}

func runRecord(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("record", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "workflow definition JSON file")
	out := fs.String("out", "actions.json", "file the recorded actions are written to")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowPath == "" {
		return fmt.Errorf("record requires -workflow")
	}
	wf, err := loadWorkflow(*workflowPath)
	if err != nil {
		return err
	}
	if wf.StartURL == "" {
		return fmt.Errorf("workflow %s has no startUrl to record from", wf.ID)
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	opts := pageOptions(cfg)
	opts.Headless = false // recording needs a visible browser
	pg, err := manager.NewPage(opts)
	if err != nil {
		return err
	}
	defer pg.Close()

	guard, err := scope.NewGuard(wf.Scope)
	if err != nil {
		return err
	}

	engine := capture.New(pg, guard, store.NewMemoryStore(), capture.Config{
		Strategy:          types.SelectorStrategy(cfg.Capture.SelectorStrategy),
		AllowFallback:     cfg.Capture.AllowFallback,
		Screenshots:       cfg.Capture.Screenshots,
		QueueSize:         cfg.Capture.QueueSize,
		NavigationTimeout: cfg.Browser.NavigationTimeout.Std(),
	}, capture.Callbacks{
		OnRecordingPaused: func(url string) {
			fmt.Printf("Recording paused: %s is outside the workflow scope\n", url)
		},
		OnRecordingResumed: func(url string) {
			fmt.Printf("Recording resumed at %s\n", url)
		},
	})
	defer engine.Cleanup()

	if err := engine.StartCapture(ctx, wf.ID, wf.StartURL); err != nil {
		return err
	}
	fmt.Printf("Recording workflow %s. Interact with the browser; Ctrl-C to stop.\n", wf.ID)
	<-ctx.Done()

	actions, err := engine.StopCapture(context.Background())
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(actions, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		return fmt.Errorf("failed to write recording: %w", err)
	}
	fmt.Printf("Recorded %d actions to %s\n", len(actions), *out)
	return nil
}

// loadActions reads a recorded action sequence into the store.
func loadActions(ctx context.Context, st store.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read actions file: %w", err)
	}
	var actions []types.Action
	if err := json.Unmarshal(data, &actions); err != nil {
		return fmt.Errorf("failed to parse actions file: %w", err)
	}
	return st.BatchCreateActions(ctx, actions)
}

func runReplay(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("replay", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "workflow definition JSON file")
	actionsPath := fs.String("actions", "actions.json", "recorded actions JSON file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowPath == "" {
		return fmt.Errorf("replay requires -workflow")
	}
	wf, err := loadWorkflow(*workflowPath)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	if err := loadActions(ctx, st, *actionsPath); err != nil {
		return err
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	opts := pageOptions(cfg)
	opts.Headless = false // the operator watches the walkthrough
	pg, err := manager.NewPage(opts)
	if err != nil {
		return err
	}
	defer pg.Close()

	if wf.StartURL != "" {
		if err := pg.Navigate(ctx, wf.StartURL, page.NavigateOptions{}); err != nil {
			return err
		}
	}

	engine := replay.New(pg, st, cfg.Replay.StepDelay.Std())
	if err := engine.Load(ctx, wf.ID); err != nil {
		return err
	}
	results, err := engine.PlayAll(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, res := range results {
		status := "ok"
		if res.Err != nil {
			status = res.Err.Error()
			failed++
		}
		fmt.Printf("step %d (%s %s): %s\n", res.Index, res.Action.Type, res.Action.Selector, status)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d steps failed validation", failed, len(results))
	}
	fmt.Printf("All %d steps validated\n", len(results))
	return nil
}

func buildVault(cfg *config.Config, manager *page.Manager) (*vault.Vault, error) {
	key := os.Getenv(cfg.Vault.EncryptionKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("environment variable %s must hold the session encryption key", cfg.Vault.EncryptionKeyEnv)
	}
	return vault.New(manager, vault.Options{
		EncryptionKey: []byte(key),
		SessionTTL:    cfg.Vault.SessionTTL.Std(),
		PageOptions:   pageOptions(cfg),
	})
}

func runExecute(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	workflowPath := fs.String("workflow", "", "workflow definition JSON file")
	actionsPath := fs.String("actions", "actions.json", "recorded actions JSON file")
	varFlags := fs.String("vars", "", "comma-separated name=value variable overrides")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *workflowPath == "" {
		return fmt.Errorf("run requires -workflow")
	}
	wf, err := loadWorkflow(*workflowPath)
	if err != nil {
		return err
	}

	st := store.NewMemoryStore()
	if err := loadActions(ctx, st, *actionsPath); err != nil {
		return err
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	var auth runner.AuthProvider
	if wf.RequiresLogin {
		v, err := buildVault(cfg, manager)
		if err != nil {
			return err
		}
		defer v.Cleanup()
		auth = v
	}

	orch := runner.New(auth, manager, st, runner.Options{
		ActionTimeout: cfg.Runner.StepTimeout.Std(),
		StreamBuffer:  cfg.Runner.StreamBuffer,
		PageOptions:   pageOptions(cfg),
	})

	spec := &logic.Spec{DefaultMaxRetries: cfg.Runner.DefaultMaxRetries}
	run, err := orch.Execute(ctx, *wf, spec, parseVars(*varFlags))
	if run != nil {
		for _, entry := range run.Logs {
			fmt.Printf("[%s] %s\n", entry.Level, entry.Message)
		}
		fmt.Printf("Run %s finished: %s\n", run.ID, run.Status)
	}
	return err
}

func runSchedule(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("schedule", flag.ExitOnError)
	schedulesPath := fs.String("schedules", "", "schedules JSON file")
	workflowDir := fs.String("workflows", ".", "directory of workflow definition JSON files, named <workflowId>.json")
	actionsDir := fs.String("actions", ".", "directory of recorded actions files, named <workflowId>.actions.json")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *schedulesPath == "" {
		return fmt.Errorf("schedule requires -schedules")
	}

	data, err := os.ReadFile(*schedulesPath)
	if err != nil {
		return fmt.Errorf("failed to read schedules file: %w", err)
	}
	var schedules []types.Schedule
	if err := json.Unmarshal(data, &schedules); err != nil {
		return fmt.Errorf("failed to parse schedules file: %w", err)
	}

	st := store.NewMemoryStore()
	for _, sched := range schedules {
		if err := schedule.ValidateCronExpression(sched.CronExpression); err != nil {
			return fmt.Errorf("schedule %s: %w", sched.ID, err)
		}
		if err := st.CreateSchedule(ctx, sched); err != nil {
			return err
		}
		if next := schedule.NextRunTime(sched.CronExpression, sched.Timezone); next != nil {
			fmt.Printf("schedule %s next fires at %s\n", sched.ID, next)
		}
	}

	manager, err := newManager(cfg)
	if err != nil {
		return err
	}
	defer manager.Shutdown()

	v, err := buildVault(cfg, manager)
	if err != nil {
		return err
	}
	defer v.Cleanup()

	orch := runner.New(v, manager, st, runner.Options{
		ActionTimeout: cfg.Runner.StepTimeout.Std(),
		StreamBuffer:  cfg.Runner.StreamBuffer,
		PageOptions:   pageOptions(cfg),
	})

	dispatcher := schedule.DispatcherFunc(func(ctx context.Context, sched types.Schedule) error {
		wf, err := loadWorkflow(filepath.Join(*workflowDir, sched.WorkflowID+".json"))
		if err != nil {
			return err
		}
		existing, err := st.ActionsByWorkflow(ctx, wf.ID)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			if err := loadActions(ctx, st, filepath.Join(*actionsDir, sched.WorkflowID+".actions.json")); err != nil {
				return err
			}
		}
		spec := &logic.Spec{DefaultMaxRetries: cfg.Runner.DefaultMaxRetries}
		run, err := orch.Execute(ctx, *wf, spec, sched.Variables)
		if run != nil {
			fmt.Printf("scheduled run %s for workflow %s finished: %s\n", run.ID, wf.ID, run.Status)
		}
		return err
	})

	sched := schedule.NewScheduler(st, dispatcher, cfg.Scheduler.PollInterval.Std())
	sched.Start(ctx)
	fmt.Printf("Scheduler polling every %s. Ctrl-C to stop.\n", cfg.Scheduler.PollInterval.Std())
	<-ctx.Done()
	sched.Stop()
	return nil
}

// parseVars turns "a=1,b=2" into variable overrides.
func parseVars(raw string) []types.Variable {
	if raw == "" {
		return nil
	}
	var vars []types.Variable
	for _, pair := range strings.Split(raw, ",") {
		name, value, ok := strings.Cut(pair, "=")
		if !ok || name == "" {
			continue
		}
		vars = append(vars, types.Variable{Name: name, Value: value})
	}
	return vars
}
