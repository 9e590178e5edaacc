package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"copydesk/internal/api"
	"copydesk/internal/cms"
	"copydesk/internal/config"
	"copydesk/internal/docstore"
	"copydesk/internal/llm"
	"copydesk/internal/logging"
	"copydesk/internal/metrics"
	"copydesk/internal/optimizer"
	"copydesk/internal/parser"
	"copydesk/internal/prompt"
	"copydesk/internal/proofread"
	"copydesk/internal/publish"
	"copydesk/internal/store"
	"copydesk/internal/tui"
	"copydesk/internal/types"
	"copydesk/internal/vault"
	"copydesk/internal/worklist"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"
)

var (
	// Global flags
	cfgPath string
	verbose bool

	// Loaded once in PersistentPreRunE; every command reads from here.
	cfg *config.Config

	// logger carries CLI-facing operational messages. Pipeline packages
	// write to their own category logs under cfg.Logging.Directory.
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "copydesk",
	Short: "copydesk - article pipeline from document store to CMS draft",
	Long: `copydesk pulls articles out of a shared document folder, parses and
optimizes them with model assistance, walks them through proofreading
review, and publishes approved drafts into the CMS.

The sync loop, stage workers and operator API all run under
'copydesk serve'. The remaining commands are operator tools that work
against the same database.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return err
		}

		// The watch board owns the terminal; zap output would draw over it.
		if cmd.Name() != "watch" {
			zc := zap.NewProductionConfig()
			if verbose {
				zc.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			logger, err = zc.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
		}

		level := cfg.Logging.Level
		if verbose {
			level = "debug"
		}
		if err := logging.Initialize(logging.Options{
			Dir:        cfg.Logging.Directory,
			Level:      level,
			JSONFormat: cfg.Logging.JSONFormat,
			Categories: cfg.Logging.Categories,
		}); err != nil {
			return err
		}
		if err := logging.InitAudit(); err != nil {
			return err
		}

		if cfg.LLM.PromptDir != "" {
			if err := prompt.Get().LoadDirectory(cfg.LLM.PromptDir); err != nil {
				return fmt.Errorf("prompt overrides: %w", err)
			}
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
		logging.CloseAll()
	},
}

// serveCmd runs the full pipeline daemon
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync loop, stage workers and operator API",
	Long: `Runs the whole pipeline in one process: the document sync loop,
parse/proofread/publish worker pools, the rule quality report builder,
the screenshot retention sweeper and the HTTP operator API.

Recovery runs first. Publish tasks stranded by a previous process are
adopted or settled, and items parked in working lanes are re-queued.`,
	RunE: runServe,
}

// syncCmd runs the pipeline headless, or a single import pass
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run the pipeline without the HTTP API",
	Long: `Without flags this behaves like 'serve' minus the operator API: the
sync loop and stage workers run until interrupted. Useful when the API
is served elsewhere or not wanted.

With --once a single synchronization pass runs and the command exits
after reporting what changed. Parse work queued by the pass is picked
up the next time workers run.`,
	RunE: runSync,
}

// publishCmd publishes one item and waits for the outcome
var publishCmd = &cobra.Command{
	Use:   "publish [item-id]",
	Short: "Publish one ready item and wait for the outcome",
	Long: `Triggers a publish for an item in ready_to_publish and blocks until
the task settles. The item moves through the same lanes the daemon
uses, so anything visible here matches what the API would show.

If the wait deadline passes before the task settles, the task keeps
its database row; the next 'copydesk serve' adopts and finishes it.`,
	Args: cobra.ExactArgs(1),
	RunE: runPublish,
}

// rulesCmd groups ruleset operations
var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect and publish proofreading rulesets",
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rulesets with their status and generation",
	RunE:  runRulesList,
}

var rulesPublishCmd = &cobra.Command{
	Use:   "publish [ruleset-id]",
	Short: "Validate and publish a ruleset draft",
	Long: `Promotes a draft to the active generation. Every rule is validated
first; publication is refused while any pattern fails to compile.
Items already past proofreading keep the generation they were checked
against.`,
	Args: cobra.ExactArgs(1),
	RunE: runRulesPublish,
}

var rulesReportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print the rule quality report",
	Long: `Prints the acceptance statistics per rule for the active generation.
The report reads from the latest materialized snapshot; --rebuild
recomputes it from the decision history first.`,
	RunE: runRulesReport,
}

// watchCmd opens the terminal worklist board
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live worklist board in the terminal",
	Long: `Shows lane counts and the most recent items, refreshed on an
interval. The board is read-only; press r to view the rule quality
report, q to quit.`,
	RunE: runWatch,
}

// configCmd groups configuration helpers
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration scaffolding and inspection",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file and CMS selector map",
	RunE:  runConfigInit,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long: `Prints the configuration after file and environment merging, with
secret fields blanked. What you see is what every subcommand runs
with.`,
	RunE: runConfigShow,
}

var configPromptsCmd = &cobra.Command{
	Use:   "prompts",
	Short: "List the prompt templates in effect",
	Long: `Lists every registered prompt template, embedded defaults plus any
overrides loaded from llm.prompt_dir.`,
	RunE: runConfigPrompts,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultPath(), "Config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")

	syncCmd.Flags().Bool("once", false, "Run a single synchronization pass and exit")

	publishCmd.Flags().String("provider", "", "Publish provider (playwright, computer_use, hybrid); empty uses the configured default")
	publishCmd.Flags().String("as", "operator", "Actor recorded in the audit trail")
	publishCmd.Flags().Duration("wait", 0, "Give up waiting after this long (0 waits until the task settles)")

	rulesPublishCmd.Flags().String("as", "operator", "Actor recorded as the ruleset publisher")
	rulesReportCmd.Flags().Bool("rebuild", false, "Recompute the report from decision history first")
	rulesReportCmd.Flags().Bool("render", false, "Render the markdown for the terminal")

	watchCmd.Flags().Duration("refresh", 5*time.Second, "Board refresh interval")

	configInitCmd.Flags().Bool("force", false, "Overwrite an existing config file")

	// Subcommand groups
	rulesCmd.AddCommand(rulesListCmd)
	rulesCmd.AddCommand(rulesPublishCmd)
	rulesCmd.AddCommand(rulesReportCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configPromptsCmd)

	// Add commands to root
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		if logger != nil {
			logger.Info("Received shutdown signal")
		}
		cancel()
	}()
	return ctx, cancel
}

// pipeline bundles the long-lived components behind serve, sync and
// publish. Close releases them in reverse dependency order.
type pipeline struct {
	store     *store.Store
	vault     *vault.Vault
	metrics   *metrics.Metrics
	docs      docstore.Client
	selectors *cms.Watcher
	shots     publish.ShotStore
	proof     *proofread.Service
	pub       *publish.Manager
	ops       *worklist.Orchestrator
	server    *api.Server
}

// buildPipeline wires every component from the loaded configuration.
// The database schema migrates here when database.migrate_on_up is set.
func buildPipeline(ctx context.Context) (*pipeline, error) {
	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	vlt, err := vault.New(cfg)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("opening credential vault: %w", err)
	}

	client, err := llm.NewGemini(ctx, cfg)
	if err != nil {
		vlt.Close()
		st.Close()
		return nil, err
	}

	docs, err := docstore.New(cfg)
	if err != nil {
		vlt.Close()
		st.Close()
		return nil, fmt.Errorf("opening document store: %w", err)
	}

	selectors, err := cms.NewWatcher(cfg.Publisher.CMS.SelectorFile)
	if err != nil {
		vlt.Close()
		st.Close()
		return nil, fmt.Errorf("loading CMS selector map ('copydesk config init' scaffolds one): %w", err)
	}

	m := metrics.New()
	shots, err := publish.NewShotStore(cfg, m)
	if err != nil {
		vlt.Close()
		st.Close()
		return nil, fmt.Errorf("opening screenshot store: %w", err)
	}

	pub := publish.NewManager(cfg, st, vlt, client, selectors.Current, shots, m)
	proof := proofread.NewService(cfg, st, m)
	prs := parser.New(cfg, client, m)
	opt := optimizer.New(cfg, client, st.Articles, st.Costs, m)
	ops := worklist.New(cfg, st, docs, prs, opt, proof, pub, m)
	server := api.NewServer(cfg, st, ops, proof, vlt, docs, m)

	return &pipeline{
		store:     st,
		vault:     vlt,
		metrics:   m,
		docs:      docs,
		selectors: selectors,
		shots:     shots,
		proof:     proof,
		pub:       pub,
		ops:       ops,
		server:    server,
	}, nil
}

func (p *pipeline) Close() {
	p.vault.Close()
	p.store.Close()
}

// runDaemon recovers stranded work, then runs the worker pools, the
// sync and report loops and the screenshot sweeper until ctx ends. The
// API server joins only for serve.
func runDaemon(ctx context.Context, p *pipeline, withAPI bool) error {
	if err := p.ops.Recover(ctx); err != nil {
		return fmt.Errorf("recovering stranded work: %w", err)
	}

	if err := p.selectors.Start(ctx); err != nil {
		return fmt.Errorf("watching selector map: %w", err)
	}
	defer p.selectors.Stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.ops.Start(ctx) })
	g.Go(func() error {
		publish.SweepLoop(ctx, p.shots, cfg.Storage.Screenshots.RetentionDays)
		return nil
	})
	if withAPI {
		g.Go(func() error { return p.server.Start(ctx) })
		logger.Info("copydesk serving",
			zap.String("listen", cfg.API.ListenAddr),
			zap.String("docstore", cfg.DocumentStore.Backend),
			zap.String("provider", cfg.Publisher.Provider))
	} else {
		logger.Info("copydesk processing without API",
			zap.String("docstore", cfg.DocumentStore.Backend))
	}

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	return runDaemon(ctx, p, true)
}

func runSync(cmd *cobra.Command, args []string) error {
	once, _ := cmd.Flags().GetBool("once")

	ctx, cancel := signalContext()
	defer cancel()

	if once {
		// Closed intake lanes: a zero-worker queue rejects dispatch, so
		// the pass records documents without moving items into lanes
		// nothing in this process would drain.
		oneShot := *cfg
		oneShot.Orchestrator.Workers = config.WorkerPoolConfig{}
		cfg = &oneShot
	}

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if !once {
		return runDaemon(ctx, p, false)
	}

	stats, err := p.ops.SyncOnce(ctx)
	if err != nil {
		return fmt.Errorf("sync pass: %w", err)
	}
	if stats == nil {
		fmt.Println("Sync skipped: another process holds the sync lock.")
		return nil
	}
	fmt.Printf("Sync pass complete: %d created, %d updated, %d deferred at review gates, %d unchanged, %d failed\n",
		stats.Created, stats.Updated, stats.Deferred, stats.Skipped, stats.Failed)
	if stats.Created > 0 || stats.Updated > 0 {
		fmt.Println("New work is parsed once 'copydesk serve' runs.")
	}
	return nil
}

func runPublish(cmd *cobra.Command, args []string) error {
	itemID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || itemID <= 0 {
		return fmt.Errorf("item id must be a positive integer, got %q", args[0])
	}
	providerFlag, _ := cmd.Flags().GetString("provider")
	actor, _ := cmd.Flags().GetString("as")
	wait, _ := cmd.Flags().GetDuration("wait")

	provider := types.Provider(providerFlag)
	if providerFlag != "" && !types.ValidProvider(provider) {
		return fmt.Errorf("unknown provider %q (playwright, computer_use, hybrid)", providerFlag)
	}

	ctx, cancel := signalContext()
	defer cancel()

	// One publish worker and closed intake lanes: the sync pass that
	// runs at startup cannot hand parse work to a process that exits
	// after this one item.
	oneShot := *cfg
	oneShot.Orchestrator.Workers = config.WorkerPoolConfig{Publish: 1}
	cfg = &oneShot

	p, err := buildPipeline(ctx)
	if err != nil {
		return err
	}
	defer p.Close()

	if err := p.selectors.Start(ctx); err != nil {
		return fmt.Errorf("watching selector map: %w", err)
	}
	defer p.selectors.Stop()

	// The worker runs for the duration of this one publish. Going
	// through the normal dispatch path keeps lane semantics identical
	// to the daemon's.
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var g errgroup.Group
	g.Go(func() error { return p.ops.Start(workerCtx) })
	defer func() {
		stopWorkers()
		_ = g.Wait()
	}()

	task, err := p.ops.TriggerPublish(ctx, itemID, provider, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Publish task %d started for item %d via %s\n", task.ID, itemID, task.Provider)

	settled, err := waitForPublish(ctx, p.store, itemID, task.ID, wait)
	if err != nil {
		return err
	}

	switch settled.Status {
	case types.TaskCompleted:
		fmt.Printf("Published: %s (CMS article %s, %d retries, $%.4f)\n",
			settled.PublishedURL, settled.CMSArticleID, settled.RetryCount, settled.CostUSD)
		return nil
	case types.TaskCancelled:
		return fmt.Errorf("publish task %d was cancelled", settled.ID)
	default:
		return fmt.Errorf("publish task %d failed after %d retries: %s", settled.ID, settled.RetryCount, settled.ErrorMessage)
	}
}

// waitForPublish polls until the item leaves the publishing lane, then
// returns the settled task. A zero wait polls until ctx ends.
func waitForPublish(ctx context.Context, st *store.Store, itemID, taskID int64, wait time.Duration) (*types.PublishTask, error) {
	var deadline time.Time
	if wait > 0 {
		deadline = time.Now().Add(wait)
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("interrupted; task %d keeps running in its database row and the next 'copydesk serve' settles it", taskID)
		case <-ticker.C:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return nil, fmt.Errorf("still publishing after %s; task %d is settled by the next 'copydesk serve'", wait, taskID)
		}

		item, err := st.Items.Get(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("polling item %d: %w", itemID, err)
		}
		if item.Status == types.StatusPublishing {
			continue
		}
		return st.Tasks.Get(ctx, taskID)
	}
}

func runRulesList(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	sets, err := st.Rules.List(ctx)
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		fmt.Println("No rulesets yet. Create a draft via the API: POST /api/v1/rulesets")
		return nil
	}

	fmt.Printf("%-5s %-10s %-11s %-20s %s\n", "ID", "STATUS", "GENERATION", "PUBLISHED", "BY")
	for _, rs := range sets {
		published := "-"
		if rs.PublishedAt != nil {
			published = rs.PublishedAt.UTC().Format("2006-01-02 15:04")
		}
		gen := "-"
		if rs.Generation > 0 {
			gen = strconv.Itoa(rs.Generation)
		}
		fmt.Printf("%-5d %-10s %-11s %-20s %s\n", rs.ID, rs.Status, gen, published, rs.Publisher)
	}
	return nil
}

func runRulesPublish(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return fmt.Errorf("ruleset id must be a positive integer, got %q", args[0])
	}
	actor, _ := cmd.Flags().GetString("as")

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	svc := proofread.NewService(cfg, st, metrics.New())
	rs, err := svc.PublishRuleset(ctx, id, actor)
	if err != nil {
		return err
	}
	fmt.Printf("Ruleset %d published as generation %d by %s\n", rs.ID, rs.Generation, actor)
	return nil
}

func runRulesReport(cmd *cobra.Command, args []string) error {
	rebuild, _ := cmd.Flags().GetBool("rebuild")
	render, _ := cmd.Flags().GetBool("render")

	ctx, cancel := signalContext()
	defer cancel()

	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	svc := proofread.NewService(cfg, st, metrics.New())

	var report *proofread.QualityReport
	if rebuild {
		report, err = svc.BuildQualityReport(ctx)
	} else {
		report, err = svc.LatestQualityReport(ctx)
		if errors.Is(err, types.ErrNotFound) {
			fmt.Println("No report materialized yet; use --rebuild to compute one.")
			return nil
		}
	}
	if err != nil {
		return err
	}

	md := report.Markdown()
	if !render {
		fmt.Print(md)
		return nil
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return fmt.Errorf("building renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return fmt.Errorf("rendering report: %w", err)
	}
	fmt.Print(out)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	refresh, _ := cmd.Flags().GetDuration("refresh")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer st.Close()

	svc := proofread.NewService(cfg, st, metrics.New())
	model := tui.New(st.Items, svc, refresh)

	_, err = tea.NewProgram(model, tea.WithAltScreen()).Run()
	return err
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")

	if _, err := os.Stat(cfgPath); err == nil && !force {
		return fmt.Errorf("%s already exists; use --force to overwrite", cfgPath)
	}

	if err := config.DefaultConfig().Save(cfgPath); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", cfgPath)

	selPath := cfg.Publisher.CMS.SelectorFile
	if err := cms.WriteDefault(selPath); err != nil {
		fmt.Printf("Selector map: %v\n", err)
	} else {
		fmt.Printf("Wrote %s\n", selPath)
	}

	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Set COPYDESK_DATABASE_URL or database.url")
	fmt.Println("  2. Set GEMINI_API_KEY")
	fmt.Println("  3. Put cms_username/cms_password into the credential backend")
	fmt.Println("  4. copydesk serve")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	// Same blanking as Save: secrets stay out of terminals and pastes.
	out := *cfg
	out.LLM.APIKey = ""
	out.API.AuthToken = ""

	data, err := yaml.Marshal(&out)
	if err != nil {
		return err
	}
	fmt.Printf("# effective configuration (%s + environment)\n", cfgPath)
	fmt.Print(string(data))
	return nil
}

func runConfigPrompts(cmd *cobra.Command, args []string) error {
	reg := prompt.Get()
	ids := reg.IDs()
	sort.Strings(ids)
	for _, id := range ids {
		t, err := reg.Lookup(id)
		if err != nil {
			return err
		}
		fmt.Printf("%-24s %s\n", id, t.Description)
	}
	if cfg.LLM.PromptDir == "" {
		fmt.Println()
		fmt.Println("Set llm.prompt_dir to overlay any of these from *.yaml files.")
	}
	return nil
}
