// FinOps CLI - AWS cost ingestion, forecasting and analysis
//
// Usage:
//   finops init-db
//   finops ingest --start 2026-08-01 --end 2026-08-30
//   finops summary [--user alice]
//   finops forecast --days 30 [--backend local]
//   finops recommend [--backend hosted-A]
//   finops ask "which service grew the most last week?"
//   finops serve --port 8080
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"

	"cloud-finops/api"
	"cloud-finops/db/clickhouse"
	"cloud-finops/internal/analysis"
	"cloud-finops/internal/billing"
	"cloud-finops/internal/forecast"
	"cloud-finops/internal/llm"
	"cloud-finops/internal/recommend"
	"cloud-finops/internal/store"
	"cloud-finops/pkg/config"
	"cloud-finops/pkg/focus"
	"cloud-finops/pkg/model"
	"cloud-finops/pkg/platform"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "finops",
		Usage:   "AWS cost analytics - ingestion, forecasting, recommendations and natural-language analysis",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),

		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"FINOPS_LOG_LEVEL"},
			},
		},

		Commands: []*cli.Command{
			initDBCommand(),
			ingestCommand(),
			summaryCommand(),
			forecastCommand(),
			recommendCommand(),
			insightsCommand(),
			askCommand(),
			settingsCommand(),
			exportCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// env wires configuration, logging and the Postgres store for one
// command invocation.
type env struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *store.Postgres
}

func setup(c *cli.Context) (*env, error) {
	logger := platform.InitLogger(c.String("log-level"))

	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pg, err := store.NewPostgres(cfg.Postgres, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	return &env{cfg: cfg, logger: logger, store: pg}, nil
}

func (e *env) close() {
	e.store.Close()
}

// openMirror returns the analytics mirror when enabled, nil otherwise.
// A mirror connection failure is logged, not fatal.
func (e *env) openMirror() *clickhouse.Store {
	if !e.cfg.ClickHouse.Enabled {
		return nil
	}
	mirror, err := clickhouse.NewStore(e.cfg.ClickHouse)
	if err != nil {
		e.logger.Warn().Err(err).Msg("analytics mirror unavailable")
		return nil
	}
	return mirror
}

// =============================================================================
// INIT-DB COMMAND
// =============================================================================

func initDBCommand() *cli.Command {
	return &cli.Command{
		Name:  "init-db",
		Usage: "Create the cost schema and tables",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			defer e.close()

			ctx := context.Background()
			if err := e.store.EnsureSchema(ctx); err != nil {
				return fmt.Errorf("failed to initialize schema: %w", err)
			}
			if mirror := e.openMirror(); mirror != nil {
				defer mirror.Close()
				if err := mirror.EnsureSchema(ctx); err != nil {
					return fmt.Errorf("failed to initialize analytics schema: %w", err)
				}
			}
			fmt.Println("✅ Database schema ready")
			return nil
		},
	}
}

// =============================================================================
// INGEST COMMAND
// =============================================================================

func ingestCommand() *cli.Command {
	return &cli.Command{
		Name:  "ingest",
		Usage: "Pull cost and usage data from AWS Cost Explorer into the store",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "start",
				Usage: "Start date (YYYY-MM-DD), default 30 days ago",
			},
			&cli.StringFlag{
				Name:  "end",
				Usage: "End date (YYYY-MM-DD), default today",
			},
			&cli.StringFlag{
				Name:  "granularity",
				Value: string(model.GranularityDaily),
				Usage: "Granularity (daily, monthly)",
			},
			&cli.StringSliceFlag{
				Name:  "dimension",
				Usage: "Grouping dimension (SERVICE, REGION, USAGE_TYPE); repeatable, max 2",
			},
		},
		Action: runIngest,
	}
}

func runIngest(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	start, end, err := resolveWindow(c.String("start"), c.String("end"))
	if err != nil {
		return err
	}

	dims := []model.Dimension{model.DimensionService, model.DimensionRegion}
	if raw := c.StringSlice("dimension"); len(raw) > 0 {
		dims = dims[:0]
		for _, d := range raw {
			dims = append(dims, model.Dimension(d))
		}
	}

	ctx := context.Background()
	biller, err := billing.NewClient(ctx, e.cfg.AWS, e.logger)
	if err != nil {
		return err
	}

	records, err := biller.FetchByDimension(ctx, start, end, model.Granularity(c.String("granularity")), dims)
	if err != nil {
		return fmt.Errorf("failed to fetch cost data: %w", err)
	}

	if err := e.store.InsertCostRecords(ctx, records); err != nil {
		return fmt.Errorf("failed to persist cost records: %w", err)
	}

	if mirror := e.openMirror(); mirror != nil {
		defer mirror.Close()
		if err := mirror.MirrorCostRecords(ctx, records); err != nil {
			e.logger.Warn().Err(err).Msg("analytics mirror write failed")
		}
	}

	fmt.Printf("✅ Ingested %d cost records (%s to %s)\n",
		len(records), start.Format("2006-01-02"), end.Format("2006-01-02"))
	return nil
}

// =============================================================================
// SUMMARY COMMAND
// =============================================================================

func summaryCommand() *cli.Command {
	return &cli.Command{
		Name:  "summary",
		Usage: "Show spend by service and by day for a window",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "start", Usage: "Start date (YYYY-MM-DD), default 30 days ago"},
			&cli.StringFlag{Name: "end", Usage: "End date (YYYY-MM-DD), default today"},
			&cli.StringFlag{Name: "user", Usage: "Evaluate this user's budget alert against the total"},
			&cli.StringFlag{Name: "format", Value: "table", Usage: "Output format (table, json)"},
		},
		Action: runSummary,
	}
}

func runSummary(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	start, end, err := resolveWindow(c.String("start"), c.String("end"))
	if err != nil {
		return err
	}

	ctx := context.Background()
	byService := e.store.SumCostByService(ctx, start, end)
	byDay := e.store.SumCostByDay(ctx, start, end)
	total := model.SumServiceTotals(byService)

	if c.String("format") == "json" {
		return printJSON(map[string]any{
			"by_service": byService,
			"by_day":     byDay,
			"total_cost": total.StringFixed(2),
		})
	}

	fmt.Printf("\nCost summary %s to %s\n\n", start.Format("2006-01-02"), end.Format("2006-01-02"))
	fmt.Printf("%-40s %15s\n", "SERVICE", "COST")
	for _, t := range byService {
		fmt.Printf("%-40s %15s\n", t.ServiceName, t.TotalCost.StringFixed(2))
	}
	fmt.Printf("%-40s %15s\n", "TOTAL", total.StringFixed(2))

	if user := c.String("user"); user != "" {
		settings, err := e.store.GetSettings(ctx, user)
		if err != nil {
			return fmt.Errorf("failed to load settings: %w", err)
		}
		if settings != nil && settings.BudgetAlerts != nil && settings.BudgetAlerts.Enabled {
			if total.GreaterThan(settings.BudgetAlerts.Threshold) {
				fmt.Printf("\n🚨 Budget alert: total %s exceeds threshold %s\n",
					total.StringFixed(2), settings.BudgetAlerts.Threshold.StringFixed(2))
			} else {
				fmt.Printf("\n✅ Within budget threshold %s\n", settings.BudgetAlerts.Threshold.StringFixed(2))
			}
		}
	}
	return nil
}

// =============================================================================
// FORECAST COMMAND
// =============================================================================

func forecastCommand() *cli.Command {
	return &cli.Command{
		Name:  "forecast",
		Usage: "Forecast upcoming spend",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 30, Usage: "Forecast horizon in days"},
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Use a generative backend instead of the provider forecast (local, local-mini, hosted-A, hosted-B)",
			},
		},
		Action: runForecast,
	}
}

func runForecast(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	biller, err := billing.NewClient(ctx, e.cfg.AWS, e.logger)
	if err != nil {
		return err
	}
	engine := forecast.NewEngine(biller, e.store, e.cfg.AWS.AccountID, e.logger)

	if id := c.String("backend"); id != "" {
		backend, err := llm.Open(id, e.cfg, e.logger)
		if err != nil {
			return err
		}
		narrative, err := engine.Generative(ctx, backend, c.Int("days"))
		if err != nil {
			return fmt.Errorf("forecast failed: %w", err)
		}
		fmt.Println(narrative)
		return nil
	}

	result, err := engine.Native(ctx, c.Int("days"))
	if err != nil {
		return fmt.Errorf("forecast failed: %w", err)
	}

	fmt.Printf("\nForecast, next %d days\n", c.Int("days"))
	fmt.Printf("  Total:         %s %s\n", result.Total.StringFixed(2), result.Currency)
	fmt.Printf("  Daily average: %s %s\n", result.DailyAverage.StringFixed(2), result.Currency)
	if result.ChangeApplicable {
		arrow := "▲"
		if result.PercentChange.LessThan(decimal.Zero) {
			arrow = "▼"
		}
		fmt.Printf("  vs trailing window: %s %s%%\n", arrow, result.PercentChange.StringFixed(1))
	} else {
		fmt.Println("  vs trailing window: n/a (no historical spend)")
	}
	return nil
}

// =============================================================================
// RECOMMEND COMMAND
// =============================================================================

func recommendCommand() *cli.Command {
	return &cli.Command{
		Name:  "recommend",
		Usage: "Generate cost optimization recommendations",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "backend",
				Usage: "Use a generative backend instead of the provider source",
			},
			&cli.StringFlag{Name: "format", Value: "table", Usage: "Output format (table, json)"},
		},
		Action: runRecommend,
	}
}

func runRecommend(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	biller, err := billing.NewClient(ctx, e.cfg.AWS, e.logger)
	if err != nil {
		return err
	}
	engine := recommend.NewEngine(biller, e.store, e.cfg.AWS.AccountID, e.logger)

	var recs []model.Recommendation
	if id := c.String("backend"); id != "" {
		backend, err := llm.Open(id, e.cfg, e.logger)
		if err != nil {
			return err
		}
		recs, err = engine.Generative(ctx, backend)
		if err != nil {
			return fmt.Errorf("recommendation generation failed: %w", err)
		}
	} else {
		recs, err = engine.Native(ctx)
		if err != nil {
			return fmt.Errorf("recommendation generation failed: %w", err)
		}
	}

	if c.String("format") == "json" {
		return printJSON(map[string]any{
			"recommendations":   recs,
			"potential_savings": model.TotalPotentialSavings(recs).StringFixed(2),
		})
	}

	if len(recs) == 0 {
		fmt.Println("No recommendations generated")
		return nil
	}
	fmt.Printf("\n%-25s %-25s %12s  %s\n", "SERVICE", "TYPE", "SAVINGS", "DESCRIPTION")
	for _, r := range recs {
		fmt.Printf("%-25s %-25s %12s  %s\n",
			r.ServiceName, r.RecommendationType, r.PotentialSavings.StringFixed(2), r.Description)
	}
	fmt.Printf("\nPotential monthly savings: %s\n", model.TotalPotentialSavings(recs).StringFixed(2))
	return nil
}

// =============================================================================
// INSIGHTS COMMAND
// =============================================================================

func insightsCommand() *cli.Command {
	return &cli.Command{
		Name:  "insights",
		Usage: "Summarize recent spend: current state, trends, outliers, optimizations",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 30, Usage: "Trailing window, in days"},
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Analysis backend (local, local-mini, hosted-A, hosted-B)",
				EnvVars: []string{"ANALYSIS_BACKEND"},
			},
		},
		Action: runInsights,
	}
}

func runInsights(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	backendID := c.String("backend")
	if backendID == "" {
		backendID = e.cfg.DefaultBackend
	}
	backend, err := llm.Open(backendID, e.cfg, e.logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -c.Int("days"))
	records, err := e.store.CostRecordsSince(ctx, cutoff, 0)
	if err != nil {
		return fmt.Errorf("failed to load cost records: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("no cost data in the last %d days; run ingest first", c.Int("days"))
	}

	insights, err := backend.SummarizeInsights(ctx, records)
	if err != nil {
		return err
	}
	fmt.Println(insights)
	return nil
}

// =============================================================================
// ASK COMMAND
// =============================================================================

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Ask a natural-language question about your cost data",
		ArgsUsage: "<question>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "backend",
				Usage:   "Analysis backend (local, local-mini, hosted-A, hosted-B)",
				EnvVars: []string{"ANALYSIS_BACKEND"},
			},
			&cli.StringFlag{Name: "session", Usage: "Session UUID to continue a conversation"},
			&cli.BoolFlag{Name: "show-sql", Usage: "Print the generated SQL query"},
			&cli.BoolFlag{Name: "direct", Usage: "Answer over recent records directly instead of generating SQL"},
		},
		Action: runAsk,
	}
}

func runAsk(c *cli.Context) error {
	question := c.Args().First()
	if question == "" {
		return fmt.Errorf("usage: finops ask \"<question>\"")
	}

	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	backendID := c.String("backend")
	if backendID == "" {
		backendID = e.cfg.DefaultBackend
	}
	backend, err := llm.Open(backendID, e.cfg, e.logger)
	if err != nil {
		return err
	}

	ctx := context.Background()
	var answer string
	var tokensUsed int
	if c.Bool("direct") {
		cutoff := time.Now().UTC().AddDate(0, 0, -90)
		records, err := e.store.CostRecordsSince(ctx, cutoff, 0)
		if err != nil {
			return fmt.Errorf("failed to load cost records: %w", err)
		}
		if len(records) == 0 {
			return fmt.Errorf("no cost data available; run ingest first")
		}
		answer, tokensUsed, err = llm.AnalyzeWithUsage(ctx, backend, records, question)
		if err != nil {
			return err
		}
		fmt.Println(answer)
	} else {
		chain := analysis.NewChain(e.store, e.logger)
		result, err := chain.Ask(ctx, backend, question)
		if err != nil {
			return err
		}
		if c.Bool("show-sql") && result.Query != "" {
			fmt.Printf("SQL: %s\n\n", result.Query)
		}
		if result.Empty {
			fmt.Printf("No answer: %s\n", result.Summary)
			return nil
		}
		fmt.Println(result.Summary)
		answer = result.Summary
		tokensUsed = result.TokensUsed
	}

	sessionID := uuid.New()
	if raw := c.String("session"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return fmt.Errorf("invalid session id %q: %w", raw, err)
		}
		sessionID = parsed
	}
	turn := model.ChatTurn{
		SessionID:  sessionID,
		UserQuery:  question,
		Response:   answer,
		Backend:    backendID,
		TokensUsed: tokensUsed,
	}
	if err := e.store.SaveChatTurn(ctx, turn); err != nil {
		e.logger.Warn().Err(err).Msg("failed to record chat turn")
	}
	return nil
}

// =============================================================================
// SETTINGS COMMAND
// =============================================================================

func settingsCommand() *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show or update per-user preferences",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Required: true, Usage: "User identifier"},
			&cli.StringFlag{Name: "preferred-backend", Usage: "Set the preferred analysis backend"},
			&cli.StringFlag{Name: "budget-threshold", Usage: "Set the budget alert threshold (decimal)"},
			&cli.BoolFlag{Name: "budget-enabled", Usage: "Enable or disable the budget alert"},
		},
		Action: runSettings,
	}
}

func runSettings(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	user := c.String("user")

	changed := c.IsSet("preferred-backend") || c.IsSet("budget-threshold") || c.IsSet("budget-enabled")
	if changed {
		incoming := model.UserSettings{
			UserID:           user,
			PreferredBackend: c.String("preferred-backend"),
		}
		if c.IsSet("budget-threshold") || c.IsSet("budget-enabled") {
			threshold, err := decimal.NewFromString(c.String("budget-threshold"))
			if c.IsSet("budget-threshold") && err != nil {
				return fmt.Errorf("invalid budget threshold %q: %w", c.String("budget-threshold"), err)
			}
			incoming.BudgetAlerts = &model.BudgetAlert{
				Enabled:   c.Bool("budget-enabled"),
				Threshold: threshold,
			}
		}
		if err := e.store.SaveSettings(ctx, incoming); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}

	settings, err := e.store.GetSettings(ctx, user)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	if settings == nil {
		fmt.Printf("No settings stored for %s\n", user)
		return nil
	}
	return printJSON(settings)
}

// =============================================================================
// EXPORT COMMAND
// =============================================================================

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Export stored cost records as FOCUS-conformant JSON",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "days", Value: 90, Usage: "Trailing window to export, in days"},
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file (default stdout)"},
		},
		Action: runExport,
	}
}

func runExport(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	cutoff := time.Now().UTC().AddDate(0, 0, -c.Int("days"))
	records, err := e.store.CostRecordsSince(ctx, cutoff, 0)
	if err != nil {
		return fmt.Errorf("failed to load cost records: %w", err)
	}

	out := os.Stdout
	if path := c.String("output"); path != "" {
		f, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		out = f
	}
	if err := focus.Export(out, records); err != nil {
		return fmt.Errorf("failed to export records: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Exported %d records\n", len(records))
	return nil
}

// =============================================================================
// SERVE COMMAND
// =============================================================================

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the HTTP API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Value:   8080,
				Usage:   "HTTP port",
				EnvVars: []string{"FINOPS_PORT"},
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	e, err := setup(c)
	if err != nil {
		return err
	}
	defer e.close()

	ctx := context.Background()
	biller, err := billing.NewClient(ctx, e.cfg.AWS, e.logger)
	if err != nil {
		return err
	}

	mirror := e.openMirror()
	if mirror != nil {
		defer mirror.Close()
	}

	serverCfg := api.DefaultConfig()
	serverCfg.Port = c.Int("port")

	server := api.NewServer(e.cfg, serverCfg, e.store, mirror, biller, e.logger)
	return server.StartWithGracefulShutdown()
}

// =============================================================================
// HELPERS
// =============================================================================

func resolveWindow(startStr, endStr string) (time.Time, time.Time, error) {
	end := time.Now().UTC().Truncate(24 * time.Hour)
	start := end.AddDate(0, 0, -30)
	var err error
	if startStr != "" {
		start, err = time.Parse("2006-01-02", startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start date %q: want YYYY-MM-DD", startStr)
		}
	}
	if endStr != "" {
		end, err = time.Parse("2006-01-02", endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end date %q: want YYYY-MM-DD", endStr)
		}
	}
	if end.Before(start) {
		return time.Time{}, time.Time{}, fmt.Errorf("end date must not precede start date")
	}
	return start, end, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
