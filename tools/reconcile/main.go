package main

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	eventingrepo "route-ledger/internal/eventing/infrastructure/postgres"
	"route-ledger/internal/observability/logging"
	"route-ledger/internal/settlement/application"
	settlement "route-ledger/internal/settlement/domain"
	settlementrepo "route-ledger/internal/settlement/infrastructure/postgres"
)

const timeLayout = time.RFC3339

type config struct {
	dbURL    string
	tenantID string
	routes   []string
	outDir   string
	heal     bool
	logLevel string
}

func main() {
	_ = godotenv.Load()
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}

	if err := os.MkdirAll(cfg.outDir, 0o755); err != nil {
		fmt.Fprintln(os.Stderr, "create out dir:", err)
		os.Exit(2)
	}

	db, err := sql.Open("pgx", cfg.dbURL)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db open:", err)
		os.Exit(2)
	}
	defer db.Close()

	ctx := application.WithActor(context.Background(), "tools/reconcile")
	logger := logging.New(cfg.logLevel, os.Stderr)
	store := settlementrepo.NewStore(db, eventingrepo.NewOutboxStore(db))

	rules, err := application.LoadRulesConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, "rules config:", err)
		os.Exit(2)
	}
	opts := []application.Option{
		application.WithLogger(logger),
		application.WithTenantID(cfg.tenantID),
		application.WithRules(rules),
	}

	reconciler, err := application.NewReconciler(store, nil, cfg.heal, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconciler:", err)
		os.Exit(2)
	}
	summaries, err := application.NewSummaryService(store, opts...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "summary service:", err)
		os.Exit(2)
	}

	report, err := reconciler.Run(ctx, cfg.routes)
	if err != nil {
		fmt.Fprintln(os.Stderr, "reconcile:", err)
		os.Exit(2)
	}
	if err := writeDebtReport(cfg.outDir, report); err != nil {
		fmt.Fprintln(os.Stderr, "write debt report:", err)
		os.Exit(2)
	}

	routeIDs := cfg.routes
	if len(routeIDs) == 0 {
		routes, err := store.ListRoutes(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list routes:", err)
			os.Exit(2)
		}
		for _, route := range routes {
			routeIDs = append(routeIDs, route.ID)
		}
	}
	rows, err := loadCycleRows(ctx, store, summaries, routeIDs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load cycles:", err)
		os.Exit(2)
	}
	if err := writeCycleSummary(cfg.outDir, rows); err != nil {
		fmt.Fprintln(os.Stderr, "write cycle summary:", err)
		os.Exit(2)
	}

	fmt.Printf("Checked %d clients, %d mismatches (healed=%t). Outputs written to %s\n",
		report.ClientsChecked, len(report.Mismatches), report.Healed, cfg.outDir)
	if len(report.Mismatches) > 0 && !report.Healed {
		os.Exit(1)
	}
}

func parseFlags() (config, error) {
	var cfg config
	var routes string
	flag.StringVar(&cfg.dbURL, "db", getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")), "Postgres DSN")
	flag.StringVar(&cfg.tenantID, "tenant", getenvDefault("TENANT_ID", ""), "tenant id stamped on events")
	flag.StringVar(&routes, "routes", "", "comma separated route ids (default: all routes)")
	flag.StringVar(&cfg.outDir, "out", "./out", "output directory")
	flag.BoolVar(&cfg.heal, "heal", false, "overwrite drifted cached debts with the live value")
	flag.StringVar(&cfg.logLevel, "log-level", getenvDefault("LOG_LEVEL", "warn"), "log level")
	flag.Parse()

	if cfg.dbURL == "" {
		return cfg, errors.New("missing --db or DATABASE_URL/PG_DSN")
	}
	for _, id := range strings.Split(routes, ",") {
		if id = strings.TrimSpace(id); id != "" {
			cfg.routes = append(cfg.routes, id)
		}
	}
	return cfg, nil
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

type cycleRow struct {
	cycle   settlement.Cycle
	summary application.CycleSummary
}

func loadCycleRows(ctx context.Context, store settlement.Reader, summaries *application.SummaryService, routeIDs []string) ([]cycleRow, error) {
	var rows []cycleRow
	for _, routeID := range routeIDs {
		cycles, err := store.ListCyclesByRoute(ctx, routeID)
		if err != nil {
			return nil, err
		}
		for _, cycle := range cycles {
			if cycle.Status == settlement.CycleStatusCancelled {
				continue
			}
			summary, err := summaries.SummaryForCycle(ctx, cycle.ID)
			if err != nil {
				return nil, err
			}
			rows = append(rows, cycleRow{cycle: cycle, summary: summary})
		}
	}
	return rows, nil
}

func writeDebtReport(outDir string, report application.ReconcileReport) error {
	path := filepath.Join(outDir, "debt_report.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"run_id",
		"route_id",
		"client_id",
		"name",
		"cached_debt",
		"live_debt",
		"diff",
		"healed",
	}); err != nil {
		return err
	}
	for _, m := range report.Mismatches {
		if err := writer.Write([]string{
			report.RunID,
			m.RouteID,
			m.ClientID,
			m.Name,
			m.Cached.String(),
			m.Live.String(),
			m.Cached.Sub(m.Live).String(),
			strconv.FormatBool(m.Healed),
		}); err != nil {
			return err
		}
	}
	return nil
}

func writeCycleSummary(outDir string, rows []cycleRow) error {
	path := filepath.Join(outDir, "cycle_summary.csv")
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{
		"cycle_id",
		"route_id",
		"title",
		"status",
		"started_at",
		"ended_at",
		"revenue",
		"expenses",
		"travel_expenses",
		"profit",
		"clients_settled",
		"total_clients",
		"percent_settled",
		"table_count",
		"frozen",
	}); err != nil {
		return err
	}
	for _, row := range rows {
		s := row.summary
		if err := writer.Write([]string{
			row.cycle.ID,
			row.cycle.RouteID,
			row.cycle.Title(),
			string(row.cycle.Status),
			formatTime(row.cycle.StartedAt),
			formatTime(row.cycle.EndedAt),
			s.Revenue.String(),
			s.Expenses.String(),
			s.TravelExpenses.String(),
			s.Profit.String(),
			strconv.Itoa(s.ClientsSettled),
			strconv.Itoa(s.TotalClients),
			strconv.Itoa(s.PercentSettled),
			strconv.Itoa(s.TableCount),
			strconv.FormatBool(s.Frozen),
		}); err != nil {
			return err
		}
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(timeLayout)
}
