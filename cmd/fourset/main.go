package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/tomwchan/fourset/internal/grade"
	"github.com/tomwchan/fourset/internal/handler"
	appI18n "github.com/tomwchan/fourset/internal/i18n"
	"github.com/tomwchan/fourset/internal/ingest"
	"github.com/tomwchan/fourset/internal/merge"
	"github.com/tomwchan/fourset/internal/model"
	"github.com/tomwchan/fourset/internal/rules"
	"github.com/tomwchan/fourset/internal/schema"
	"github.com/tomwchan/fourset/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "fourset",
		Short: "Assessment validation and merge engine for the 4Set dashboard",
	}

	serve := serveCmd()
	root.AddCommand(serve, checkCmd(), rollupCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `fourset --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// commonFlags registers the flags every subcommand shares.
func commonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("db", "fourset.db", "SQLite database path")
	f.String("catalog", "catalog", "Task catalog directory")
	f.String("submissions", "submissions", "Directory of platform export files")
	f.String("roster", "", "Roster JSON file (optional, derived from submissions when empty)")
	f.Int("base-year", 2023, "Academic year the first K1 cohort entered")
	f.Int("workers", 4, "Concurrent validation workers")
	f.StringP("lang", "l", "en", "Display language (en, zh)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the dashboard API server",
		RunE:  runServe,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("addr", "a", ":8080", "HTTP listen address")
	return cmd
}

func checkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check [studentID...]",
		Short: "Validate students and print per-task results as JSON",
		RunE:  runCheck,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func rollupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollup",
		Short: "Print per-set completion rollups for the whole roster as JSON",
		RunE:  runRollup,
	}
	commonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("FOURSET")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("fourset")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/fourset")
	v.AddConfigPath("/etc/fourset")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// app wires the full pipeline: catalog, ingest, merge, validation, cache.
type app struct {
	db         *store.Store
	catalog    *schema.Repository
	agg        *rules.Aggregator
	records    *merge.RecordSet
	cacheToken string
}

func newApp(v *viper.Viper) (*app, error) {
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	catalog := schema.NewRepository(v.GetString("catalog"))
	if err := catalog.Load(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	subs, err := ingest.LoadDir(v.GetString("submissions"))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load submissions: %w", err)
	}

	merger := merge.New(grade.NewDetector(v.GetInt("base-year")), catalog.SecondaryOwned)
	records := merger.BuildRecordSet(subs)

	token, err := cacheToken(subs)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("compute cache token: %w", err)
	}
	if err := db.PurgeStale(token); err != nil {
		db.Close()
		return nil, fmt.Errorf("purge stale cache: %w", err)
	}

	if err := db.ClearConflicts(); err != nil {
		db.Close()
		return nil, fmt.Errorf("reset conflict log: %w", err)
	}
	if err := db.AddConflicts(records.Conflicts()); err != nil {
		db.Close()
		return nil, fmt.Errorf("log conflicts: %w", err)
	}
	if err := db.SetRunInfo(model.RunInfo{
		RunID:       uuid.NewString(),
		IngestedAt:  time.Now().UTC(),
		Submissions: len(subs),
		Conflicts:   len(records.Conflicts()),
		Skipped:     len(records.Skipped()),
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("record run info: %w", err)
	}

	if err := loadRoster(db, v.GetString("roster"), records); err != nil {
		db.Close()
		return nil, fmt.Errorf("load roster: %w", err)
	}

	engine := rules.NewEngine(catalog)
	agg := rules.NewAggregator(engine, catalog.Sets(), v.GetInt("workers"))

	slog.Info("pipeline ready",
		"submissions", len(subs),
		"students", records.Len(),
		"conflicts", len(records.Conflicts()),
		"skipped", len(records.Skipped()),
	)

	return &app{db: db, catalog: catalog, agg: agg, records: records, cacheToken: token}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// cacheToken fingerprints the ingested submissions so cache entries from
// earlier runs are distinguishable.
func cacheToken(subs []model.RawSubmission) (string, error) {
	data, err := json.Marshal(subs)
	if err != nil {
		return "", err
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:]), nil
}

// loadRoster upserts roster entries from a JSON file, falling back to bare
// entries for every student seen in the submissions.
func loadRoster(db *store.Store, path string, records *merge.RecordSet) error {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		var students []model.Student
		if err := json.Unmarshal(data, &students); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		for _, st := range students {
			if err := db.UpsertStudent(st); err != nil {
				return err
			}
		}
		slog.Info("loaded roster file", "path", path, "students", len(students))
		return nil
	}

	for _, id := range records.StudentIDs() {
		if err := db.UpsertStudent(model.Student{ID: id}); err != nil {
			return err
		}
	}
	slog.Info("derived roster from submissions", "students", records.Len())
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(a.db, a.agg, a.records, a.cacheToken)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"catalog", v.GetString("catalog"),
		"base_year", v.GetInt("base-year"),
		"workers", v.GetInt("workers"),
	)
	return http.ListenAndServe(addr, r)
}

func runCheck(cmd *cobra.Command, args []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	ids := args
	if len(ids) == 0 {
		students, err := a.db.ListStudents()
		if err != nil {
			return fmt.Errorf("list students: %w", err)
		}
		for _, st := range students {
			ids = append(ids, st.ID)
		}
	}

	results := make(map[string][]model.TaskValidation, len(ids))
	for _, id := range ids {
		st, err := a.db.GetStudent(id)
		if err != nil {
			return fmt.Errorf("get student %s: %w", id, err)
		}
		if st == nil {
			slog.Warn("student not on roster, skipping", "student", id)
			continue
		}
		validations := a.agg.EvaluateStudent(*st, a.records.Record(id))
		for _, val := range validations {
			if _, err := a.db.PutValidation(a.cacheToken, val); err != nil {
				return fmt.Errorf("cache validation: %w", err)
			}
		}
		results[id] = validations
	}

	return writeJSON(v.GetString("output"), results)
}

func runRollup(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	a, err := newApp(v)
	if err != nil {
		return err
	}
	defer a.Close()

	students, err := a.db.ListStudents()
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}
	recs := make(map[string]*model.CanonicalRecord, len(students))
	for _, st := range students {
		recs[st.ID] = a.records.Record(st.ID)
	}

	type rosterRollup struct {
		Student model.Student     `json:"student"`
		Rollups []model.SetRollup `json:"rollups"`
	}
	var out []rosterRollup
	for _, res := range a.agg.RollupRoster(students, recs) {
		if _, err := a.db.PutRollups(a.cacheToken, res.Student.ID, res.Rollups); err != nil {
			return fmt.Errorf("cache rollups for %s: %w", res.Student.ID, err)
		}
		out = append(out, rosterRollup{Student: res.Student, Rollups: res.Rollups})
	}

	return writeJSON(v.GetString("output"), out)
}

func writeJSON(outPath string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}
