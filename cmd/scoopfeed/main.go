package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/scoopfeed/internal/auth"
	"github.com/TobiSchelling/scoopfeed/internal/config"
	"github.com/TobiSchelling/scoopfeed/internal/database"
	"github.com/TobiSchelling/scoopfeed/internal/pipeline"
	"github.com/TobiSchelling/scoopfeed/internal/query"
	"github.com/TobiSchelling/scoopfeed/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "scoopfeed",
	Short:   "Exclusive news aggregator",
	Long:    "Scoopfeed collects exclusive ([단독]) headlines from Naver News, classifies them by topic and serves them as a feed.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			log.SetFlags(log.LstdFlags | log.Lshortfile)
		} else {
			log.SetFlags(log.LstdFlags)
		}

		if cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		switch {
		case errors.Is(err, config.ErrNotFound):
			log.Println("No config file found, using built-in defaults")
			cfg = config.Default()
			return nil
		case err != nil:
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(settingsCmd)
	rootCmd.AddCommand(usersCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("scoopfeed", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/scoopfeed/ and create the database",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
		} else {
			if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
				return fmt.Errorf("creating config directory: %w", err)
			}
			if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
				return fmt.Errorf("writing config: %w", err)
			}
			fmt.Printf("Created config: %s\n", target)
		}

		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		fmt.Printf("Database ready: %s\n", db.Path())
		fmt.Println("Set NAVER_CLIENT_ID, NAVER_CLIENT_SECRET and your LLM API key, then run 'scoopfeed collect'.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show database and system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Println("Articles:")
		fmt.Printf("  Total stored: %d\n", stats.TotalArticles)
		fmt.Printf("  Unclassified: %d\n", stats.Unclassified)
		if !stats.LatestPubDate.IsZero() {
			fmt.Printf("  Latest published: %s\n", stats.LatestPubDate.Format("2006-01-02 15:04 MST"))
		}
		if len(stats.CategoryCounts) > 0 {
			fmt.Println("\nBy category:")
			for _, c := range stats.CategoryCounts {
				name := c.Name
				if name == "" {
					name = "(none)"
				}
				fmt.Printf("  %s: %d\n", name, c.Count)
			}
		}
		fmt.Println("\nReaders:")
		fmt.Printf("  Users: %d\n", stats.TotalUsers)
		fmt.Printf("  Feedback: %d\n", stats.TotalFeedback)
		fmt.Printf("  Activity entries: %d\n", stats.TotalLogs)

		s, err := db.GetAPISetting(database.CollectorSetting)
		if err != nil {
			return err
		}
		fmt.Println("\nCollector:")
		if s == nil {
			fmt.Println("  No setting row (treated as active)")
		} else {
			fmt.Printf("  Active: %v, every %d min\n", s.IsActive, s.RunInterval)
			if s.LastRun != nil {
				fmt.Printf("  Last run: %s\n", s.LastRun.Format("2006-01-02 15:04 MST"))
			}
		}

		secrets := cfg.Secrets()
		fmt.Println("\nCredentials:")
		fmt.Printf("  News search: %v\n", secrets.SearchClientID != "" && secrets.SearchClientSecret != "")
		fmt.Printf("  LLM (%s): %v\n", cfg.Classifier.Provider, secrets.LLMAPIKey != "" || cfg.Classifier.Provider == "ollama")
		fmt.Printf("  Cron secret: %v\n", secrets.CronSecret != "")
		fmt.Printf("  Admin sessions: %v\n", secrets.JWTSecret != "")
		return nil
	},
}

// --- collect command ---

var (
	collectForce bool
	collectLimit int
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run one pass: fetch, classify and store exclusive articles",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		if !collectForce {
			ok, err := db.ClaimRun(database.CollectorSetting, false)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Println("Collector is disabled. Enable it with 'scoopfeed settings set' or pass --force.")
				return nil
			}
		} else if err := db.MarkRun(database.CollectorSetting); err != nil {
			return err
		}

		pipe := pipeline.New(cfg, db, cfg.Secrets())
		defer pipe.Close()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		result, err := pipe.Run(ctx, pipeline.Options{Limit: collectLimit})
		for i, step := range result.Steps {
			fmt.Printf("\nStep %d/%d: %s\n", i+1, len(result.Steps), step.Name)
			if step.Err != nil {
				fmt.Printf("  Error: %v\n", step.Err)
			} else {
				fmt.Printf("  %s\n", step.Summary)
			}
		}
		if err != nil {
			return err
		}

		if verbose {
			fmt.Println("\nArticles:")
			for _, o := range result.Outcomes {
				status := string(o.Persist)
				if o.Err != nil {
					status = "error: " + o.Err.Error()
				}
				fmt.Printf("  [%s] %s (%s, %s)\n", o.Category, o.Title, o.Classification, status)
			}
		}

		byCategory := make(map[string]int)
		for _, o := range result.Outcomes {
			byCategory[string(o.Category)]++
		}
		if len(byCategory) > 0 {
			fmt.Println("\nBy category:")
			type kv struct {
				key string
				val int
			}
			var sorted []kv
			for k, v := range byCategory {
				sorted = append(sorted, kv{k, v})
			}
			sort.Slice(sorted, func(i, j int) bool { return sorted[i].val > sorted[j].val })
			for _, s := range sorted {
				fmt.Printf("  %s: %d\n", s.key, s.val)
			}
		}
		fmt.Printf("\nDone in %.1fs.\n", result.Elapsed.Seconds())
		return nil
	},
}

func init() {
	collectCmd.Flags().BoolVar(&collectForce, "force", false, "Run even when the collector setting is disabled")
	collectCmd.Flags().IntVar(&collectLimit, "limit", 0, "Maximum articles to fetch (default from config)")
}

// --- serve command ---

var (
	servePort     int
	serveSchedule bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server and JSON API",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		secrets := cfg.Secrets()
		pipe := pipeline.New(cfg, db, secrets)
		defer pipe.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if serveSchedule {
			sched := &pipeline.Scheduler{
				Pipeline: pipe,
				DB:       db,
				Setting:  database.CollectorSetting,
				Tick:     cfg.Pipeline.Tick(),
			}
			go sched.Start(ctx)
		}

		if secrets.CronSecret == "" {
			log.Println("No cron secret set, /api/cron/collect-news will reject every request")
		}
		if secrets.JWTSecret == "" {
			log.Println("No JWT secret set, admin endpoints are disabled")
		}

		ml := cfg.Auth.MagicLink
		fmt.Printf("Starting server at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(ctx, server.Deps{
			DB:         db,
			Query:      query.New(db, pipe),
			Runner:     pipe,
			Issuer:     auth.NewIssuer(secrets.JWTSecret, cfg.Auth.TTL()),
			Links:      auth.NewLinkSender(ml.Provider, ml.URL, secrets.MagicLinkAPIKey, ml.RedirectURL),
			CronSecret: secrets.CronSecret,
			RateLimit:  cfg.Server.RateLimit,
			TrustProxy: cfg.Server.TrustProxy,
		}, port)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8000, "Port to run server on")
	serveCmd.Flags().BoolVar(&serveSchedule, "schedule", false, "Run the collector on its configured interval")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "scoopfeed.db")
	return database.Open(dbPath)
}
