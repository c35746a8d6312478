package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/tabwriter"

	"querydash/pkg/config"
	"querydash/pkg/migrations"
	"querydash/pkg/permissions"
	"querydash/pkg/schedule"
	"querydash/pkg/store"
)

type Config struct {
	DatabaseURL string
	OrgSlug     string
	Email       string
	Search      string
	Tags        string
	Limit       int
	Verbose     bool
}

func main() {
	cfg := parseFlags()
	config.SetupLogging(cfg.Verbose)

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	var err error
	switch args[0] {
	case "migrate":
		action := "up"
		if len(args) > 1 {
			action = args[1]
		}
		err = runMigrate(ctx, cfg, action)
	case "seed":
		err = runSeed(ctx, cfg)
	case "list":
		err = runList(ctx, cfg)
	default:
		flag.Usage()
		fmt.Fprintf(os.Stderr, "\nError: unknown command %q\n", args[0])
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", "command", args[0], "error", err)
		os.Exit(1)
	}
}

func parseFlags() Config {
	var cfg Config

	defaultURL := os.Getenv("QUERYDASH_DATABASE_URL")
	if defaultURL == "" {
		defaultURL = "querydash.db"
	}

	flag.StringVar(&cfg.DatabaseURL, "db", defaultURL, "SQLite path or postgres:// URL")
	flag.StringVar(&cfg.OrgSlug, "org", "default", "Organization slug")
	flag.StringVar(&cfg.Email, "email", "admin@example.com", "Admin email created by seed")
	flag.StringVar(&cfg.Search, "q", "", "Search term for list")
	flag.StringVar(&cfg.Tags, "tags", "", "Comma separated tags for list")
	flag.IntVar(&cfg.Limit, "limit", 50, "Maximum number of queries listed")
	flag.BoolVar(&cfg.Verbose, "verbose", false, "Debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command>\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  migrate [up|down|status]  Apply, roll back one, or show migrations\n")
		fmt.Fprintf(os.Stderr, "  seed                      Create an organization with builtin groups and an admin\n")
		fmt.Fprintf(os.Stderr, "  list                      List the organization's published queries\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return cfg
}

func runMigrate(ctx context.Context, cfg Config, action string) error {
	dialect := config.DialectFor(cfg.DatabaseURL)
	dsn := cfg.DatabaseURL
	if dialect == "sqlite3" {
		dsn += "?_foreign_keys=1"
	}

	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	m, err := migrations.New(db, dialect)
	if err != nil {
		return err
	}

	switch action {
	case "up":
		return m.Up(ctx)
	case "down":
		version, err := m.Version(ctx)
		if err != nil {
			return err
		}
		if version == 0 {
			fmt.Println("nothing to roll back")
			return nil
		}
		return m.DownTo(ctx, version-1)
	case "status":
		statuses, err := m.Status(ctx)
		if err != nil {
			return err
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%d\t%s\n", s.Version, state)
		}
		return nil
	default:
		return fmt.Errorf("unknown migrate action %q", action)
	}
}

func openStore(ctx context.Context, cfg Config) (*store.Store, error) {
	return store.Open(ctx, cfg.DatabaseURL, config.DialectFor(cfg.DatabaseURL))
}

func runSeed(ctx context.Context, cfg Config) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	if _, err := s.GetOrganizationBySlug(ctx, cfg.OrgSlug); err == nil {
		return fmt.Errorf("organization %q already exists", cfg.OrgSlug)
	}

	org := &store.Organization{Name: cfg.OrgSlug, Slug: cfg.OrgSlug}
	if err := s.CreateOrganization(ctx, org); err != nil {
		return err
	}

	defaultGroup := &store.Group{
		OrgID:       org.ID,
		Name:        "default",
		Type:        store.GroupTypeBuiltin,
		Permissions: permissions.DefaultGroupPermissions,
	}
	adminGroup := &store.Group{
		OrgID:       org.ID,
		Name:        "admin",
		Type:        store.GroupTypeBuiltin,
		Permissions: []string{permissions.Admin, permissions.ScheduleQuery},
	}
	for _, g := range []*store.Group{defaultGroup, adminGroup} {
		if err := s.CreateGroup(ctx, g); err != nil {
			return err
		}
	}

	admin := &store.User{
		OrgID:    org.ID,
		Name:     "Admin",
		Email:    cfg.Email,
		GroupIDs: []int64{defaultGroup.ID, adminGroup.ID},
	}
	if err := s.CreateUser(ctx, admin); err != nil {
		return err
	}

	slog.Info("seeded organization", "org", org.Slug, "admin_id", admin.ID)
	fmt.Printf("admin api key: %s\n", admin.APIKey)
	return nil
}

func runList(ctx context.Context, cfg Config) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	org, err := s.GetOrganizationBySlug(ctx, cfg.OrgSlug)
	if err != nil {
		return err
	}

	var tags []string
	if cfg.Tags != "" {
		tags = strings.Split(cfg.Tags, ",")
	}

	queries, total, err := s.ListQueries(ctx, store.QueryFilter{
		OrgID:    org.ID,
		IsAdmin:  true,
		Search:   cfg.Search,
		Tags:     tags,
		Order:    "name",
		Page:     1,
		PageSize: cfg.Limit,
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSCHEDULE\tLAST RUNTIME\tTAGS")
	for _, q := range queries {
		var runtime *float64
		if q.LatestQueryDataID != nil {
			result, err := s.GetQueryResult(ctx, org.ID, *q.LatestQueryDataID)
			if err != nil {
				slog.Warn("failed to load latest result", "query_id", q.ID, "error", err)
			} else {
				runtime = &result.Runtime
			}
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			q.ID, q.Name, schedule.Humanize(q.Schedule), schedule.DurationHumanize(runtime), strings.Join(q.Tags, ","))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if int64(len(queries)) < total {
		fmt.Printf("\n%d of %d queries shown\n", len(queries), total)
	}
	return nil
}
