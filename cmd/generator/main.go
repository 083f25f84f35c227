package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"tourbook/internal/config"
	"tourbook/internal/database"
	apperrors "tourbook/internal/errors"
	"tourbook/internal/logger"
	"tourbook/internal/repository"
	"tourbook/internal/search"
	"tourbook/internal/seed"
)

var (
	skipActivities = flag.Bool("skip-activities", false, "Do not index demo activities into Elasticsearch")
	skipCoupons    = flag.Bool("skip-coupons", false, "Do not create demo coupons")
	dryRun         = flag.Bool("dry-run", false, "Show what would be generated without making changes")
)

// Generator наполняет хранилища демонстрационными данными
type Generator struct {
	db     *database.DB
	search *search.ElasticsearchClient
	cfg    *config.Config
}

func main() {
	flag.Parse()

	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting demo data generator...", "dry_run", *dryRun)

	if *dryRun {
		printPlan(cfg)
		return
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := db.RunMigrations(); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		os.Exit(1)
	}

	g := &Generator{db: db, cfg: cfg}

	if cfg.Elasticsearch.Enabled && !*skipActivities {
		es, err := search.NewElasticsearchClient(cfg.Elasticsearch)
		if err != nil {
			slog.Error("Failed to connect to Elasticsearch", "error", err)
			os.Exit(1)
		}
		g.search = es
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if err := g.Generate(ctx); err != nil {
		slog.Error("Failed to generate demo data", "error", err)
		os.Exit(1)
	}

	slog.Info("Demo data generation completed successfully!")
}

func printPlan(cfg *config.Config) {
	if !*skipActivities {
		for _, a := range seed.Activities() {
			fmt.Printf("activity %-28s %10s %s  max %d\n", a.ID, a.Price.StringFixed(2), a.Currency, a.MaxParticipants)
		}
	}
	if !*skipCoupons {
		for _, c := range seed.Coupons(time.Now()) {
			fmt.Printf("coupon   %-28s %s %s\n", c.Code, c.DiscountType, c.DiscountValue)
		}
	}
	fmt.Printf("admin    %s\n", cfg.AdminEmail)
}

func (g *Generator) Generate(ctx context.Context) error {
	if g.search != nil {
		if err := g.indexActivities(ctx); err != nil {
			return err
		}
	}

	repos := repository.NewRepositories(g.db, nil)

	if !*skipCoupons {
		if err := createCoupons(ctx, repos.Coupons); err != nil {
			return err
		}
	}

	admin := seed.Admin(g.cfg.AdminEmail, g.cfg.AdminPassword)
	if err := repos.Users.Create(ctx, &admin); err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	slog.Info("Admin user ready", "email", admin.Email, "user_id", admin.UserID)

	return nil
}

func (g *Generator) indexActivities(ctx context.Context) error {
	for _, activity := range seed.Activities() {
		if err := g.search.IndexActivity(ctx, &activity); err != nil {
			return fmt.Errorf("failed to index activity %s: %w", activity.ID, err)
		}
		slog.Info("Indexed activity", "activity_id", activity.ID, "name", activity.Name)
	}
	return nil
}

func createCoupons(ctx context.Context, coupons repository.CouponStore) error {
	for _, coupon := range seed.Coupons(time.Now()) {
		err := coupons.Create(ctx, &coupon)
		switch {
		case errors.Is(err, apperrors.ErrDuplicateCoupon):
			slog.Info("Coupon already exists, skipping", "code", coupon.Code)
		case err != nil:
			return fmt.Errorf("failed to create coupon %s: %w", coupon.Code, err)
		default:
			slog.Info("Created coupon", "code", coupon.Code, "type", coupon.DiscountType)
		}
	}
	return nil
}
