package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/tripnest/tripnest-backend/pkg/config"
	"github.com/tripnest/tripnest-backend/pkg/db"
	"github.com/tripnest/tripnest-backend/pkg/logger"
	"github.com/tripnest/tripnest-backend/pkg/migrate"
)

func main() {
	var (
		cmd     = flag.String("cmd", "up", "up|down|status|version|create|validate")
		dir     = flag.String("dir", "", "migrations directory on disk; empty uses the bundled set (create defaults to "+migrate.DefaultDir+")")
		name    = flag.String("name", "", "migration name for -cmd=create")
		version = flag.String("version", "", "target YYYYMMDDHHMMSS for -cmd=version")
	)
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "migrate"})
	_ = godotenv.Load()

	cfg, err := config.Load()
	exitOn(context.Background(), logg, "load config", err)
	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env": cfg.App.Env,
		"cmd": *cmd,
	})

	var source fs.FS
	if *dir != "" {
		source = os.DirFS(*dir)
		ctx = logg.WithField(ctx, "dir", *dir)
	}

	switch *cmd {
	case "create":
		if *name == "" {
			exitOn(ctx, logg, "create", fmt.Errorf("-name is required"))
		}
		target := *dir
		if target == "" {
			target = migrate.DefaultDir
		}
		path, err := migrate.Scaffold(target, *name, time.Now())
		exitOn(ctx, logg, "create", err)
		logg.Info(logg.WithField(ctx, "path", path), "migration created")
		return
	case "validate":
		if source == nil {
			source = migrate.Bundled()
		}
		exitOn(ctx, logg, "validate", migrate.Validate(source))
		logg.Info(ctx, "migrations valid")
		return
	}

	dbClient, err := db.New(ctx, cfg.DB, logg)
	exitOn(ctx, logg, "connect database", err)
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	exitOn(ctx, logg, "extract sql.DB", err)
	runner, err := migrate.NewRunner(sqlDB, source)
	exitOn(ctx, logg, "build runner", err)

	switch *cmd {
	case "up":
		applied, err := runner.Up(ctx)
		exitOn(ctx, logg, "up", err)
		logg.Info(logg.WithField(ctx, "applied_versions", applied), "migrations applied")
	case "down":
		reverted, err := runner.Down(ctx)
		exitOn(ctx, logg, "down", err)
		logg.Info(logg.WithField(ctx, "reverted_version", reverted), "migration rolled back")
	case "status":
		statuses, err := runner.Status(ctx)
		exitOn(ctx, logg, "status", err)
		for _, st := range statuses {
			fields := map[string]any{"state": string(st.State)}
			if st.Source != nil {
				fields["version"] = st.Source.Version
				fields["path"] = st.Source.Path
			}
			if !st.AppliedAt.IsZero() {
				fields["applied_at"] = st.AppliedAt.UTC().Format(time.RFC3339)
			}
			logg.Info(logg.WithFields(ctx, fields), "migration status")
		}
	case "version":
		if *version == "" {
			exitOn(ctx, logg, "version", fmt.Errorf("-version is required"))
		}
		moved, err := runner.To(ctx, *version)
		exitOn(ctx, logg, "version", err)
		logg.Info(logg.WithFields(ctx, map[string]any{"target": *version, "versions": moved}), "schema moved to target version")
	default:
		exitOn(ctx, logg, "dispatch", fmt.Errorf("unknown -cmd %q", *cmd))
	}
}

func exitOn(ctx context.Context, logg *logger.Logger, step string, err error) {
	if err == nil {
		return
	}
	logg.Error(logg.WithField(ctx, "step", step), "migrate failed", err)
	os.Exit(1)
}
