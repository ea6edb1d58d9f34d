package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sentsuki/srs-box/pkg/config"
	"github.com/Sentsuki/srs-box/pkg/fetch"
	"github.com/Sentsuki/srs-box/pkg/logger"
	"github.com/Sentsuki/srs-box/pkg/metrics"
	"github.com/Sentsuki/srs-box/pkg/pipeline"
	"github.com/Sentsuki/srs-box/pkg/version"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "srs-box",
		Short:         "Fetch, merge and compile rule-set sources",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default config.json or $SRSBOX_CONFIG)")

	loadConfig := func() (*config.Config, error) {
		if configPath != "" {
			return config.Load(configPath)
		}
		return config.Setup()
	}

	root.AddCommand(newRunCmd(loadConfig))
	root.AddCommand(newCacheCmd(loadConfig))
	root.AddCommand(newVersionCmd())
	return root
}

func newRunCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the full download, merge and compile pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			log := logger.Setup(cfg.Logging.Level, cfg.Logging.File)

			if cfg.Metrics.Enabled {
				metrics.Serve(cfg.Metrics.Listen, log)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			p, err := pipeline.New(cfg, log)
			if err != nil {
				log.Error("failed to build pipeline", "error", err)
				return err
			}

			summary, err := p.Run(ctx)
			for _, r := range summary.Results {
				if r.Err != nil {
					log.Error("ruleset summary", "ruleset", r.Name, "error", r.Err)
					continue
				}
				log.Info("ruleset summary",
					"ruleset", r.Name,
					"rules", r.RuleCount,
					"filtered", r.FilteredCount,
					"json", r.JSONPath,
					"srs", r.SRSPath,
					"success_rate", fmt.Sprintf("%.1f%%", r.Download.SuccessRatePercent))
			}
			if err != nil {
				if errors.Is(err, pipeline.ErrNoArtifacts) {
					log.Error("run produced no artifacts")
				}
				return err
			}
			return nil
		},
	}
}

func newCacheCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	cache := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or clear the download cache",
	}

	cache.AddCommand(&cobra.Command{
		Use:   "info",
		Short: "Show cache directory statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			log := logger.Setup(cfg.Logging.Level, cfg.Logging.File)
			c, err := fetch.NewCache(cfg.Download.CacheDir, cfg.Download.CacheTTL, log)
			if err != nil {
				return err
			}
			info := c.Info()
			fmt.Printf("directory:   %s\n", info.Dir)
			fmt.Printf("entries:     %d\n", info.TotalFiles)
			fmt.Printf("size:        %.2f MB\n", info.TotalSizeMB)
			fmt.Printf("ttl:         %s\n", info.TTL)
			if !info.Oldest.IsZero() {
				fmt.Printf("oldest:      %s\n", info.Oldest.Format(time.RFC3339))
				fmt.Printf("newest:      %s\n", info.Newest.Format(time.RFC3339))
			}
			return nil
		},
	})

	var olderThan time.Duration
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				return err
			}
			log := logger.Setup(cfg.Logging.Level, cfg.Logging.File)
			c, err := fetch.NewCache(cfg.Download.CacheDir, cfg.Download.CacheTTL, log)
			if err != nil {
				return err
			}
			var age *time.Duration
			if cmd.Flags().Changed("older-than") {
				age = &olderThan
			}
			removed := c.Clear(age)
			fmt.Printf("removed %d cache entries\n", removed)
			return nil
		},
	}
	clearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only remove entries older than this age (e.g. 48h)")
	cache.AddCommand(clearCmd)

	return cache
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the program version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version.Version)
		},
	}
}
