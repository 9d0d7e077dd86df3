package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/brownsville-complaints/internal/config"
	"github.com/brownsville-complaints/internal/dataset"
	"github.com/brownsville-complaints/internal/geocode"
	"github.com/brownsville-complaints/internal/identity"
	"github.com/brownsville-complaints/internal/normalize"
	"github.com/brownsville-complaints/internal/pipeline"
	"github.com/brownsville-complaints/internal/source"
	"github.com/brownsville-complaints/internal/web"
)

var cfg config.Config

func main() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	rootCmd := &cobra.Command{
		Use:   "reconciler",
		Short: "Brownsville complaint reconciliation pipeline",
		Long:  `Reconciles 311 service requests, HPD complaint problems and DOB complaints into a building-indexed merged dataset`,
	}

	rootCmd.AddCommand(createRunCmd())
	rootCmd.AddCommand(createCacheCmd())
	rootCmd.AddCommand(createServeCmd())
	rootCmd.AddCommand(createExportCmd())
	rootCmd.AddCommand(createPingCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// feedFiles maps each source to its cached extract under the data dir.
var feedFiles = map[source.ID]string{
	source.Source311:               "311.csv",
	source.SourceComplaintProblems: "complaint-problems.csv",
	source.SourceDOB:               "dob.csv",
}

// createRunCmd creates the full-pipeline subcommand.
func createRunCmd() *cobra.Command {
	var dataDir string
	var workers int
	var toleranceDays int
	var majorOnly bool
	var xlsxPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full reconciliation pipeline",
		Long:  `Read the per-source extracts, resolve building identities, merge cross-source duplicates and replace the output dataset`,
		Run: func(cmd *cobra.Command, args []string) {
			if cfg.GeocoderKey == "" {
				log.Fatalf("GEOCODER_KEY is not set")
			}

			store, err := identity.OpenStore(cfg.CacheDBPath)
			if err != nil {
				log.Fatalf("Failed to open identity store: %v", err)
			}
			defer store.Close()

			cache := identity.NewCache()
			loaded, err := store.LoadInto(cache)
			if err != nil {
				log.Fatalf("Failed to warm identity cache: %v", err)
			}
			fmt.Printf("Identity cache warmed: %d buildings, %d lookup keys\n", loaded, cache.Keys())

			geocoder := geocode.NewMapQuestClient(cfg.GeocoderKey, cfg.GeocoderRPS, cfg.GeocoderTimeout)
			resolver := identity.NewResolver(cache, store, geocoder).
				WithRetry(cfg.GeocodeRetries, 0).
				WithDebug(cfg.Debug)

			var feeds []pipeline.Feed
			for _, src := range []source.ID{source.Source311, source.SourceComplaintProblems, source.SourceDOB} {
				path := filepath.Join(dataDir, feedFiles[src])
				records, err := source.ReadCSV(path, src)
				if err != nil {
					log.Fatalf("Failed to read %s extract: %v", src, err)
				}
				fmt.Printf("Loaded %d %s records from %s\n", len(records), src, path)
				feeds = append(feeds, pipeline.Feed{Source: src, Records: records})
			}

			rejectedLog, err := pipeline.OpenRejectedLog(cfg.RejectedPath)
			if err != nil {
				log.Fatalf("Failed to open rejected log: %v", err)
			}

			runner, err := pipeline.NewRunner(resolver, pipeline.Options{
				Workers:   workers,
				Tolerance: time.Duration(toleranceDays) * 24 * time.Hour,
				MajorOnly: majorOnly,
				Debug:     cfg.Debug,
			})
			if err != nil {
				log.Fatalf("Failed to build pipeline: %v", err)
			}

			res, err := runner.Run(context.Background(), feeds, rejectedLog)
			if err != nil {
				if errors.Is(err, pipeline.ErrQuotaExhausted) || errors.Is(err, pipeline.ErrGeocoderAuth) {
					log.Fatalf("Pipeline run aborted, previous dataset left in place: %v", err)
				}
				log.Fatalf("Pipeline run failed: %v", err)
			}
			if err := rejectedLog.Close(); err != nil {
				log.Printf("Failed to close rejected log: %v", err)
			}

			if err := dataset.WriteCSV(cfg.DatasetPath, res.Merged); err != nil {
				log.Fatalf("Failed to write dataset: %v", err)
			}

			ds, err := dataset.NewStore(store.DB())
			if err != nil {
				log.Fatalf("Failed to open dataset store: %v", err)
			}
			if err := ds.ReplaceAll(res.Started, res.Merged, res.Rejected, res.Stats); err != nil {
				log.Fatalf("Failed to store dataset: %v", err)
			}

			if xlsxPath != "" {
				if err := dataset.ExportXLSX(xlsxPath, res.Merged, res.Stats); err != nil {
					log.Fatalf("Failed to export workbook: %v", err)
				}
				fmt.Printf("Workbook written to %s\n", xlsxPath)
			}

			fmt.Printf("\n=== Reconciliation Results ===\n")
			res.WriteSummary(os.Stdout, rejectedLog.Path())
			fmt.Printf("Dataset written to %s\n", cfg.DatasetPath)
		},
	}

	cmd.Flags().StringVar(&dataDir, "data-dir", cfg.DataDir, "Directory holding the per-source CSV extracts")
	cmd.Flags().IntVar(&workers, "workers", cfg.Workers, "Number of parallel mapping workers")
	cmd.Flags().IntVar(&toleranceDays, "tolerance-days", cfg.DedupToleranceDays, "Cross-source dedup window in days")
	cmd.Flags().BoolVar(&majorOnly, "major-only", cfg.MatchMajorOnly, "Match complaints on major category alone")
	cmd.Flags().StringVar(&xlsxPath, "xlsx", "", "Also export a summary workbook to this path")

	return cmd
}

// createCacheCmd creates identity-cache utility commands.
func createCacheCmd() *cobra.Command {
	cacheCmd := &cobra.Command{
		Use:   "cache",
		Short: "Identity cache utilities",
		Long:  `Inspect or reset the durable building-identity cache`,
	}

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show persisted identity counts",
		Run: func(cmd *cobra.Command, args []string) {
			store, err := identity.OpenStore(cfg.CacheDBPath)
			if err != nil {
				log.Fatalf("Failed to open identity store: %v", err)
			}
			defer store.Close()

			buildings, keys, err := store.Stats()
			if err != nil {
				log.Fatalf("Failed to read stats: %v", err)
			}
			fmt.Printf("Buildings: %d\n", buildings)
			fmt.Printf("Lookup keys: %d\n", keys)
		},
	})

	cacheCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Drop all persisted identities",
		Long:  `Drop all persisted identities. The next run re-geocodes every address and canonical ids for ADDR- fallback buildings may change`,
		Run: func(cmd *cobra.Command, args []string) {
			store, err := identity.OpenStore(cfg.CacheDBPath)
			if err != nil {
				log.Fatalf("Failed to open identity store: %v", err)
			}
			defer store.Close()

			if err := store.Clear(); err != nil {
				log.Fatalf("Failed to clear cache: %v", err)
			}
			fmt.Println("Identity cache cleared")
		},
	})

	return cacheCmd
}

// createServeCmd creates the review-server subcommand.
func createServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the review API over the latest dataset",
		Run: func(cmd *cobra.Command, args []string) {
			store, err := identity.OpenStore(cfg.CacheDBPath)
			if err != nil {
				log.Fatalf("Failed to open database: %v", err)
			}
			defer store.Close()

			ds, err := dataset.NewStore(store.DB())
			if err != nil {
				log.Fatalf("Failed to open dataset store: %v", err)
			}

			if err := web.NewServer(addr, ds).Start(); err != nil {
				log.Fatalf("Server failed: %v", err)
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", cfg.WebAddr, "Listen address")
	return cmd
}

// createExportCmd creates the export subcommands.
func createExportCmd() *cobra.Command {
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export the merged dataset to downstream targets",
	}

	var dsn string
	pgCmd := &cobra.Command{
		Use:   "pg",
		Short: "Load the dataset into a Postgres warehouse",
		Run: func(cmd *cobra.Command, args []string) {
			if dsn == "" {
				log.Fatalf("POSTGRES_DSN is not set")
			}
			complaints, err := dataset.ReadCSV(cfg.DatasetPath)
			if err != nil {
				log.Fatalf("Failed to read dataset: %v", err)
			}
			if err := dataset.ExportPostgres(dsn, complaints); err != nil {
				log.Fatalf("Postgres export failed: %v", err)
			}
			fmt.Printf("Exported %d merged complaints to Postgres\n", len(complaints))
		},
	}
	pgCmd.Flags().StringVar(&dsn, "dsn", cfg.PostgresDSN, "Postgres connection string")
	exportCmd.AddCommand(pgCmd)

	var output string
	xlsxCmd := &cobra.Command{
		Use:   "xlsx",
		Short: "Write a summary workbook",
		Run: func(cmd *cobra.Command, args []string) {
			complaints, err := dataset.ReadCSV(cfg.DatasetPath)
			if err != nil {
				log.Fatalf("Failed to read dataset: %v", err)
			}

			store, err := identity.OpenStore(cfg.CacheDBPath)
			if err != nil {
				log.Fatalf("Failed to open database: %v", err)
			}
			defer store.Close()

			ds, err := dataset.NewStore(store.DB())
			if err != nil {
				log.Fatalf("Failed to open dataset store: %v", err)
			}
			stats, err := ds.Summary()
			if err != nil {
				log.Fatalf("Failed to read run summary: %v", err)
			}

			if err := dataset.ExportXLSX(output, complaints, stats); err != nil {
				log.Fatalf("Workbook export failed: %v", err)
			}
			fmt.Printf("Workbook written to %s\n", output)
		},
	}
	xlsxCmd.Flags().StringVar(&output, "output", filepath.Join(cfg.DataDir, "brownsville.xlsx"), "Workbook path")
	exportCmd.AddCommand(xlsxCmd)

	return exportCmd
}

// createPingCmd creates a command to test geocoder connectivity.
func createPingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Test geocoder connectivity",
		Run: func(cmd *cobra.Command, args []string) {
			if cfg.GeocoderKey == "" {
				log.Fatalf("GEOCODER_KEY is not set")
			}

			// A well-known address that any NYC geocoder must resolve.
			addr, err := normalize.Normalize("1", "Centre Street", "10007", "Manhattan")
			if err != nil {
				log.Fatalf("Normalization failed: %v", err)
			}

			geocoder := geocode.NewMapQuestClient(cfg.GeocoderKey, cfg.GeocoderRPS, cfg.GeocoderTimeout)
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			result, err := geocoder.Geocode(ctx, addr)
			if err != nil {
				log.Fatalf("Geocoder unreachable: %v", err)
			}
			fmt.Println("Geocoder connection successful!")
			fmt.Printf("%s -> %.5f, %.5f\n", addr.Display(), result.Latitude, result.Longitude)
		},
	}
}
