// ============================================================================
// Journalctl CLI - Command Line Interface
// ============================================================================
//
// Package: internal/cli
// File: cli.go
// Purpose: Provides the storage core's administrative command line
// interface based on the Cobra framework.
//
// Command Structure:
//   journalctl                     # Root command
//   ├── repair                     # Scan + repair every journal in a dir
//   │   └── --dir, -d             # Data directory (overrides config)
//   │   └── --config, -c          # Specify config file
//   ├── compact                    # Compact journals recommended for it
//   │   └── --dir, -d             # Data directory (overrides config)
//   │   └── --force                # Compact every journal regardless of recommendation
//   │   └── --config, -c          # Specify config file
//   ├── --version                  # Display version information
//   └── --help                     # Display help information
//
// Configuration Management:
//   Uses YAML format config file (default: configs/admin.yaml)
//   Configuration items include:
//   - data_dir: directory holding one file per journal
//   - concurrency: max journals processed at once
//   - min_compaction_file_size: "small file" threshold override for test envs
//   - auto_sync: fsync every commit made while compacting
//   - metrics: Prometheus monitoring configuration
//
// repair Command:
//   Scans every journal under the data directory and, for any that show
//   recoverable damage, truncates to the last known-good event and closes
//   it out cleanly. Journals that scan clean are left untouched.
//
//   Examples:
//     ./journalctl repair
//     ./journalctl repair -d /var/lib/storecore -c admin.yaml
//
// compact Command:
//   Rewrites every journal whose statistics cross the compaction
//   recommendation thresholds into a minimal equivalent log. --force
//   compacts every journal regardless of recommendation.
//
//   Examples:
//     ./journalctl compact
//     ./journalctl compact --force
//
// Error Handling:
//   - Config load failed: return detailed error information
//   - A single journal's repair/compaction failure is logged and does not
//     abort the sweep over the rest of the directory
//
// ============================================================================

package cli

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nimbusdb/storecore/internal/admin"
	"github.com/nimbusdb/storecore/internal/demo"
	"github.com/nimbusdb/storecore/internal/metrics"
	"github.com/nimbusdb/storecore/pkg/storecore"
)

// AdminConfig is the admin CLI's configuration structure, loaded from a
// YAML file (default: configs/admin.yaml).
type AdminConfig struct {
	DataDir               string `yaml:"data_dir"`
	Concurrency           int    `yaml:"concurrency"`
	MinCompactionFileSize uint64 `yaml:"min_compaction_file_size"`
	AutoSync              bool   `yaml:"auto_sync"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`
}

var configFile string

// BuildCLI assembles the journalctl command tree.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "journalctl",
		Short: "journalctl: administer storecore journals",
		Long: `journalctl is the administrative CLI for the storecore journal
storage layer:
- repair scans every journal in a data directory and truncates recoverable
  damage
- compact rewrites journals recommended for compaction into a minimal
  equivalent log`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "configs/admin.yaml", "config file path")

	rootCmd.AddCommand(buildRepairCommand())
	rootCmd.AddCommand(buildCompactCommand())

	return rootCmd
}

func buildRepairCommand() *cobra.Command {
	var dir string

	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Scan and repair every journal in the data directory",
		Long:  "Truncate recoverable trailing damage and close out each affected journal cleanly",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRepair(dir)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "data directory (overrides config's data_dir)")

	return cmd
}

func buildCompactCommand() *cobra.Command {
	var dir string
	var force bool

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Compact journals recommended for it",
		Long:  "Rewrite each journal crossing the compaction recommendation thresholds into a minimal equivalent log",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompact(dir, force)
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "data directory (overrides config's data_dir)")
	cmd.Flags().BoolVar(&force, "force", false, "compact every journal regardless of recommendation")

	return cmd
}

func runRepair(dirOverride string) error {
	cfg, err := LoadAdminConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dir := dirOverride
	if dir == "" {
		dir = cfg.DataDir
	}

	paths, err := admin.DiscoverJournals(dir)
	if err != nil {
		return fmt.Errorf("failed to list data directory %s: %w", dir, err)
	}

	collector := startMetricsIfEnabled(cfg)

	gs := &demo.GlobalState{}
	results := admin.SweepRepair(paths, cfg.Concurrency, demo.Handle(gs))

	for _, r := range results {
		if collector != nil {
			collector.RecordRepair(r.Outcome)
		}
		if r.Err != nil {
			log.Printf("repair: failed on %s: %v\n", r.Path, r.Err)
			continue
		}
		if !r.Outcome.NoErrors {
			log.Printf("repair: LOST DATA. repaired %s but lost atleast %d trailing bytes\n", r.Path, r.Outcome.LostBytes)
		}
	}

	return nil
}

func runCompact(dirOverride string, force bool) error {
	cfg, err := LoadAdminConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	dir := dirOverride
	if dir == "" {
		dir = cfg.DataDir
	}

	paths, err := admin.DiscoverJournals(dir)
	if err != nil {
		return fmt.Errorf("failed to list data directory %s: %w", dir, err)
	}

	minFileSize := cfg.MinCompactionFileSize
	if minFileSize == 0 {
		minFileSize = storecore.DefaultMinCompactionFileSize
	}

	collector := startMetricsIfEnabled(cfg)

	gs := &demo.GlobalState{}
	results := admin.SweepCompact(paths, cfg.Concurrency, force, cfg.AutoSync, minFileSize, demo.Handle(gs), demo.Rewrite(gs), time.Now())

	for _, r := range results {
		if r.Err != nil {
			log.Printf("compact: failed on %s: %v\n", r.Path, r.Err)
			continue
		}
		if r.Compacted {
			if collector != nil {
				collector.RecordCompaction()
				collector.ObserveStats(r.Path, r.Stats)
			}
			log.Printf("compact: rewrote %s (%d bytes, %d server events)\n", r.Path, r.Stats.FileSize, r.Stats.ServerEventCount)
		}
	}

	return nil
}

func startMetricsIfEnabled(cfg *AdminConfig) *metrics.Collector {
	if !cfg.Metrics.Enabled {
		return nil
	}
	collector := metrics.NewCollector()
	go func() {
		if err := metrics.StartServer(cfg.Metrics.Port); err != nil {
			log.Printf("metrics server error: %v\n", err)
		}
	}()
	return collector
}

// LoadAdminConfig reads and parses path as an AdminConfig, applying the
// defaults a freshly scaffolded deployment expects: four-way journal
// concurrency and the production "small file" compaction threshold.
func LoadAdminConfig(path string) (*AdminConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AdminConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}

	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MinCompactionFileSize == 0 {
		cfg.MinCompactionFileSize = storecore.DefaultMinCompactionFileSize
	}

	return &cfg, nil
}
