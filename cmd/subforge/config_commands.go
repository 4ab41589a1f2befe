package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"subforge/internal/config"
)

func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration utilities",
	}

	configCmd.AddCommand(newConfigInitCommand())
	configCmd.AddCommand(newConfigShowCommand())

	return configCmd
}

func newConfigInitCommand() *cobra.Command {
	var targetPath string
	var overwrite bool

	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Create a sample configuration file",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			target := strings.TrimSpace(targetPath)
			if target == "" {
				defaultPath, err := config.DefaultConfigPath()
				if err != nil {
					return fmt.Errorf("determine default config path: %w", err)
				}
				target = defaultPath
			} else {
				expanded, err := config.ExpandPath(target)
				if err != nil {
					return fmt.Errorf("resolve config path: %w", err)
				}
				target = expanded
			}

			dir := filepath.Dir(target)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create config directory %q: %w", dir, err)
			}

			if overwrite {
				if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
					return fmt.Errorf("remove existing config: %w", err)
				}
			}

			if err := config.WriteSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Wrote sample configuration to %s\n", target)
			fmt.Fprintf(out, "Export %s before running subforge process.\n", config.EnvAPIToken)
			return nil
		},
	}

	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Overwrite existing configuration if present")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:         "show",
		Short:       "Show the resolved configuration",
		Annotations: map[string]string{"skipConfigLoad": "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if flag := cmd.Flags().Lookup("config"); flag != nil {
				path = flag.Value.String()
			} else if root := cmd.Root(); root != nil {
				if flag := root.PersistentFlags().Lookup("config"); flag != nil {
					path = flag.Value.String()
				}
			}
			cfg, resolved, exists, err := config.Load(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Config path: %s\n", resolved)
			if !exists {
				fmt.Fprintln(out, "Config file did not exist; defaults apply")
			}
			rows := [][]string{
				{"cache_dir", cfg.Paths.CacheDir},
				{"state_dir", cfg.Paths.StateDir},
				{"work_dir", cfg.Paths.WorkDir},
				{"log_dir", cfg.Paths.LogDir},
				{"api.url", cfg.API.URL},
				{"api.token", maskToken(cfg.APIToken)},
				{"api.max_retries", fmt.Sprintf("%d", cfg.API.MaxRetries)},
				{"chunking.max_chunk_seconds", fmt.Sprintf("%.0f", cfg.Chunking.MaxChunkSeconds)},
				{"chunking.max_parallel_chunks", fmt.Sprintf("%d", cfg.Chunking.MaxParallelChunks)},
				{"cache.max_bytes", formatBytes(cfg.Cache.MaxBytes)},
				{"scheduler.max_concurrent", fmt.Sprintf("%d", cfg.Scheduler.MaxConcurrent)},
				{"scheduler.max_memory_percent", fmt.Sprintf("%.0f", cfg.Scheduler.MaxMemoryPercent)},
				{"subtitles.language", cfg.Subtitles.Language},
				{"logging.level", cfg.Logging.Level},
			}
			table := renderTable([]column{{header: "Setting"}, {header: "Value"}}, rows)
			fmt.Fprintln(out, table)
			return nil
		},
	}
}

func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 6 {
		return "******"
	}
	return token[:3] + "..." + token[len(token)-3:]
}
