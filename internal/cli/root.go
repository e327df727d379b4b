// Package cli implements the command-line interface for the portal cache.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/colthorp/portal-cache-go/internal/api"
	"github.com/colthorp/portal-cache-go/internal/cache"
	"github.com/colthorp/portal-cache-go/internal/core"
	"github.com/spf13/cobra"
)

// Global flags
var (
	verbose       bool
	quiet         bool
	forceRefresh  bool
	noUpdateCache bool
	backendName   string
	cacheDir      string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "portal",
	Short:   "Portal CLI – offline-friendly access to the student portal",
	Long:    `A command-line client for the student portal that caches every resource locally and keeps working when the portal is slow or down.`,
	Version: core.Version,

	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVarP(&forceRefresh, "force-refresh", "f", false, "Skip fresh cache entries and ask the portal")
	rootCmd.PersistentFlags().BoolVar(&noUpdateCache, "no-update-cache", false, "Do not write fetched data to the cache")
	rootCmd.PersistentFlags().StringVar(&backendName, "backend", "", fmt.Sprintf("Cache backend: %s or %s (default from PORTAL_CACHE_BACKEND)", core.BackendFilesystem, core.BackendSQLite))
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache directory (default from PORTAL_CACHE_DIR or ~/.portal/cache)")
}

// fetchOptions builds per-fetch options from the global flags.
func fetchOptions() cache.Options {
	return cache.Options{ForceRefresh: forceRefresh, SkipCacheUpdate: noUpdateCache}
}

// loadConfig reads the environment and applies flag overrides.
func loadConfig() (*core.Config, error) {
	cfg, err := core.LoadConfig()
	if err != nil {
		return nil, err
	}
	if backendName != "" {
		cfg.CacheBackend = backendName
	}
	if cacheDir != "" {
		cfg.CacheDir = cacheDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openManager wires config, HTTP client and stores into a cache manager.
// The returned closer waits for background work and releases the stores.
func openManager() (*cache.Manager, io.Closer, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	client, err := api.NewClient(cfg, verbose)
	if err != nil {
		return nil, nil, err
	}

	backend, meta, stores, err := cache.OpenStores(cfg, verbose)
	if err != nil {
		return nil, nil, err
	}

	core.Eprint(fmt.Sprintf("[CLI] Using %s cache at %s", cfg.CacheBackend, cfg.CacheDir), verbose)
	m := cache.NewManager(api.NewPortalAPI(client), backend, meta, cfg, verbose)
	return m, managerCloser{m: m, stores: stores}, nil
}

type managerCloser struct {
	m      *cache.Manager
	stores io.Closer
}

func (c managerCloser) Close() error {
	c.m.Wait()
	return c.stores.Close()
}
