package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crateload/crateload/internal/blobcache"
	"github.com/crateload/crateload/internal/config"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the blob metadata cache",
	Long:  `Manage the on-disk cache of fetched crate metadata blobs.`,
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show blob cache information",
	Long:  `Show the size, entry count, and access age of the blob cache directory.`,
	Run:   runCacheInfo,
}

var (
	cleanupDryRun     bool
	cleanupMaxAge     string
	cleanupForceLimit bool
)

var cacheCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale blob cache entries",
	Long: `Remove blob cache entries that haven't been accessed recently.

By default, removes entries not accessed within 7 days.

Examples:
  crateload cache cleanup                  # remove entries older than 7 days
  crateload cache cleanup --max-age 24h    # remove entries older than 24 hours
  crateload cache cleanup --force-limit    # evict entries to enforce the size limit`,
	Run: runCacheCleanup,
}

func init() {
	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheCleanupCmd)
	rootCmd.AddCommand(cacheCmd)

	cacheInfoCmd.Flags().Bool("json", false, "output in JSON format")

	cacheCleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "show what would be removed without deleting")
	cacheCleanupCmd.Flags().StringVar(&cleanupMaxAge, "max-age", "7d", "maximum age for cache entries (e.g., 7d, 24h)")
	cacheCleanupCmd.Flags().BoolVar(&cleanupForceLimit, "force-limit", false, "force LRU eviction to enforce the size limit")
}

func runCacheInfo(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	sizeLimit := config.GetBlobCacheSizeLimit()
	manager := blobcache.NewCacheManager(cfg.BlobCacheDir, sizeLimit)

	stats, err := manager.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get blob cache info: %v\n", err)
		exitWithCode(ExitCacheFailure)
	}

	jsonOutput, _ := cmd.Flags().GetBool("json")
	if jsonOutput {
		type cacheInfoOutput struct {
			Entries   int    `json:"entries"`
			Size      int64  `json:"size_bytes"`
			SizeLimit int64  `json:"size_limit_bytes"`
			Path      string `json:"path"`
		}
		data, _ := json.Marshal(cacheInfoOutput{
			Entries:   stats.EntryCount,
			Size:      stats.TotalSize,
			SizeLimit: sizeLimit,
			Path:      cfg.BlobCacheDir,
		})
		fmt.Println(string(data))
		return
	}

	fmt.Println("Blob Cache")
	fmt.Printf("  Entries: %d\n", stats.EntryCount)
	fmt.Printf("  Size:    %s\n", formatBytes(stats.TotalSize))
	if stats.EntryCount > 0 {
		fmt.Printf("  Oldest:  %s\n", formatRelativeTime(stats.OldestAccess))
		fmt.Printf("  Newest:  %s\n", formatRelativeTime(stats.NewestAccess))
	}
	percentUsed := float64(stats.TotalSize) / float64(sizeLimit) * 100
	fmt.Printf("  Limit:   %s (%.2f%% used)\n", formatBytes(sizeLimit), percentUsed)
	fmt.Printf("  Path:    %s\n", cfg.BlobCacheDir)
}

func runCacheCleanup(cmd *cobra.Command, args []string) {
	cfg := loadConfigOrExit()
	sizeLimit := config.GetBlobCacheSizeLimit()
	manager := blobcache.NewCacheManager(cfg.BlobCacheDir, sizeLimit)

	statsBefore, err := manager.Stats()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get blob cache size: %v\n", err)
		exitWithCode(ExitCacheFailure)
	}

	if cleanupForceLimit {
		runForceLimitCleanup(manager, statsBefore.TotalSize, sizeLimit)
		return
	}

	maxAge, err := parseCacheDuration(cleanupMaxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid --max-age value: %v\n", err)
		exitWithCode(ExitUsage)
	}

	if cleanupDryRun {
		fmt.Println("Dry run: cleanup would remove entries older than", maxAge)
		printCacheStatus(statsBefore.TotalSize, sizeLimit)
		return
	}

	fmt.Println("Cleaning up blob cache...")
	removed, err := manager.Cleanup(maxAge)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to clean up blob cache: %v\n", err)
		exitWithCode(ExitCacheFailure)
	}

	statsAfter, _ := manager.Stats()
	if removed == 0 {
		fmt.Println("No entries to remove.")
	} else {
		fmt.Printf("Removed %d entries, freed %s.\n", removed, formatBytes(statsBefore.TotalSize-statsAfter.TotalSize))
	}
	printCacheStatus(statsAfter.TotalSize, sizeLimit)
}

func runForceLimitCleanup(manager *blobcache.CacheManager, sizeBefore, sizeLimit int64) {
	if cleanupDryRun {
		fmt.Println("Dry run: checking cache status...")
		printCacheStatus(sizeBefore, sizeLimit)
		highWater := int64(float64(sizeLimit) * 0.80)
		if sizeBefore > highWater {
			fmt.Println("\nCache is above the high water mark (80%). Would evict entries down to 60%.")
		} else {
			fmt.Println("\nCache is below the high water mark. No eviction needed.")
		}
		return
	}

	fmt.Println("Enforcing blob cache size limit...")
	evicted, err := manager.EnforceLimit()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enforce limit: %v\n", err)
		exitWithCode(ExitCacheFailure)
	}

	stats, _ := manager.Stats()
	if evicted == 0 {
		fmt.Println("Cache is within size limits. No entries removed.")
	} else {
		fmt.Printf("Removed %d entries, freed %s.\n", evicted, formatBytes(sizeBefore-stats.TotalSize))
	}
	printCacheStatus(stats.TotalSize, sizeLimit)
}

func printCacheStatus(size, limit int64) {
	percent := float64(size) / float64(limit) * 100
	fmt.Printf("Cache: %s of %s (%.2f%%)\n", formatBytes(size), formatBytes(limit), percent)
}

// parseCacheDuration parses a duration string with an additional "d" suffix
// for days, which time.ParseDuration does not support natively.
func parseCacheDuration(value string) (time.Duration, error) {
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if len(value) > 1 && (value[len(value)-1] == 'd' || value[len(value)-1] == 'D') {
		daysStr := value[:len(value)-1]
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid day format: %s", value)
		}
		if days <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", value)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return duration, nil
}

func formatRelativeTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	age := time.Since(t)
	switch {
	case age < time.Hour:
		mins := int(age.Minutes())
		if mins <= 1 {
			return "just now"
		}
		return fmt.Sprintf("%d minutes ago", mins)
	case age < 24*time.Hour:
		hours := int(age.Hours())
		if hours == 1 {
			return "1 hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	default:
		days := int(age.Hours() / 24)
		if days == 1 {
			return "1 day ago"
		}
		return fmt.Sprintf("%d days ago", days)
	}
}

func formatBytes(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}
