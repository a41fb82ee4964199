/*
Copyright © 2025 Valentyn Solomko <valentyn.solomko@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/valpere/aclarador/internal/store"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the durable unit result cache",
	Long: `List, inspect, and clear the SQLite tier of the unit result cache.

Entries are keyed by a hash of the unit id, the input text and the request
context; "delete" takes a key prefix as shown by "list".`,
}

// withStore opens the configured database for the duration of fn.
func withStore(fn func(ctx context.Context, db *store.Store) error) error {
	db, err := openStore(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	return fn(context.Background(), db)
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			entries, err := db.ListCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to list entries: %w", err)
			}
			if len(entries) == 0 {
				fmt.Println("Cache is empty.")
				return nil
			}

			now := time.Now()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSIZE\tEXPIRES\tLAST ACCESS\tSTATUS")
			for _, e := range entries {
				status := "active"
				if !e.Expiry.After(now) {
					status = "expired"
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\n",
					shortKey(e.Key), e.Size,
					e.Expiry.Format("2006-01-02 15:04"),
					e.LastAccess.Format("2006-01-02 15:04"),
					status)
			}
			return w.Flush()
		})
	},
}

func shortKey(k string) string {
	if len(k) > 16 {
		return k[:16]
	}
	return k
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			stats, err := db.CacheStats(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			fmt.Printf("Total entries:   %d\n", stats.TotalEntries)
			fmt.Printf("Active entries:  %d\n", stats.ActiveEntries)
			fmt.Printf("Expired entries: %d\n", stats.ExpiredEntries)
			fmt.Printf("Total size:      %d bytes\n", stats.TotalBytes)
			fmt.Printf("Default TTL:     %v\n", cfg.Cache.TTL)
			return nil
		})
	},
}

var cacheDeleteCmd = &cobra.Command{
	Use:   "delete <key-prefix>",
	Short: "Delete cache entries whose key starts with a prefix",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.DeleteCacheByPrefix(ctx, args[0])
			if err != nil {
				return fmt.Errorf("failed to delete entries: %w", err)
			}
			fmt.Printf("Deleted %d entries matching %s\n", n, args[0])
			return nil
		})
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove all cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.ClearCache(ctx)
			if err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Printf("Cleared %d entries from the cache.\n", n)
			return nil
		})
	},
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Remove expired cache entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(ctx context.Context, db *store.Store) error {
			n, err := db.PurgeExpired(ctx, time.Now())
			if err != nil {
				return fmt.Errorf("failed to purge cache: %w", err)
			}
			fmt.Printf("Purged %d expired entries.\n", n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheDeleteCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePurgeCmd)
}
