package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/surpriz/queenmama/internal/config"
	"github.com/surpriz/queenmama/internal/database"
	"github.com/surpriz/queenmama/internal/service"
)

// MaintainCmd returns the maintain command. It runs the same purge and
// consolidation passes the API exposes, but from the shell so cron can
// drive them without holding a service token.
func MaintainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run purge and consolidation maintenance",
		Long:  "Purge low-quality and stale knowledge atoms, optionally consolidating near-duplicates, for one user or for every user with stored atoms",
		RunE:  runMaintain,
	}

	cmd.Flags().StringP("user", "u", "", "User ID to maintain")
	cmd.Flags().Bool("all", false, "Maintain every user with stored atoms")
	cmd.Flags().Bool("consolidate", false, "Also merge near-duplicate atoms")
	cmd.Flags().Bool("json", false, "Print results as JSON")

	return cmd
}

func runMaintain(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	userID, _ := cmd.Flags().GetString("user")
	all, _ := cmd.Flags().GetBool("all")
	consolidate, _ := cmd.Flags().GetBool("consolidate")
	asJSON, _ := cmd.Flags().GetBool("json")

	if userID == "" && !all {
		return fmt.Errorf("either --user or --all is required")
	}
	if userID != "" && all {
		return fmt.Errorf("--user and --all are mutually exclusive")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	pool, err := database.NewPool(ctx, database.Config{
		URL:      cfg.DatabaseURL,
		MaxConns: cfg.DatabaseMaxConns,
		MinConns: cfg.DatabaseMinConns,
	})
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	services, err := buildServices(ctx, cfg, pool)
	if err != nil {
		return err
	}

	userIDs := []string{userID}
	if all {
		userIDs, err = services.Maintenance.ListUserIDs(ctx)
		if err != nil {
			return fmt.Errorf("failed to list users: %w", err)
		}
		log.Printf("maintaining %d users", len(userIDs))
	}

	results := make(map[string]*service.MaintenanceResult, len(userIDs))
	var failed int
	for _, id := range userIDs {
		result, err := services.Maintenance.RunFullMaintenance(ctx, id, consolidate)
		if err != nil {
			// One bad user must not stop the sweep.
			log.Printf("maintenance failed for user %s: %v", id, err)
			failed++
			continue
		}
		results[id] = result
	}

	if asJSON {
		if err := json.NewEncoder(os.Stdout).Encode(results); err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
	} else {
		for id, result := range results {
			line := fmt.Sprintf("user %s: purged %d (low quality %d, stale %d)",
				id, result.Purge.PurgedCount, result.Purge.LowQualityCount, result.Purge.StaleCount)
			if result.Consolidation != nil {
				line += fmt.Sprintf(", merged %d into %d groups, %d remaining",
					result.Consolidation.AtomsMerged, result.Consolidation.GroupsFound, result.Consolidation.AtomsRemaining)
			}
			fmt.Println(line)
		}
	}

	if failed > 0 {
		return fmt.Errorf("maintenance failed for %d of %d users", failed, len(userIDs))
	}
	return nil
}
