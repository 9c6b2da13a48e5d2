package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/dkerobean/StockFlowBackend-sub000/internal/auth"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/config"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/db"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/domain"
	"github.com/dkerobean/StockFlowBackend-sub000/internal/excel"
)

var (
	tokenUser      string
	tokenRole      string
	tokenLocations []string
	tokenTTL       time.Duration

	locationName string
	locationType string
	operatorID   string

	importFile     string
	importLocation string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.MemoryStore() {
			return errors.New("migrate needs a postgres STORE_CONNECTION_URI")
		}
		pool, err := db.NewPool(cmd.Context(), cfg.StoreURI, cfg.Pool)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := db.RunMigrations(cmd.Context(), pool); err != nil {
			return err
		}
		version, err := db.MigrationVersion(cmd.Context(), pool)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a bearer credential for a user",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tokens, err := auth.NewTokens(cfg.SigningKey, cfg.CredentialTTL)
		if err != nil {
			return err
		}
		p := domain.Principal{UserID: tokenUser, Role: domain.Role(tokenRole), Locations: tokenLocations}
		ttl := tokenTTL
		if ttl <= 0 {
			ttl = cfg.CredentialTTL
		}
		raw, expires, err := tokens.IssueFor(p, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\n# expires %s\n", raw, expires.UTC().Format(time.RFC3339))
		return nil
	},
}

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Manage locations",
}

var locationAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create a location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		loc, err := a.service().CreateLocation(cmd.Context(), operator(), locationName, domain.LocationType(locationType))
		if err != nil {
			return err
		}
		return printJSON(cmd, loc)
	},
}

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Load initial stock levels for a location from a spreadsheet",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := os.Open(importFile)
		if err != nil {
			return err
		}
		defer f.Close()
		lines, err := excel.ParseInitialStock(f)
		if err != nil {
			return err
		}

		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		result, err := a.service().ImportInitialStock(cmd.Context(), operator(), importLocation, lines)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

// operator is the admin identity recorded for command-line changes.
func operator() domain.Principal {
	return domain.Principal{UserID: operatorID, Role: domain.RoleAdmin}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(domain.RoleStaff), "admin, manager or staff")
	tokenCmd.Flags().StringSliceVar(&tokenLocations, "location", nil, "accessible location id (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "credential lifetime (defaults to CREDENTIAL_TTL)")
	_ = tokenCmd.MarkFlagRequired("user")

	locationAddCmd.Flags().StringVar(&locationName, "name", "", "location name")
	locationAddCmd.Flags().StringVar(&locationType, "type", string(domain.LocationStore), "Store, Warehouse, DistributionCenter or Outlet")
	_ = locationAddCmd.MarkFlagRequired("name")
	locationCmd.AddCommand(locationAddCmd)

	importCmd.Flags().StringVar(&importFile, "file", "", "xlsx workbook with sku and quantity columns")
	importCmd.Flags().StringVar(&importLocation, "location", "", "target location id")
	_ = importCmd.MarkFlagRequired("file")
	_ = importCmd.MarkFlagRequired("location")

	for _, c := range []*cobra.Command{locationAddCmd, importCmd} {
		c.Flags().StringVar(&operatorID, "user", "cli", "user id recorded as the actor")
	}

	rootCmd.AddCommand(migrateCmd, tokenCmd, locationCmd, importCmd)
}
