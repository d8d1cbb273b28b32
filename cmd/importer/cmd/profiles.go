package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"trade-import-service/internal/models"
	"trade-import-service/internal/persistence"
	"trade-import-service/internal/profiles"
)

var profilesCmd = &cobra.Command{
	Use:   "profiles",
	Short: "List the platform profiles and the columns they expect",
	Long: `Profiles lists every platform profile that can seed a column mapping,
including the ones loaded with --profiles-file.

Examples:
  importer profiles
  importer profiles --profiles-file my-broker.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry := profiles.NewRegistry()
		path, _ := cmd.Flags().GetString("profiles-file")
		if path == "" {
			path = viper.GetString("profiles-file")
		}
		if path != "" {
			if err := registry.LoadProfilesFile(path); err != nil {
				return err
			}
		}
		printProfiles(registry, cmd.OutOrStdout())
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List imports committed to a local SQLite store",
	Long: `History lists the imports stored with 'importer import --commit --store',
newest first.

Examples:
  importer history --store trades.db`,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, _ := cmd.Flags().GetString("store")
		store, err := persistence.OpenSQLiteStore(cmd.Context(), path)
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Imports(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintf(out, "No imports in %s\n", path)
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(out, "%s  %-30s %5d trades  %s\n",
				r.ImportedAt.Local().Format("2006-01-02 15:04:05"), r.Filename, r.TradeCount, r.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
	rootCmd.AddCommand(historyCmd)

	profilesCmd.Flags().String("profiles-file", "", "YAML file with additional platform profiles")

	historyCmd.Flags().String("store", "", "SQLite file written by import --store (required)")
	historyCmd.MarkFlagRequired("store")
}

func printProfiles(registry *profiles.Registry, out io.Writer) {
	for _, p := range registry.ListProfiles() {
		fmt.Fprintf(out, "%s (%s)\n", p.ID, p.DisplayName)
		if p.Description != "" {
			fmt.Fprintf(out, "  %s\n", p.Description)
		}
		if p.IsCustom() {
			fmt.Fprintf(out, "  no preset columns; map every field with --map\n\n")
			continue
		}

		var columns []string
		for _, field := range models.FixedFields {
			if header, ok := p.FieldMap[field]; ok {
				columns = append(columns, fmt.Sprintf("%s=%q", field, header))
			}
		}
		fmt.Fprintf(out, "  %s\n\n", strings.Join(columns, " "))
	}
}
