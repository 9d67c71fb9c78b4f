package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"codenerd/internal/rollback"
)

var forgeSkillName string

var forgeCmd = &cobra.Command{
	Use:   "forge",
	Short: "Inspect Forge Pipeline / Rollback Manager state",
}

var forgeStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the PatchVersion history for a skill",
	RunE:  runForgeStatus,
}

func init() {
	forgeStatusCmd.Flags().StringVar(&forgeSkillName, "skill", "", "skill identifier (required)")
	forgeStatusCmd.MarkFlagRequired("skill")
	forgeCmd.AddCommand(forgeStatusCmd)
}

func runForgeStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer app.Close()

	history := app.Rollback.History(forgeSkillName)
	active, hasActive := app.Rollback.Active(forgeSkillName)

	out, err := json.MarshalIndent(struct {
		History []*rollback.PatchVersion `json:"history"`
		Active  *rollback.PatchVersion   `json:"active,omitempty"`
	}{History: history, Active: activeOrNil(active, hasActive)}, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func activeOrNil(pv *rollback.PatchVersion, ok bool) *rollback.PatchVersion {
	if !ok {
		return nil
	}
	return pv
}
