package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"codenerd/internal/orchestrator"
	"codenerd/internal/skill"
)

var (
	dispatchTenant string
	dispatchKind   string
	dispatchSkill  string
	dispatchSlot   int
	dispatchQuery  string
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Submit a single Goal to the Orchestrator and print the Result",
	Long: `dispatch builds one Goal from flags (plus a JSON payload read from
stdin when stdin is piped) and routes it through the Orchestrator &
Dispatcher exactly as an embedding application would, printing the
resulting Result as JSON.`,
	RunE: runDispatch,
}

func init() {
	dispatchCmd.Flags().StringVar(&dispatchTenant, "tenant", "default", "tenant identifier")
	dispatchCmd.Flags().StringVar(&dispatchKind, "kind", "execute_skill", "goal kind: execute_skill|query_knowledge|autonomous_goal")
	dispatchCmd.Flags().StringVar(&dispatchSkill, "skill", "", "skill identifier (execute_skill) or Blueprint intent (autonomous_goal)")
	dispatchCmd.Flags().IntVar(&dispatchSlot, "slot", 0, "slot id (query_knowledge)")
	dispatchCmd.Flags().StringVar(&dispatchQuery, "query", "", "query text (query_knowledge)")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	app, err := buildApp(cfg)
	if err != nil {
		return fmt.Errorf("build app: %w", err)
	}
	defer app.Close()

	payload, err := readStdinPayload()
	if err != nil {
		return err
	}

	goal := orchestrator.Goal{Kind: orchestrator.GoalKind(dispatchKind)}
	switch goal.Kind {
	case orchestrator.GoalExecuteSkill:
		goal.SkillName = dispatchSkill
		goal.Payload = payload
	case orchestrator.GoalQueryKnowledge:
		goal.SlotID = dispatchSlot
		goal.Query = dispatchQuery
	case orchestrator.GoalAutonomous:
		goal.Intent = dispatchSkill
		goal.Context = payload
	default:
		goal.Op = dispatchSkill
		goal.Args = payload
	}

	res, err := app.Dispatcher.Dispatch(context.Background(), dispatchTenant, goal)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// readStdinPayload reads a JSON object from stdin if any is piped in,
// otherwise returns an empty payload; dispatch never blocks waiting on an
// interactive terminal for a payload it was not asked for.
func readStdinPayload() (skill.Payload, error) {
	stat, err := os.Stdin.Stat()
	if err != nil || (stat.Mode()&os.ModeCharDevice) != 0 {
		return skill.Payload{}, nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return skill.Payload{}, nil
	}
	var payload skill.Payload
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("parse stdin payload: %w", err)
	}
	return payload, nil
}
