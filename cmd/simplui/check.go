package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:     "check",
	Short:   "Check that the engine is reachable and the workflows load",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newComfyClient()
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		reachable := client.CheckConnection(ctx)

		broken := map[string]string{}
		for _, name := range cfg.WorkflowNames() {
			if _, err := cfg.LoadWorkflow(name); err != nil {
				broken[name] = err.Error()
			}
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			if err := printJSON(out, map[string]any{
				"engine":           client.BaseURL(),
				"engine_reachable": reachable,
				"workflows":        cfg.WorkflowNames(),
				"broken":           broken,
			}); err != nil {
				return err
			}
		} else {
			state := "unreachable"
			if reachable {
				state = "reachable"
			}
			fmt.Fprintf(out, "Engine %s: %s\n", client.BaseURL(), state)
			for _, name := range cfg.WorkflowNames() {
				status := "ok"
				if msg, ok := broken[name]; ok {
					status = msg
				}
				fmt.Fprintf(out, "Workflow %s: %s\n", name, status)
			}
		}

		if !reachable {
			return fmt.Errorf("engine unreachable at %s", client.BaseURL())
		}
		if len(broken) > 0 {
			return fmt.Errorf("%d workflow(s) failed to load", len(broken))
		}
		return nil
	},
}
