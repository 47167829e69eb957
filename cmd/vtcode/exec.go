package main

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vtcode/vtcode/pkg/models"
)

// buildExecCmd implements "vtcode exec <task>": run a single task to
// completion against the configured workspace, print the result, and exit.
func buildExecCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec [task]",
		Short: "Run a single task and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExec(cmd, *configPath, strings.Join(args, " "))
		},
	}
	return cmd
}

func runExec(cmd *cobra.Command, configPath, task string) error {
	sess, err := newSession(configPath)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	defer sess.Close(ctx)
	agentSession, err := sess.sessions.GetOrCreate(ctx, "exec-"+uuid.NewString(), "default", models.ChannelCLI, "local")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	msg := &models.Message{
		SessionID: agentSession.ID,
		Channel:   models.ChannelCLI,
		Role:      models.RoleUser,
		Content:   task,
	}

	out := cmd.OutOrStdout()
	if err := runTurn(ctx, sess, agentSession, msg, out); err != nil {
		return wrapCancelled(err)
	}
	return nil
}
