package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/vtcode/vtcode/pkg/models"
)

// runInteractiveSession opens a REPL against stdin/stdout: each line the
// user types becomes one agent turn, streamed back as it completes.
// Ctrl-D (EOF) ends the session cleanly; SIGINT/SIGTERM cancel the
// in-flight turn and exit with code 130.
func runInteractiveSession(cmd *cobra.Command, configPath string) error {
	sess, err := newSession(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	defer sess.Close(context.Background())

	agentSession, err := sess.sessions.GetOrCreate(ctx, "cli-"+uuid.NewString(), "default", models.ChannelCLI, "local")
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "VTCode interactive session. Type a task, or Ctrl-D to exit.")

	reader := bufio.NewScanner(cmd.InOrStdin())
	reader.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Fprint(out, "> ")
		if !reader.Scan() {
			if err := reader.Err(); err != nil && err != io.EOF {
				return fmt.Errorf("read input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}

		line := strings.TrimSpace(reader.Text())
		if line == "" {
			continue
		}

		if ctx.Err() != nil {
			return wrapCancelled(ctx.Err())
		}

		msg := &models.Message{
			SessionID: agentSession.ID,
			Channel:   models.ChannelCLI,
			Role:      models.RoleUser,
			Content:   line,
		}

		if err := runTurn(ctx, sess, agentSession, msg, out); err != nil {
			if errors.Is(err, context.Canceled) {
				return wrapCancelled(err)
			}
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

// runTurn drives one agent turn to completion, writing streamed text and
// tool activity to out.
func runTurn(ctx context.Context, sess *session, agentSession *models.Session, msg *models.Message, out io.Writer) error {
	chunks, err := sess.runtime.Process(ctx, agentSession, msg)
	if err != nil {
		return err
	}
	for chunk := range chunks {
		if chunk.Error != nil {
			return chunk.Error
		}
		if chunk.Text != "" {
			fmt.Fprint(out, chunk.Text)
		}
		if chunk.ToolEvent != nil {
			fmt.Fprintf(out, "\n[tool: %s]\n", chunk.ToolEvent.ToolName)
		}
	}
	fmt.Fprintln(out)
	return ctx.Err()
}
