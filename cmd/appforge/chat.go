package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codefionn/appforge/internal/agent"
	"github.com/codefionn/appforge/internal/store"
	"github.com/codefionn/appforge/internal/stream"
)

var (
	chatProject string
	chatNew     string
	chatUser    string
	chatJSON    bool
)

// chatCmd runs a single turn against a project and prints it to stdout.
var chatCmd = &cobra.Command{
	Use:   "chat [flags] MESSAGE...",
	Short: "Send one message to a project and print the agent's reply",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if (chatProject == "") == (chatNew == "") {
			return errors.New("exactly one of --project or --new is required")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		a, err := newApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		projectID := chatProject
		if chatNew != "" {
			project, err := a.db.CreateProject(ctx, chatUser, chatNew)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "created project %s\n", project.ID)
			projectID = project.ID
		}

		out := cmd.OutOrStdout()
		var sink agent.Sink = &textSink{w: out}
		if chatJSON {
			monitor := stream.NewMonitor(stream.NewNDJSONTransport(out, nil, nil), 0)
			defer monitor.Close()
			sink = monitor
		}

		req := agent.TurnRequest{ProjectID: projectID, Content: strings.Join(args, " ")}
		outcome, err := a.orchestrator.RunTurn(ctx, req, sink)
		if err != nil {
			return err
		}
		if outcome.Errors > 0 {
			return fmt.Errorf("turn finished with %d error(s)", outcome.Errors)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatProject, "project", "", "Existing project id")
	chatCmd.Flags().StringVar(&chatNew, "new", "", "Create a project with this name")
	chatCmd.Flags().StringVar(&chatUser, "user", "local", "Owner of a project created with --new")
	chatCmd.Flags().BoolVar(&chatJSON, "json", false, "Print the raw NDJSON event stream")
}

// textSink renders events for a terminal
type textSink struct {
	w io.Writer
}

func (s *textSink) Send(ev *stream.Event) bool {
	switch ev.Type {
	case stream.EventChunk:
		fmt.Fprint(s.w, ev.Content)
	case stream.EventAction:
		fmt.Fprintf(s.w, "\n> %s\n", ev.Action)
	case stream.EventTool:
		if ev.Tool.Status == store.StatusError {
			fmt.Fprintf(s.w, "\n[%s] error: %s\n", ev.Tool.Name, ev.Tool.Error)
		} else {
			fmt.Fprintf(s.w, "\n[%s] %s\n", ev.Tool.Name, ev.Tool.Summary)
		}
	case stream.EventError:
		fmt.Fprintf(s.w, "\nerror: %s\n", ev.Message)
	case stream.EventDone:
		fmt.Fprintln(s.w)
	}
	return true
}
