package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/conversational-client/internal/model"
	"github.com/capitalize-ai/conversational-client/internal/transcript"
)

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			convs, err := a.api.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(convs) == 0 {
				fmt.Fprintln(out, "No conversations yet.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tUPDATED")
			for _, c := range convs {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.Title, formatTime(c.UpdatedAt.Time))
			}
			return tw.Flush()
		},
	}
}

func newNewCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "new [title]",
		Short: "Start a conversation",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var title string
			if len(args) == 1 {
				title = args[0]
			}
			conv, err := a.ctrl.CreateConversation(cmd.Context(), title)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", conv.ID, conv.Title)
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a conversation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.ctrl.SwitchConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# %s\n\n", conv.Title)
			for _, m := range a.ctrl.Store().Messages() {
				printMessage(out, m)
			}
			return nil
		},
	}
}

func newSendCmd(a *app) *cobra.Command {
	var noStream bool

	cmd := &cobra.Command{
		Use:   "send <id> <text>...",
		Short: "Send a message and print the reply as it arrives",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			id, text := args[0], strings.Join(args[1:], " ")

			if _, err := a.ctrl.SwitchConversation(ctx, id); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprint(out, "assistant> ")
			unsubscribe := a.ctrl.Store().Subscribe(func(c transcript.Change) {
				switch c.Kind {
				case transcript.ChangeContent:
					fmt.Fprint(out, c.Delta)
				case transcript.ChangeFinalized:
					fmt.Fprintln(out)
				}
			})
			defer unsubscribe()

			var err error
			if noStream || !a.cfg.Client.UseStream {
				_, err = a.ctrl.SendSync(ctx, id, text)
			} else {
				_, err = a.ctrl.Send(ctx, id, text)
			}
			if err != nil {
				fmt.Fprintln(out)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "wait for the whole reply instead of streaming it")
	return cmd
}

func newDeleteCmd(a *app) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete conversations",
		Args: func(cmd *cobra.Command, args []string) error {
			if all && len(args) > 0 {
				return errors.New("--all takes no ids")
			}
			if !all && len(args) == 0 {
				return errors.New("at least one conversation id is required")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case all:
				n, err := a.api.DeleteAllConversations(ctx)
				if err != nil {
					return err
				}
				a.ctrl.CloseConversation()
				fmt.Fprintf(out, "Deleted %d conversations.\n", n)
			case len(args) == 1:
				if err := a.ctrl.DeleteConversation(ctx, args[0]); err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted conversation %s.\n", args[0])
			default:
				n, err := a.ctrl.DeleteConversations(ctx, args)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Deleted %d conversations.\n", n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "delete every conversation")
	return cmd
}

func printMessage(w io.Writer, m model.Message) {
	fmt.Fprintf(w, "%s> %s\n", m.Role, m.Content)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}
