package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/eldtechnologies/carelink/internal/models"
)

func notificationsCmd() *cobra.Command {
	var unreadOnly bool
	list := withApp(func(ctx context.Context, a *app, args []string) error {
		items := a.notices.List()
		fmt.Printf("%d notifications, %d unread\n", len(items), a.notices.UnreadCount())
		printNotifications(os.Stdout, items, unreadOnly)
		return nil
	})

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"n"},
		Short:   "List and manage notifications",
		Args:    cobra.NoArgs,
		RunE:    list,
	}
	cmd.PersistentFlags().BoolVar(&unreadOnly, "unread", false, "only show unread notifications")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List notifications, most recent first",
			Args:  cobra.NoArgs,
			RunE:  list,
		},
		&cobra.Command{
			Use:   "read <id>",
			Short: "Mark a notification as read",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app, args []string) error {
				return a.notices.MarkRead(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "read-all",
			Short: "Mark every notification as read",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, args []string) error {
				return a.notices.MarkAllRead(ctx)
			}),
		},
		&cobra.Command{
			Use:   "remove <id>",
			Short: "Remove a notification",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, a *app, args []string) error {
				return a.notices.Remove(ctx, args[0])
			}),
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Remove every notification",
			Args:  cobra.NoArgs,
			RunE: withApp(func(ctx context.Context, a *app, args []string) error {
				return a.notices.Clear(ctx)
			}),
		},
	)
	return cmd
}

func printNotifications(w io.Writer, items []models.Notification, unreadOnly bool) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	for _, n := range items {
		if unreadOnly && n.Read {
			continue
		}
		mark := " "
		if !n.Read {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s: %s\n", mark, n.ID, n.Type, humanize.Time(n.CreatedAt), n.Title, n.Message)
	}
	tw.Flush()
}

// termToaster prints toasts as one-line banners.
type termToaster struct {
	out io.Writer
}

func (t termToaster) Toast(n models.Notification) {
	fmt.Fprintf(t.out, "[%s] %s: %s\n", n.Type, n.Title, n.Message)
}
