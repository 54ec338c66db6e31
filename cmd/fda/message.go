package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/zulandar/fda/internal/messaging"
	"github.com/zulandar/fda/internal/models"
	"github.com/zulandar/fda/internal/notify"
)

func newMessageCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "message",
		Short: "Messaging commands",
	}

	cmd.AddCommand(newMessageSendCmd())
	cmd.AddCommand(newMessageInboxCmd())
	cmd.AddCommand(newMessageReadCmd())
	cmd.AddCommand(newMessageThreadCmd())
	cmd.AddCommand(newMessageCleanupCmd())
	return cmd
}

// busFromConfig opens the bus named by the config at configPath, with the
// configured notifiers attached.
func busFromConfig(configPath string) (*messaging.Bus, *notify.Multi, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}

	sinks, err := notify.FromConfig(cfg.Notify)
	if err != nil {
		return nil, nil, err
	}
	bus, err := openBus(cfg, sinks)
	if err != nil {
		return nil, nil, err
	}
	return bus, sinks, nil
}

func newMessageSendCmd() *cobra.Command {
	var (
		configPath string
		from       string
		to         string
		msgType    string
		subject    string
		body       string
		priority   string
		replyTo    string
	)

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message to an agent",
		Long:  "Appends a message to the bus. Use --to broadcast to reach every agent and --reply-to to answer in a thread.",
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, sinks, err := busFromConfig(configPath)
			if err != nil {
				return err
			}
			defer sinks.Wait()

			id, err := bus.Send(context.Background(), from, to, msgType, subject, body, priority,
				messaging.SendOpts{ReplyTo: replyTo})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Sent message %s to %s\n", id, to)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&from, "from", messaging.HumanRecipient, "sender")
	cmd.Flags().StringVar(&to, "to", "", "recipient agent (required)")
	cmd.Flags().StringVar(&msgType, "type", models.MsgRequest, "message type (task, alert, request, response, blocker, status)")
	cmd.Flags().StringVar(&subject, "subject", "", "message subject (required)")
	cmd.Flags().StringVar(&body, "body", "", "message body")
	cmd.Flags().StringVar(&priority, "priority", models.PriorityMedium, "message priority (low, medium, high)")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message ID this answers")
	cmd.MarkFlagRequired("to")
	cmd.MarkFlagRequired("subject")
	return cmd
}

func newMessageInboxCmd() *cobra.Command {
	var (
		configPath string
		all        bool
	)

	cmd := &cobra.Command{
		Use:   "inbox <agent>",
		Short: "View an agent's inbox",
		Long:  "Lists unread messages for an agent, ordered by priority then arrival. Use --all to include read ones.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _, err := busFromConfig(configPath)
			if err != nil {
				return err
			}

			agent := args[0]
			var msgs []models.Message
			if all {
				msgs, err = bus.AllForAgent(agent)
			} else {
				msgs, err = bus.GetPending(agent)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No messages for %s\n", agent)
				return nil
			}
			printMessages(out, messaging.SortByPriority(msgs), agent)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().BoolVar(&all, "all", false, "include read messages")
	return cmd
}

func newMessageReadCmd() *cobra.Command {
	var (
		configPath string
		as         string
	)

	cmd := &cobra.Command{
		Use:   "read <id>",
		Short: "Print a message and mark it read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _, err := busFromConfig(configPath)
			if err != nil {
				return err
			}

			msg, err := bus.Get(args[0])
			if err != nil {
				return err
			}
			reader := as
			if reader == "" {
				reader = msg.To
			}
			if err := bus.Ack(context.Background(), msg, reader); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:       %s\n", msg.ID)
			fmt.Fprintf(out, "From:     %s\n", msg.From)
			fmt.Fprintf(out, "To:       %s\n", msg.To)
			fmt.Fprintf(out, "Type:     %s\n", msg.Type)
			fmt.Fprintf(out, "Priority: %s\n", msg.Priority)
			fmt.Fprintf(out, "Thread:   %s\n", msg.ThreadID)
			fmt.Fprintf(out, "Sent:     %s\n", msg.Timestamp.Local().Format("2006-01-02 15:04:05"))
			fmt.Fprintf(out, "Subject:  %s\n", msg.Subject)
			if msg.Body != "" {
				fmt.Fprintf(out, "\n%s\n", msg.Body)
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().StringVar(&as, "as", "", "reader to acknowledge as (default: the recipient)")
	return cmd
}

func newMessageThreadCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "thread <id>",
		Short: "Show every message in a thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bus, _, err := busFromConfig(configPath)
			if err != nil {
				return err
			}

			msgs, err := bus.GetThread(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(msgs) == 0 {
				fmt.Fprintf(out, "No thread %s\n", args[0])
				return nil
			}
			for _, m := range msgs {
				fmt.Fprintf(out, "[%s] %s -> %s (%s): %s\n",
					m.Timestamp.Local().Format("2006-01-02 15:04"), m.From, m.To, m.Type, m.Subject)
				if m.Body != "" {
					fmt.Fprintf(out, "    %s\n", truncate(m.Body, 200))
				}
			}
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	return cmd
}

func newMessageCleanupCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove old messages from the bus",
		Long:  "Removes messages older than --days (default: bus.retention_days from the config).",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			bus, err := openBus(cfg, nil)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Bus.RetentionDays
			}
			if days <= 0 {
				return fmt.Errorf("--days must be positive")
			}

			removed, err := bus.Cleanup(context.Background(), time.Duration(days)*24*time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d messages older than %d days\n", removed, days)
			return nil
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().IntVar(&days, "days", 30, "age in days")
	return cmd
}

func printMessages(out io.Writer, msgs []models.Message, agent string) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tFROM\tTYPE\tPRIORITY\tREAD\tSENT\tSUBJECT")
	for _, m := range msgs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%t\t%s\t%s\n",
			m.ID, m.From, m.Type, m.Priority, m.ReadByAgent(agent),
			m.Timestamp.Local().Format("2006-01-02 15:04"), truncate(m.Subject, 50))
	}
	w.Flush()
}
