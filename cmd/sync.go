package cmd

import (
	"context"
	"os"
	"os/signal"
	"strconv"

	"github.com/emrgen/docsync/internal/docstore"
	"github.com/emrgen/docsync/internal/protocol"
	"github.com/emrgen/docsync/internal/service"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"
)

func init() {
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(lastSeqCmd())
}

func syncCmd() *cobra.Command {
	var full bool

	command := &cobra.Command{
		Use:     "sync",
		Short:   "pull changes from the relay",
		Example: "doc sync --full",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := commandContext()
			defer cancel()

			offline = false
			client, err := dialClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			stats, err := runSync(ctx, client, full)
			if err != nil {
				logrus.Error(err)
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Applied", "Duplicate", "Rejected", "Purged", "Last Seq"})
			table.Append([]string{
				strconv.Itoa(stats.Applied),
				strconv.Itoa(stats.Duplicate),
				strconv.Itoa(stats.Rejected),
				strconv.Itoa(stats.Purged),
				strconv.FormatInt(stats.LastSeq, 10),
			})
			table.Render()
		},
	}

	command.Flags().BoolVar(&full, "full", false, "drop local state and replay the whole feed")

	return command
}

type syncer interface {
	FullSync(ctx context.Context) (service.SyncStats, error)
	IncrementalSync(ctx context.Context) (service.SyncStats, error)
}

func runSync(ctx context.Context, s syncer, full bool) (service.SyncStats, error) {
	if full {
		return s.FullSync(ctx)
	}
	return s.IncrementalSync(ctx)
}

func watchCmd() *cobra.Command {
	var schedule bool

	command := &cobra.Command{
		Use:   "watch",
		Short: "follow the relay's changes feed until interrupted",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT, unix.SIGTERM)
			defer stop()

			offline = false
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			client.Remote.OnStateChange(func(state protocol.State) {
				if state == protocol.StateDisconnected {
					color.Yellow("relay disconnected")
					stop()
				}
			})

			unsubscribe := client.Docs.Subscribe(func(change docstore.Change) {
				logrus.Infof("%s %s", change.Kind, change.DocumentID)
			})
			defer unsubscribe()

			if schedule {
				if err := client.StartScheduler(); err != nil {
					logrus.Error(err)
					return
				}
			}

			color.Green("watching %s from seq %d", client.Remote.URL(), client.LastSeq())
			if err := client.Watch(ctx); err != nil {
				logrus.Error(err)
			}
		},
	}

	command.Flags().BoolVar(&schedule, "schedule", false, "also run the scheduled incremental sync")

	return command
}

func lastSeqCmd() *cobra.Command {
	command := &cobra.Command{
		Use:   "lastseq",
		Short: "compare the local and relay sequence numbers",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := commandContext()
			defer cancel()

			offline = false
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			remote, err := client.Remote.LastSeq(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Local", "Relay"})
			table.Append([]string{strconv.FormatInt(client.LastSeq(), 10), strconv.FormatInt(remote, 10)})
			table.Render()
		},
	}

	return command
}
