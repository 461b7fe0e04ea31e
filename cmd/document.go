package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/emrgen/docsync"
	"github.com/emrgen/docsync/internal/config"
	"github.com/emrgen/docsync/internal/model"
	"github.com/emrgen/docsync/internal/revision"
	"github.com/emrgen/docsync/internal/service"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(createDocCmd())
	rootCmd.AddCommand(getDocCmd())
	rootCmd.AddCommand(listDocCmd())
	rootCmd.AddCommand(updateDocCmd())
	rootCmd.AddCommand(deleteDocCmd())
	rootCmd.AddCommand(purgeDocCmd())
	rootCmd.AddCommand(historyDocCmd())
}

// openClient restores the local log and, unless --offline is set, connects and catches up with the relay.
func openClient(ctx context.Context) (*docsync.Client, error) {
	client, err := dialClient(ctx)
	if err != nil || offline {
		return client, err
	}

	if _, err := client.IncrementalSync(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

// dialClient restores the local log and connects unless --offline is set.
func dialClient(ctx context.Context) (*docsync.Client, error) {
	client, err := docsync.NewClient(ctx, config.LoadConfig())
	if err != nil {
		return nil, err
	}

	if offline {
		if _, err := client.Restore(ctx); err != nil {
			_ = client.Close()
			return nil, err
		}
		return client, nil
	}

	if err := client.Open(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func createDocCmd() *cobra.Command {
	var docID string
	var content string

	var required = []string{"doc-id"}

	command := &cobra.Command{
		Use:     "create",
		Short:   "create a document",
		Long:    `create a document with the given id and content`,
		Example: "doc create -d <doc-id> -c <content>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			doc, err := client.CreateDocument(ctx, docID, content)
			if err != nil {
				printMutationError(err)
				return
			}

			printDocuments([]*model.Document{doc})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringVarP(&content, "content", "c", "", "content of the document")

	command.Flags().SortFlags = false

	return command
}

func getDocCmd() *cobra.Command {
	var docID string

	var required = []string{"doc-id"}

	command := &cobra.Command{
		Use:     "get",
		Short:   "get a document",
		Example: "doc get -d <doc-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			doc, err := client.Document(docID)
			if err != nil {
				color.Red("document %s not found", docID)
				return
			}

			printDocuments([]*model.Document{doc})
			if doc.Content != "" {
				fmt.Println(doc.Content)
			}
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func listDocCmd() *cobra.Command {
	command := &cobra.Command{
		Use:     "list",
		Short:   "list documents",
		Example: "doc list",
		Run: func(cmd *cobra.Command, args []string) {
			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			docs := client.Documents()
			if len(docs) == 0 {
				color.Yellow("no documents")
				return
			}

			printDocuments(docs)
		},
	}

	return command
}

func updateDocCmd() *cobra.Command {
	var docID string
	var content string

	var required = []string{"doc-id", "content"}

	command := &cobra.Command{
		Use:     "update",
		Short:   "update a document",
		Example: "doc update -d <doc-id> -c <content>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			doc, err := client.UpdateDocument(ctx, docID, content)
			if err != nil {
				printMutationError(err)
				return
			}

			printDocuments([]*model.Document{doc})
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")
	command.Flags().StringVarP(&content, "content", "c", "", "new content (required)")

	command.Flags().SortFlags = false

	return command
}

func deleteDocCmd() *cobra.Command {
	var docID string

	var required = []string{"doc-id"}

	command := &cobra.Command{
		Use:     "delete",
		Short:   "delete a document, keeping its history",
		Example: "doc delete -d <doc-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			doc, err := client.DeleteDocument(ctx, docID)
			if err != nil {
				printMutationError(err)
				return
			}

			color.Green("document %s deleted at revision %s", doc.ID, doc.Revision)
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func purgeDocCmd() *cobra.Command {
	var docID string

	var required = []string{"doc-id"}

	command := &cobra.Command{
		Use:     "purge",
		Short:   "erase a document and its history everywhere",
		Example: "doc purge -d <doc-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			if err := client.PurgeDocument(ctx, docID); err != nil {
				printMutationError(err)
				return
			}

			color.Green("document %s purged", docID)
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func historyDocCmd() *cobra.Command {
	var docID string

	var required = []string{"doc-id"}

	command := &cobra.Command{
		Use:     "history",
		Short:   "list the revisions of a document",
		Example: "doc history -d <doc-id>",
		Run: func(cmd *cobra.Command, args []string) {
			if checkMissingFlags(cmd, required) {
				return
			}

			ctx, cancel := commandContext()
			defer cancel()
			client, err := openClient(ctx)
			if err != nil {
				logrus.Error(err)
				return
			}
			defer client.Close()

			revs := client.History(docID)
			if len(revs) == 0 {
				color.Yellow("no revisions for %s", docID)
				return
			}

			current, _ := client.Document(docID)

			table := tablewriter.NewWriter(os.Stdout)
			table.SetHeader([]string{"Revision", "Parents", "Deleted", "Created", "Winner"})
			for _, rev := range revs {
				winner := ""
				if current != nil && current.Revision == rev.ID {
					winner = "*"
				}
				table.Append([]string{
					rev.ID.String(),
					joinRevisions(rev.Parents),
					strconv.FormatBool(rev.Deleted),
					formatTime(rev.CreatedAt),
					winner,
				})
			}
			table.Render()
		},
	}

	command.Flags().StringVarP(&docID, "doc-id", "d", "", "document id (required)")

	return command
}

func printDocuments(docs []*model.Document) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"ID", "Revision", "Size", "Deleted", "Updated"})
	for _, doc := range docs {
		table.Append([]string{
			doc.ID,
			doc.Revision.String(),
			strconv.Itoa(len(doc.Content)),
			strconv.FormatBool(doc.Deleted),
			formatTime(doc.CreatedAt),
		})
	}
	table.Render()
}

func printMutationError(err error) {
	var rejected *service.RevisionRejectedError
	switch {
	case errors.Is(err, service.ErrNoIdentity):
		color.Red("no identity configured, run: doc context keygen")
	case errors.Is(err, service.ErrDocumentNotFound):
		color.Red("document not found")
	case errors.As(err, &rejected):
		color.Red("%v", rejected)
		color.Yellow("sync and retry from the current revision")
	default:
		logrus.Error(err)
	}
}

func joinRevisions(ids []revision.ID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()
	}
	return strings.Join(parts, ",")
}

func formatTime(unix int64) string {
	if unix == 0 {
		return ""
	}
	return time.Unix(unix, 0).Format(time.RFC3339)
}

func checkMissingFlags(cmd *cobra.Command, flags []string) bool {
	var missingFlags []string
	var providedFlags []string
	for _, required := range flags {
		if !cmd.Flag(required).Changed {
			missingFlags = append(missingFlags, required)
		} else {
			value := cmd.Flag(required).Value.String()
			providedFlags = append(providedFlags, fmt.Sprintf("--%s=%s", required, value))
		}
	}

	if len(missingFlags) > 0 {
		var msg string
		for _, f := range missingFlags {
			msg += fmt.Sprintf("--%s ", f)
		}

		color.Red("missing: %s\n", msg)
		if len(providedFlags) > 0 {
			provided := strings.Join(providedFlags, " ")
			color.Green("provide: %s\n", provided)
		}

		cmd.Println("")
		cmd.Usage()
		return true
	}

	return false
}
