package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nfrund/chatsession/internal/topicmgr"
)

var (
	topicsFormat string
	topicsModule string
)

// topicsCmd lists the event-bus topics a session publishes on.
var topicsCmd = &cobra.Command{
	Use:   "topics",
	Short: "List the event bus topics",
	Long: `List the topics a chat session publishes events on.

Examples:
  chatctl topics
  chatctl topics --module chat --format json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		list := topicmgr.Default().List()
		if topicsModule != "" {
			list = topicmgr.Default().ListByModule(topicsModule)
		}
		switch topicsFormat {
		case "json":
			return writeTopicsJSON(cmd.OutOrStdout(), list)
		case "table":
			writeTopicsTable(cmd.OutOrStdout(), list)
			return nil
		default:
			return fmt.Errorf("unsupported output format %q, use table or json", topicsFormat)
		}
	},
}

// topicDisplay represents a topic for display purposes
type topicDisplay struct {
	Name        string `json:"name"`
	Module      string `json:"module"`
	Description string `json:"description"`
}

func writeTopicsTable(out io.Writer, topics []topicmgr.Topic) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	defer w.Flush()

	fmt.Fprintln(w, "NAME\tMODULE\tDESCRIPTION")
	fmt.Fprintln(w, "----\t------\t-----------")
	if len(topics) == 0 {
		fmt.Fprintln(w, "No topics found")
		return
	}
	for _, t := range topics {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name(), t.Module(), t.Description())
	}
}

func writeTopicsJSON(out io.Writer, topics []topicmgr.Topic) error {
	displays := make([]topicDisplay, len(topics))
	for i, t := range topics {
		displays[i] = topicDisplay{Name: t.Name(), Module: t.Module(), Description: t.Description()}
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Topics []topicDisplay `json:"topics"`
		Count  int            `json:"count"`
	}{Topics: displays, Count: len(displays)})
}

func init() {
	rootCmd.AddCommand(topicsCmd)
	topicsCmd.Flags().StringVarP(&topicsFormat, "format", "f", "table", "Output format (table, json)")
	topicsCmd.Flags().StringVarP(&topicsModule, "module", "m", "", "Filter topics by module name")
}
