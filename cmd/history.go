/*
Copyright © 2025 CODA Project

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/ui"
)

var historyJSON bool

// historyCmd lists stored conversations and messages
var historyCmd = &cobra.Command{
	Use:   "history [conversation-id]",
	Short: "List stored conversations or the messages of one",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runHistory,
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <message-id>",
	Short: "Delete a stored message",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore(GetConfig())
		if err != nil {
			return err
		}
		defer st.Close()
		return st.DeleteMessage(cmd.Context(), args[0])
	},
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyDeleteCmd)

	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print segment envelopes of assistant messages")
}

func runHistory(cmd *cobra.Command, args []string) error {
	st, err := openStore(GetConfig())
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	if len(args) == 0 {
		return listConversations(cmd.Context(), out, st)
	}
	return showConversation(cmd.Context(), out, st, args[0], historyJSON)
}

func listConversations(ctx context.Context, w io.Writer, st store.Store) error {
	convs, err := st.ListConversations(ctx)
	if err != nil {
		return fmt.Errorf("failed to list conversations: %w", err)
	}
	if len(convs) == 0 {
		fmt.Fprintln(w, "No stored conversations.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONVERSATION\tMESSAGES\tUPDATED")
	for _, c := range convs {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", c.ID, c.MessageCount, c.UpdatedAt.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func showConversation(ctx context.Context, w io.Writer, st store.Store, id string, asJSON bool) error {
	msgs, err := st.ListMessages(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if len(msgs) == 0 {
		return fmt.Errorf("conversation %s not found", id)
	}

	renderer := ui.NewRenderer(terminalStyles())
	for _, m := range msgs {
		fmt.Fprintf(w, "[%s] %s (%s)\n", m.CreatedAt.Local().Format(time.DateTime), m.Role, m.Status)
		switch {
		case m.Role != ai.RoleAssistant || len(m.Segments) == 0:
			fmt.Fprintln(w, m.Content)
		case asJSON:
			if err := printMessage(w, m, true); err != nil {
				return err
			}
		default:
			fmt.Fprintln(w, renderer.Render(m.Segments))
		}
		fmt.Fprintln(w)
	}
	return nil
}
