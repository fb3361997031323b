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
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/chat"
)

var (
	inputFile  string
	outputFile string
	runJSON    bool
)

// runCmd represents the run command for non-interactive mode
var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Answer a single prompt non-interactively",
	Long: `Answer a single prompt without the interactive session.

Piped input or --input is attached to the prompt as a document. Nobody can
approve tool calls here, so only servers configured to auto-authorize (or
--auto-approve) run tools; the rest are rejected.

Examples:
  chatpipe run "Summarize the release notes" --input NOTES.md
  cat main.go | chatpipe run "Review this code"
  chatpipe run --json "What time is it in Tokyo?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runNonInteractive,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&inputFile, "input", "i", "", "attach a file as document context")
	runCmd.Flags().StringVarP(&outputFile, "output", "o", "", "save output to file")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the segment envelope")
	runCmd.Flags().StringVar(&conversationID, "conversation", "", "continue the conversation with this id")
	runCmd.Flags().BoolVar(&autoApprove, "auto-approve", false, "auto-approve all tool executions (use with caution)")
	runCmd.Flags().BoolVar(&noTools, "no-tools", false, "disable tool execution")
}

func runNonInteractive(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := GetConfig()
	l := getLogger()

	document, err := readDocument()
	if err != nil {
		return err
	}

	output := cmd.OutOrStdout()
	if outputFile != "" {
		file, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer file.Close()
		output = file
	}

	switch {
	case noTools:
		c.Authorization.Mode = "none"
	case autoApprove:
		c.Authorization.Mode = "all"
	}

	client, err := ai.NewClient(c.AI)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := []chat.HandlerOption{chat.WithLogger(l), chat.WithStore(st)}
	if !noTools {
		manager := startMCP(ctx, c, l)
		defer manager.StopAll()
		opts = append(opts, chat.WithToolInvoker(manager))
	}
	handler := chat.NewHandlerFromConfig(client, c, opts...)

	// nobody is there to answer the gate
	unsubscribe := handler.Gate().Subscribe(rejectPending(handler))
	defer unsubscribe()

	turn, err := handler.Send(ctx, chat.Request{
		ConversationID: conversationID,
		Content:        strings.Join(args, " "),
		Document:       document,
	})
	if err != nil {
		return err
	}
	msg, runErr := turn.Run(ctx)
	if err := printMessage(output, msg, runJSON); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	l.Debug("conversation", "id", turn.ConversationID())
	return nil
}

func readDocument() (string, error) {
	if inputFile != "" {
		content, err := os.ReadFile(inputFile)
		if err != nil {
			return "", fmt.Errorf("failed to read input file: %w", err)
		}
		return string(content), nil
	}
	if isTerminal(os.Stdin) {
		return "", nil
	}
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read from stdin: %w", err)
	}
	return string(content), nil
}

// isTerminal checks if the file descriptor is a terminal
func isTerminal(f *os.File) bool {
	stat, err := f.Stat()
	if err != nil {
		return true
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func rejectPending(handler *chat.Handler) func(auth.GateEvent) {
	return func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			handler.Gate().Reject(ev.Auth.ID)
		}
	}
}
