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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/chat"
	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/persist"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/ui"
)

var (
	conversationID string
	autoApprove    bool
	noTools        bool
	showThinking   bool
)

// chatCmd represents the chat command
var chatCmd = &cobra.Command{
	Use:   "chat [message]",
	Short: "Start an interactive chat session",
	Long: `Start an interactive chat session with the AI assistant.

Tool calls requested by the model are shown for approval before they run,
unless the server is configured to auto-authorize.

Examples:
  chatpipe chat                          # Start a new conversation
  chatpipe chat --conversation <id>      # Continue a stored conversation
  chatpipe chat "what is in README.md?"  # Send a first message right away
  chatpipe chat --no-tools               # Never run tools`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)

	for _, c := range []*cobra.Command{rootCmd, chatCmd} {
		c.Flags().StringVar(&conversationID, "conversation", "", "continue the conversation with this id")
		c.Flags().BoolVar(&autoApprove, "auto-approve", false, "auto-approve all tool executions (use with caution)")
		c.Flags().BoolVar(&noTools, "no-tools", false, "disable tool execution")
		c.Flags().BoolVar(&showThinking, "thinking", false, "print the model's reasoning")
	}
}

type turnResult struct {
	msg store.Message
	err error
}

type chatSession struct {
	handler   *chat.Handler
	renderer  *ui.Renderer
	approvals chan auth.PendingAuthorization
	printer   atomic.Pointer[ui.StreamPrinter]
	logger    *log.Logger
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	// Get configuration and logger
	c := GetConfig()
	l := getLogger()

	// Override approval mode from flags
	if autoApprove {
		c.Authorization.Mode = "all"
	}
	if noTools {
		c.Authorization.Mode = "none"
	}

	// Create AI client
	client, err := ai.NewClient(c.AI)
	if err != nil {
		return fmt.Errorf("failed to create AI client: %w", err)
	}

	// Open message store
	st, err := openStore(c)
	if err != nil {
		return err
	}
	defer st.Close()

	sess := &chatSession{
		renderer:  ui.NewRenderer(terminalStyles(), ui.WithThinking(showThinking)),
		approvals: make(chan auth.PendingAuthorization, 16),
		logger:    l,
	}

	opts := []chat.HandlerOption{
		chat.WithLogger(l),
		chat.WithStore(st),
		chat.WithUpdateManager(persist.NewUpdateManager(
			persist.WithDebounce(c.Pipeline.UpdateDebounce),
			persist.WithManagerLogger(l),
		)),
		chat.WithProgress(func(_ string, segs []segment.Segment) {
			if p := sess.printer.Load(); p != nil {
				p.Update(segs)
			}
		}),
		chat.WithEventHook(func(id string, ev segment.Event, m segment.Model) {
			l.Debug("segment event", "message", id, "event", fmt.Sprintf("%T", ev), "state", m.State)
		}),
	}
	// Initialize MCP manager if tools are enabled
	if !noTools {
		manager := startMCP(ctx, c, l)
		defer manager.StopAll()
		opts = append(opts, chat.WithToolInvoker(manager))
	}

	// Create chat handler
	sess.handler = chat.NewHandlerFromConfig(client, c, opts...)
	unsubscribe := sess.handler.Gate().Subscribe(func(ev auth.GateEvent) {
		if ev.Type == auth.GateAdded {
			sess.approvals <- ev.Auth
		}
	})
	defer unsubscribe()

	showWelcomeMessage(c)

	// Send the message given on the command line first
	conv := conversationID
	if len(args) > 0 {
		if conv, err = sess.send(ctx, conv, strings.Join(args, " ")); err != nil {
			return err
		}
	}

	// Main chat loop
	reader := bufio.NewReader(os.Stdin)
	for {
		input, err := readInput(reader)
		if errors.Is(err, io.EOF) {
			fmt.Println()
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}

		// Handle special commands
		switch {
		case input == "":
			continue
		case shouldExit(input):
			return nil
		case input == "/new":
			conv = ""
			ShowInfo("Started a new conversation.")
			continue
		}

		if conv, err = sess.send(ctx, conv, input); err != nil {
			ShowError("%v", err)
		}
	}
}

// startMCP loads the MCP configuration and starts every server it lists.
// Failures only cost the tools of the affected servers.
func startMCP(ctx context.Context, c *config.Config, l *log.Logger) *mcp.Manager {
	manager := mcp.NewManager(l)
	setMCPManager(manager)

	if err := manager.LoadConfig(c.MCP.ConfigPaths); err != nil {
		l.Debug("MCP configuration not loaded", "error", err)
		return manager
	}
	if err := manager.StartAll(ctx); err != nil {
		ShowWarning("%v", err)
	}
	servers, _ := manager.ConnectedServers(ctx)
	manager.SetGlobalServers(servers)
	return manager
}

// send runs one turn and returns the conversation it belongs to.
func (s *chatSession) send(ctx context.Context, conv, input string) (string, error) {
	turn, err := s.handler.Send(ctx, chat.Request{ConversationID: conv, Content: input})
	if err != nil {
		return conv, err
	}

	// Stream the answer to the terminal
	printer := ui.NewStreamPrinter(os.Stdout, s.renderer)
	s.printer.Store(printer)
	defer s.printer.Store(nil)

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)

	// Run the turn in background
	done := make(chan turnResult, 1)
	go func() {
		msg, err := turn.Run(ctx)
		done <- turnResult{msg: msg, err: err}
	}()

	ctxDone := ctx.Done()
	for {
		select {
		case res := <-done:
			printer.Finish(res.msg.Segments)
			if res.err != nil {
				ShowError("%s", ai.Describe(res.err))
			}
			u := turn.Usage()
			s.logger.Debug("turn finished", "conversation", turn.ConversationID(), "status", res.msg.Status,
				"rounds", turn.Rounds(), "tokens", u.TotalTokens)
			return turn.ConversationID(), nil
		case pending := <-s.approvals:
			if pending.MessageID != turn.ID() {
				continue
			}
			if err := ui.RunApproval(ctx, s.handler.Gate(), pending, terminalStyles()); err != nil && !errors.Is(err, ui.ErrNoDecision) {
				ShowWarning("%v", err)
				s.handler.Gate().Reject(pending.ID)
			}
		case <-interrupts:
			fmt.Println()
			ShowInfo("Stopping...")
			turn.Stop()
		case <-ctxDone:
			ctxDone = nil
			turn.Stop()
		}
	}
}

func showWelcomeMessage(c *config.Config) {
	ShowInfo("%s (%s/%s)", GetVersionString(), c.AI.Provider, c.AI.Model)
	ShowInfo("Type your message. /new starts a new conversation, exit quits, Ctrl+C stops an answer.")
	fmt.Println()
}

func readInput(reader *bufio.Reader) (string, error) {
	fmt.Print("> ")
	line, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func shouldExit(input string) bool {
	switch strings.ToLower(input) {
	case "exit", "quit", "/exit", "/quit":
		return true
	}
	return false
}
