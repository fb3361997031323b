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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/common-creation/chatpipe/internal/ai"
	"github.com/common-creation/chatpipe/internal/chat"
	"github.com/common-creation/chatpipe/internal/config"
	"github.com/common-creation/chatpipe/internal/mcp"
	"github.com/common-creation/chatpipe/internal/segment"
	"github.com/common-creation/chatpipe/internal/store"
	"github.com/common-creation/chatpipe/internal/ui"
)

var (
	replayJSON   bool
	replayDelay  time.Duration
	replayReject bool
)

// replayCmd feeds a recorded transcript through the pipeline offline
var replayCmd = &cobra.Command{
	Use:   "replay <transcript.json>",
	Short: "Replay a recorded chunk transcript",
	Long: `Replay feeds a recorded provider transcript through the streaming pipeline
without contacting any provider or tool server, then prints the resulting
message.

The transcript is JSON:

  {
    "message": "what is go?",
    "rounds": [
      [{"kind": "token", "text": "<tool_call>{\"server\":\"web\",\"tool\":\"lookup\",\"args\":{}}</tool_call>"}],
      [{"kind": "token", "text": "Go is a language."}]
    ],
    "tools": {
      "web": [{"name": "lookup", "result": {"answer": "go"}}]
    }
  }

Each round is one provider stream. Tool calls are answered from "tools" and
approved automatically unless --reject is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().BoolVar(&replayJSON, "json", false, "print the stored segment envelope instead of rendered text")
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "pause between replayed chunks")
	replayCmd.Flags().BoolVar(&replayReject, "reject", false, "reject every tool call")
}

// Transcript is a recorded conversation turn.
type Transcript struct {
	Message string                      `json:"message"`
	Rounds  [][]ai.StreamEvent          `json:"rounds"`
	Tools   map[string][]TranscriptTool `json:"tools,omitempty"`
}

// TranscriptTool is a tool with a canned answer.
type TranscriptTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
}

func runReplay(cmd *cobra.Command, args []string) error {
	tr, err := loadTranscript(args[0])
	if err != nil {
		return err
	}

	mode := "all"
	if replayReject {
		mode = "none"
	}
	c := *GetConfig()
	c.Authorization.Mode = mode

	msg, err := replay(cmd.Context(), tr, &c, replayDelay)
	if err != nil && msg.ID == "" {
		return err
	}
	if perr := printMessage(cmd.OutOrStdout(), msg, replayJSON); perr != nil {
		return perr
	}
	return err
}

func loadTranscript(path string) (*Transcript, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	var tr Transcript
	if err := json.Unmarshal(data, &tr); err != nil {
		return nil, fmt.Errorf("failed to parse transcript %s: %w", path, err)
	}
	if len(tr.Rounds) == 0 {
		return nil, errors.New("transcript has no rounds")
	}
	return &tr, nil
}

// defaultReplayMessage is the user message of a transcript that records none.
const defaultReplayMessage = "replay"

func replay(ctx context.Context, tr *Transcript, c *config.Config, delay time.Duration) (store.Message, error) {
	content := tr.Message
	if strings.TrimSpace(content) == "" {
		content = defaultReplayMessage
	}

	client := ai.NewScriptedClient(tr.Rounds...).WithDelay(delay)
	handler := chat.NewHandlerFromConfig(client, c,
		chat.WithLogger(getLogger()),
		chat.WithToolInvoker(newTranscriptTools(tr.Tools)),
	)
	turn, err := handler.Send(ctx, chat.Request{Content: content})
	if err != nil {
		return store.Message{}, err
	}
	return turn.Run(ctx)
}

// printMessage writes msg rendered for the terminal, or as its segment
// envelope when asJSON is set.
func printMessage(w io.Writer, msg store.Message, asJSON bool) error {
	if asJSON {
		data, err := segment.Encode(msg.Segments)
		if err != nil {
			return fmt.Errorf("failed to encode segments: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintln(w, ui.NewRenderer(terminalStyles()).Render(msg.Segments))
	return err
}

// transcriptTools answers tool calls from a transcript.
type transcriptTools struct {
	servers map[string][]TranscriptTool
}

func newTranscriptTools(servers map[string][]TranscriptTool) *transcriptTools {
	if servers == nil {
		servers = map[string][]TranscriptTool{}
	}
	return &transcriptTools{servers: servers}
}

func (t *transcriptTools) ServerTools(_ context.Context, server string) ([]mcp.ToolInfo, error) {
	tools, ok := t.servers[server]
	if !ok {
		return nil, fmt.Errorf("server %s not found", server)
	}
	infos := make([]mcp.ToolInfo, 0, len(tools))
	for _, tool := range tools {
		infos = append(infos, mcp.ToolInfo{
			ServerName:  server,
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.InputSchema,
		})
	}
	return infos, nil
}

func (t *transcriptTools) Invoke(_ context.Context, server, tool string, _ map[string]any) (any, error) {
	for _, candidate := range t.servers[server] {
		if candidate.Name != tool {
			continue
		}
		if candidate.Error != "" {
			return nil, errors.New(candidate.Error)
		}
		return candidate.Result, nil
	}
	return nil, fmt.Errorf("tool %s not found on server %s", tool, server)
}

func (t *transcriptTools) names() []string {
	names := make([]string, 0, len(t.servers))
	for name := range t.servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (t *transcriptTools) ConversationServers(context.Context, string) ([]string, error) {
	return nil, nil
}

func (t *transcriptTools) GlobalServers(context.Context) ([]string, error) {
	return t.names(), nil
}

func (t *transcriptTools) ConnectedServers(context.Context) ([]string, error) {
	return t.names(), nil
}

func (t *transcriptTools) ConfiguredServers(context.Context) ([]string, error) {
	return t.names(), nil
}
