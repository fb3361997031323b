package ui

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/common-creation/chatpipe/internal/auth"
	"github.com/common-creation/chatpipe/internal/styles"
	"github.com/common-creation/chatpipe/internal/toolcall"
)

// ErrNoDecision is returned by RunApproval when the prompt closed without an
// answer, for example because the authorization was withdrawn.
var ErrNoDecision = errors.New("approval prompt closed without a decision")

// ApprovalKeyMap holds the bindings of the approval prompt.
type ApprovalKeyMap struct {
	Approve key.Binding
	Reject  key.Binding
	Toggle  key.Binding
	Select  key.Binding
}

// DefaultApprovalKeyMap returns the default bindings.
func DefaultApprovalKeyMap() ApprovalKeyMap {
	return ApprovalKeyMap{
		Approve: key.NewBinding(key.WithKeys("y", "Y"), key.WithHelp("y", "approve")),
		Reject:  key.NewBinding(key.WithKeys("n", "N", "esc", "ctrl+c"), key.WithHelp("n/esc", "reject")),
		Toggle:  key.NewBinding(key.WithKeys("left", "right", "tab", "h", "l"), key.WithHelp("←/→", "choose")),
		Select:  key.NewBinding(key.WithKeys("enter", " "), key.WithHelp("enter", "confirm")),
	}
}

type approvalChoice struct {
	label    string
	shortcut string
	decision auth.Decision
}

var approvalChoices = []approvalChoice{
	{label: "Yes", shortcut: "y", decision: auth.Approved},
	{label: "No", shortcut: "n", decision: auth.Rejected},
}

// withdrawnMsg closes the prompt when the authorization left the gate.
type withdrawnMsg struct{}

// ApprovalPrompt asks whether one pending tool call may run. The highlighted
// choice starts on No.
type ApprovalPrompt struct {
	pending  auth.PendingAuthorization
	styles   styles.Styles
	keys     ApprovalKeyMap
	selected int
	decided  bool
	decision auth.Decision
}

// NewApprovalPrompt creates the prompt for pending.
func NewApprovalPrompt(pending auth.PendingAuthorization, st styles.Styles) *ApprovalPrompt {
	return &ApprovalPrompt{
		pending:  pending,
		styles:   st,
		keys:     DefaultApprovalKeyMap(),
		selected: 1,
	}
}

// Decision reports the answer, if one was given.
func (p *ApprovalPrompt) Decision() (auth.Decision, bool) {
	return p.decision, p.decided
}

// Init implements tea.Model
func (p *ApprovalPrompt) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (p *ApprovalPrompt) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case withdrawnMsg:
		return p, tea.Quit
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, p.keys.Approve):
			return p.decide(auth.Approved)
		case key.Matches(msg, p.keys.Reject):
			return p.decide(auth.Rejected)
		case key.Matches(msg, p.keys.Toggle):
			p.selected = (p.selected + 1) % len(approvalChoices)
		case key.Matches(msg, p.keys.Select):
			return p.decide(approvalChoices[p.selected].decision)
		}
	}
	return p, nil
}

func (p *ApprovalPrompt) decide(d auth.Decision) (tea.Model, tea.Cmd) {
	p.decided = true
	p.decision = d
	return p, tea.Quit
}

// View implements tea.Model
func (p *ApprovalPrompt) View() string {
	if p.decided {
		return p.styles.Muted.Render(fmt.Sprintf("%s.%s %s", p.pending.Server, p.pending.Tool, p.decision)) + "\n"
	}

	var b strings.Builder
	b.WriteString(p.styles.Bold.Render("Tool Execution Request") + "\n")
	b.WriteString(p.styles.Bold.Render("Tool: ") + p.styles.Code.Render(p.pending.Server+"."+p.pending.Tool) + "\n")

	if len(p.pending.Args) > 0 {
		b.WriteString(p.styles.Bold.Render("Arguments:") + "\n")
		names := make([]string, 0, len(p.pending.Args))
		for name := range p.pending.Args {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			value := toolcall.TruncateRunes(fmt.Sprintf("%v", p.pending.Args[name]), 100)
			b.WriteString(fmt.Sprintf("  %s: %s\n", name, value))
		}
	}

	buttons := make([]string, 0, len(approvalChoices))
	for i, c := range approvalChoices {
		style := p.styles.Button
		if i == p.selected {
			style = p.styles.ButtonActive
		}
		buttons = append(buttons, style.Render(fmt.Sprintf("[%s]%s", c.shortcut, c.label)))
	}
	b.WriteString(strings.Join(buttons, " ") + "\n")
	b.WriteString(p.styles.Muted.Render("y approve, n or esc reject, arrows and enter to choose"))

	return p.styles.Dialog.Render(b.String()) + "\n"
}

// RunApproval shows the prompt for pending and resolves it on gate. The prompt
// closes without a decision when ctx ends or the authorization is removed from
// the gate by someone else.
func RunApproval(ctx context.Context, gate *auth.Gate, pending auth.PendingAuthorization, st styles.Styles, opts ...tea.ProgramOption) error {
	prompt := NewApprovalPrompt(pending, st)
	program := tea.NewProgram(prompt, opts...)

	unsubscribe := gate.Subscribe(func(ev auth.GateEvent) {
		if ev.Auth.ID == pending.ID && ev.Type != auth.GateAdded {
			program.Send(withdrawnMsg{})
		}
	})
	defer unsubscribe()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			program.Send(withdrawnMsg{})
		case <-done:
		}
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("approval prompt failed: %w", err)
	}

	decision, ok := prompt.Decision()
	if !ok {
		return ErrNoDecision
	}
	return Resolve(gate, pending.ID, decision)
}

// Resolve applies d to the pending authorization id.
func Resolve(gate *auth.Gate, id string, d auth.Decision) error {
	var ok bool
	if d == auth.Approved {
		ok = gate.Approve(id)
	} else {
		ok = gate.Reject(id)
	}
	if !ok {
		return ErrNoDecision
	}
	return nil
}
