package tools

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"
)

// ApprovalUIHooks let a caller pause its own output while a prompt is shown.
var (
	approvalMu      sync.Mutex
	OnApprovalStart func() // Called before showing prompt
	OnApprovalEnd   func() // Called after prompt answered
)

// SetApprovalHooks sets callbacks run around each approval prompt.
func SetApprovalHooks(onStart, onEnd func()) {
	approvalMu.Lock()
	defer approvalMu.Unlock()
	OnApprovalStart = onStart
	OnApprovalEnd = onEnd
}

// ClearApprovalHooks removes the approval hooks.
func ClearApprovalHooks() {
	approvalMu.Lock()
	defer approvalMu.Unlock()
	OnApprovalStart = nil
	OnApprovalEnd = nil
}

var riskStyles = map[RiskLevel]lipgloss.Style{
	RiskLow:    lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
	RiskMedium: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
	RiskHigh:   lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
}

// RiskLabel renders a risk level for terminal output.
func RiskLabel(r RiskLevel) string {
	style, ok := riskStyles[r]
	if !ok {
		return string(r)
	}
	return style.Render(string(r) + " risk")
}

// HuhPolicy prompts the user with a huh confirm form. When the request
// expires the form is abandoned and the call is rejected.
func HuhPolicy(ctx context.Context, req Request) (bool, error) {
	approvalMu.Lock()
	startHook := OnApprovalStart
	endHook := OnApprovalEnd
	approvalMu.Unlock()

	if startHook != nil {
		startHook()
	}

	description := fmt.Sprintf("%s · %s", RiskLabel(req.Risk), req.ToolName)
	if req.ServerName != "" {
		description += " on " + req.ServerName
	}

	var confirmed bool
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(req.Summary).
				Description(description).
				Affirmative("Allow").
				Negative("Deny").
				Value(&confirmed).
				WithButtonAlignment(lipgloss.Left),
		),
	).WithShowHelp(false).WithShowErrors(false)

	err := form.RunWithContext(ctx)

	if endHook != nil {
		endHook()
	}

	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) || ctx.Err() != nil {
			return false, nil
		}
		return false, err
	}
	return confirmed, nil
}

// DefaultPolicy returns HuhPolicy when stdin and stderr are terminals and
// AutoReject otherwise, so headless runs never block on a prompt.
func DefaultPolicy() Policy {
	if term.IsTerminal(int(os.Stdin.Fd())) && term.IsTerminal(int(os.Stderr.Fd())) {
		return HuhPolicy
	}
	return AutoReject
}
