package cmd

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/samsaffron/chatcore/internal/message"
)

var (
	reasoningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Italic(true)
	toolStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	successCircle  = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render("●")
	errorCircle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Render("●")
	pausedCircle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Render("●")
)

// blockPrinter renders block updates to a terminal. Main text streams to
// out as deltas of the cumulative content; reasoning and tool status lines
// go to errOut so piped output only carries the answer.
type blockPrinter struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer

	showReasoning bool
	printed       map[string]int  // block ID -> bytes already written
	toolsDone     map[string]bool // tool block IDs with a final status line
	lastNewline   bool
	wroteAny      bool
}

func newBlockPrinter(out, errOut io.Writer, showReasoning bool) *blockPrinter {
	return &blockPrinter{
		out:           out,
		errOut:        errOut,
		showReasoning: showReasoning,
		printed:       make(map[string]int),
		toolsDone:     make(map[string]bool),
		lastNewline:   true,
	}
}

// Observe is a chunk.Observer.
func (p *blockPrinter) Observe(b *message.Block) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch b.Type {
	case message.BlockMainText:
		p.writeDelta(p.out, b, func(s string) string { return s })
	case message.BlockReasoning:
		if p.showReasoning {
			p.writeDelta(p.errOut, b, reasoningStyle.Render)
		}
	case message.BlockTool:
		p.toolLine(b)
	case message.BlockError:
		if b.Error != nil {
			p.breakLine()
			fmt.Fprintf(p.errOut, "%s %s\n", errorCircle, b.Error.Message)
		}
	}
}

func (p *blockPrinter) writeDelta(w io.Writer, b *message.Block, style func(string) string) {
	done := p.printed[b.ID]
	if len(b.Content) <= done {
		return
	}
	delta := b.Content[done:]
	p.printed[b.ID] = len(b.Content)
	fmt.Fprint(w, style(delta))
	p.wroteAny = true
	p.lastNewline = strings.HasSuffix(delta, "\n")
}

func (p *blockPrinter) toolLine(b *message.Block) {
	if b.Tool == nil || p.toolsDone[b.ID] {
		return
	}
	if b.Tool.IsCompletionSignal {
		if b.Status == message.BlockSuccess && b.Tool.Result != "" {
			p.toolsDone[b.ID] = true
			p.breakLine()
			fmt.Fprintln(p.out, b.Tool.Result)
			p.wroteAny = true
			p.lastNewline = true
		}
		return
	}
	var circle string
	switch b.Status {
	case message.BlockSuccess:
		circle = successCircle
	case message.BlockFailed:
		circle = errorCircle
	case message.BlockPaused:
		circle = pausedCircle
	default:
		return
	}
	p.toolsDone[b.ID] = true
	p.breakLine()
	line := b.Tool.Name
	if b.Tool.ServerID != "" {
		line += " (" + b.Tool.ServerID + ")"
	}
	if b.Error != nil {
		line += ": " + b.Error.Message
	}
	fmt.Fprintf(p.errOut, "%s %s\n", circle, toolStyle.Render(line))
}

// breakLine ends a partially written text line before a status line.
func (p *blockPrinter) breakLine() {
	if p.wroteAny && !p.lastNewline {
		fmt.Fprintln(p.out)
		p.lastNewline = true
	}
}

// Finish terminates the answer with a newline.
func (p *blockPrinter) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.wroteAny && !p.lastNewline {
		fmt.Fprintln(p.out)
		p.lastNewline = true
	}
}
