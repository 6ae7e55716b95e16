package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/Chative-Travel-Assistant/agent/agents/orchestrator"
	"github.com/tanpawarit/Chative-Travel-Assistant/agent/approval"
	statex "github.com/tanpawarit/Chative-Travel-Assistant/agent/state"
)

var (
	promptStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	replyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	approvalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("11")).
			Padding(0, 1)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
)

// turnRunner is the slice of the orchestrator the REPL drives.
type turnRunner interface {
	SubmitMessage(ctx context.Context, sessionID string, text string) (orchestrator.TurnResult, error)
	Reset(ctx context.Context, sessionID string) error
}

type repl struct {
	engine    turnRunner
	sessionID string
	in        *bufio.Scanner
	out       io.Writer
}

func newREPL(engine turnRunner, sessionID string, in io.Reader, out io.Writer) *repl {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	return &repl{engine: engine, sessionID: sessionID, in: scanner, out: out}
}

func (r *repl) Run(ctx context.Context) error {
	fmt.Fprintln(r.out, infoStyle.Render("session "+r.sessionID+" (type /reset to start over, quit to exit)"))

	for {
		fmt.Fprint(r.out, promptStyle.Render("you> "))
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		switch strings.ToLower(line) {
		case "":
			continue
		case "quit", "exit", "q":
			return nil
		case "/reset":
			if err := r.engine.Reset(ctx, r.sessionID); err != nil {
				fmt.Fprintln(r.out, errorStyle.Render("reset failed: "+err.Error()))
				continue
			}
			fmt.Fprintln(r.out, infoStyle.Render("conversation cleared"))
			continue
		}

		res, err := r.engine.SubmitMessage(ctx, r.sessionID, line)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				return nil
			}
			log.Debug().Err(err).Str("session_id", r.sessionID).Msg("turn failed")
		}
		r.render(res, err)
	}
}

func (r *repl) render(res orchestrator.TurnResult, err error) {
	if err != nil {
		msg := "Something went wrong, please try again."
		if res.Error.UserVisible() {
			msg = fmt.Sprintf("%s: %v", res.Error, err)
		}
		fmt.Fprintln(r.out, errorStyle.Render(msg))
		return
	}

	if reply := strings.TrimSpace(res.Reply); reply != "" {
		fmt.Fprintln(r.out, replyStyle.Render("assistant> "+reply))
	}
	if res.Status == statex.TurnAwaitingApproval && res.Approval != nil {
		fmt.Fprintln(r.out, approvalStyle.Render(describeApproval(*res.Approval)))
	}
}

func describeApproval(s approval.Suspension) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s wants to run %s\n", s.RequestedBy, s.ToolName)
	if summary := strings.TrimSpace(s.Summary); summary != "" {
		b.WriteString(summary)
		b.WriteString("\n")
	} else {
		keys := make([]string, 0, len(s.Args))
		for k := range s.Args {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, s.Args[k])
		}
	}
	b.WriteString("Approve? Type 'y' to continue, or explain the change you want.")
	return b.String()
}
