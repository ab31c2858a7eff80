package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"crabbybot/pkg/bus"
	"crabbybot/pkg/channel"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const (
	ChannelName = "cli"
	LocalChatID = "local"
	LocalUserID = "local"
)

// RuntimeInfo is shown in the interactive header.
type RuntimeInfo struct {
	Provider string
	Model    string
}

// Adapter is the local terminal transport. With a prompt it runs once and
// exits after the first reply; without one it runs an interactive chat.
type Adapter struct {
	prompt string
	info   RuntimeInfo
	out    io.Writer
	log    *slog.Logger
}

// NewAdapter builds a terminal adapter. An empty prompt selects interactive mode.
func NewAdapter(prompt string, info RuntimeInfo, log *slog.Logger) *Adapter {
	if log == nil {
		log = slog.Default()
	}

	return &Adapter{
		prompt: prompt,
		info:   info,
		out:    os.Stdout,
		log:    log.With("component", "channel.cli"),
	}
}

// Name returns the channel identifier used in bus metadata and logs.
func (a *Adapter) Name() string {
	return ChannelName
}

// Run drives the terminal UI until the user quits or ctx is done.
func (a *Adapter) Run(ctx context.Context, mb channel.Bus) error {
	if mb == nil {
		return errors.New("bus is required")
	}

	runMode := modeInteractive
	if a.prompt != "" {
		runMode = modeOneShot
	}

	m := newModel(submitter(ctx, mb.InboundSender()), runMode, a.prompt, a.info)

	opts := []tea.ProgramOption{tea.WithContext(ctx), tea.WithOutput(a.out)}
	if runMode == modeInteractive {
		opts = append(opts, tea.WithAltScreen(), tea.WithMouseCellMotion())
	} else {
		opts = append(opts, tea.WithInput(nil))
	}
	program := tea.NewProgram(m, opts...)

	mb.SubscribeOutbound(ChannelName, func(_ context.Context, msg bus.OutboundMessage) error {
		program.Send(replyMsg{content: msg.Content})
		return nil
	})

	_, err := program.Run()
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("run terminal ui: %w", err)
	}

	a.log.Debug("Terminal UI exited", "one_shot", runMode == modeOneShot)
	if runMode == modeInteractive {
		fmt.Fprintln(a.out, renderGoodbyeBanner())
	}

	return nil
}

// submitter turns a prompt into an inbound message for the local chat.
func submitter(ctx context.Context, sender bus.InboundSender) submitFunc {
	return func(prompt string) tea.Cmd {
		return func() tea.Msg {
			err := sender.Send(ctx, bus.InboundMessage{
				Channel: ChannelName,
				ChatID:  LocalChatID,
				UserID:  LocalUserID,
				Content: prompt,
			})
			if err != nil {
				return submitFailedMsg{err: fmt.Errorf("enqueue prompt: %w", err)}
			}
			return nil
		}
	}
}

func renderGoodbyeBanner() string {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("230")).
		Background(lipgloss.Color("124")).
		Padding(1, 2)

	return style.Render("🦀 Thanks for using crabbybot")
}
