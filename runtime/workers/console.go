package workers

import (
	"bufio"
	"chat-sync/domain"
	"chat-sync/domain/mimetypes"
	"chat-sync/services"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gookit/color"
)

var (
	infoStyle   = color.New(color.FgCyan)
	errorStyle  = color.New(color.FgRed, color.OpBold)
	authorStyle = color.New(color.FgGreen)
)

// ConsoleWorker drives a session from line commands:
//
//	/login <user>  /logout  /channels  /join <channel>  /older
//	/thread <message>  /close  /refresh  /status
//
// Any other line is sent to the selected channel.
type ConsoleWorker struct {
	log      *slog.Logger
	session  *services.Session
	identity *services.IdentityProvider
	in       io.Reader
	out      io.Writer
}

func NewConsoleWorker(
	log *slog.Logger,
	session *services.Session,
	identity *services.IdentityProvider,
	in io.Reader,
	out io.Writer,
) *ConsoleWorker {
	return &ConsoleWorker{log: log, session: session, identity: identity, in: in, out: out}
}

// Run returns nil once the input is exhausted.
func (w *ConsoleWorker) Run(ctx context.Context) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(w.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			if err := w.Execute(ctx, line); err != nil {
				fmt.Fprintln(w.out, errorStyle.Render(err.Error()))
			}
		}
	}
}

func (w *ConsoleWorker) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	if !strings.HasPrefix(line, "/") {
		message, err := w.session.Feed().Send(ctx, line, nil)
		if err != nil {
			return err
		}
		w.log.Debug("Message sent", "id", message.ID)
		return nil
	}

	command, arg, _ := strings.Cut(line[1:], " ")
	arg = strings.TrimSpace(arg)
	switch command {
	case "login":
		w.identity.Login(arg)
	case "logout":
		w.identity.Logout()
	case "channels":
		w.printChannels()
	case "join":
		if err := w.session.SelectChannel(ctx, arg); err != nil {
			return err
		}
		w.printMessages(w.session.Feed().Messages())
	case "older":
		added, err := w.session.Feed().LoadOlder(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(w.out, infoStyle.Render(fmt.Sprintf("%d older messages", added)))
		w.printMessages(w.session.Feed().Messages())
	case "thread":
		return w.openThread(arg)
	case "close":
		w.session.Threads().CloseThread(w.session.SelectedChannel())
	case "refresh":
		if _, err := w.session.Directory().Refresh(ctx); err != nil {
			return err
		}
		w.printChannels()
	case "status":
		w.printStatus()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
	return nil
}

func (w *ConsoleWorker) openThread(messageID domain.MessageID) error {
	channelID := w.session.SelectedChannel()
	for _, m := range w.session.Feed().Messages() {
		if m.ID == messageID {
			w.session.Threads().OpenThread(channelID, messageID, &m)
			return nil
		}
	}
	return fmt.Errorf("message %s is not loaded in %s", messageID, channelID)
}

func (w *ConsoleWorker) printChannels() {
	for _, c := range w.session.Directory().Channels() {
		fmt.Fprintf(w.out, "%s %s (%d members)\n", infoStyle.Render(c.ID), c.Name, len(c.Members))
	}
}

func (w *ConsoleWorker) printMessages(messages []domain.Message) {
	for _, m := range messages {
		fmt.Fprintf(w.out, "[%s] %s: %s\n",
			m.CreatedAt.Format("15:04:05"), authorStyle.Render(m.AuthorID), m.Content)
		for _, a := range m.Attachments {
			fmt.Fprintf(w.out, "    [%s] %s\n", mimetypes.Classify(a.MIMEType), a.Name)
		}
	}
}

func (w *ConsoleWorker) printStatus() {
	report := w.session.Report()
	fmt.Fprintln(w.out, infoStyle.Render(fmt.Sprintf(
		"user=%s channel=%s channels=%d messages=%d directory=%s feed=%s degraded=%t",
		report.UserID, report.ChannelID, report.Channels, report.Messages,
		report.Directory.State, report.Feed.State, report.Feed.Degraded,
	)))
}
