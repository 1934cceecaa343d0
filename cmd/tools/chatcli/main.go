// Command chatcli is a terminal client for the chat relay. It keeps the
// conversation in a widget store and prints assistant replies as they stream.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-relay/backend/internal/logging"
	"github.com/zhouzirui/chat-relay/backend/internal/model/chat"
	"github.com/zhouzirui/chat-relay/backend/pkg/widget"
)

type chatCommander struct {
	endpoint string
	timeout  time.Duration
	prompt   string
	logLevel string
}

const chatShortDesc = "Chat with the relay from a terminal"

const chatLongDesc = `Send messages to a running chat relay and stream the replies.

Without --prompt the command reads one message per line from stdin.
Type /reset to start a new conversation and /quit to exit.`

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newChatCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newChatCmd() *cobra.Command {
	cmder := &chatCommander{}

	cmd := &cobra.Command{
		Use:          "chatcli",
		Short:        chatShortDesc,
		Long:         chatLongDesc,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logging.Setup(cmder.logLevel, "console", os.Stderr)
			return cmder.run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVarP(&cmder.endpoint, "endpoint", "e", defaultEndpoint(), "Relay endpoint URL")
	cmd.Flags().DurationVarP(&cmder.timeout, "timeout", "t", 2*time.Minute, "Timeout for a single exchange")
	cmd.Flags().StringVarP(&cmder.prompt, "prompt", "p", "", "Send a single message and exit")
	cmd.Flags().StringVar(&cmder.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")

	return cmd
}

func defaultEndpoint() string {
	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	return "http://localhost:" + strings.TrimPrefix(port, ":") + "/api/chat"
}

func (c *chatCommander) run(ctx context.Context, in io.Reader, out, errOut io.Writer) error {
	store := widget.NewStore(&widget.HTTPTransport{
		Endpoint: c.endpoint,
		Client:   &http.Client{Timeout: c.timeout},
	})
	log.Debug().Str("endpoint", c.endpoint).Msg("chat client ready")

	if c.prompt != "" {
		return c.exchange(ctx, store, c.prompt, out, errOut)
	}

	interactive := isTerminal(in)
	scanner := bufio.NewScanner(in)
	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Fprintln(out)
			}
			return scanner.Err()
		}

		switch line := strings.TrimSpace(scanner.Text()); line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		case "/reset":
			store.Reset()
			fmt.Fprintln(out, "conversation cleared")
		default:
			// Failed exchanges stay in the conversation; keep reading.
			_ = c.exchange(ctx, store, line, out, errOut)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// exchange submits text and echoes the rendered assistant turn while it grows.
func (c *chatCommander) exchange(ctx context.Context, store *widget.Store, text string, out, errOut io.Writer) error {
	base := len(store.Snapshot().Conversation) + 1

	updates, unsubscribe := store.Subscribe()
	printed := make(chan struct{})
	go func() {
		defer close(printed)
		shown := ""
		var reply chat.Turn
		replied := false
		for snap := range updates {
			if len(snap.Conversation) <= base {
				continue
			}
			reply, replied = snap.Conversation[base], true
			// Placeholder text is only printed once the reply is final.
			rendered := widget.Summarize(reply)
			if rendered == widget.EmptyTurnText || !strings.HasPrefix(rendered, shown) {
				continue
			}
			fmt.Fprint(out, rendered[len(shown):])
			shown = rendered
		}
		if replied && shown == "" {
			shown = widget.Summarize(reply)
			fmt.Fprint(out, shown)
		}
		if shown != "" {
			fmt.Fprintln(out)
		}
	}()

	err := store.Submit(ctx, text)
	unsubscribe()
	<-printed

	if err != nil {
		fmt.Fprintln(errOut, "error:", widget.ErrorText(err))
		log.Debug().Err(err).Msg("exchange failed")
	}
	return err
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
