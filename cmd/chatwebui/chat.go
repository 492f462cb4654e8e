package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/MegaGrindStone/chat-web-ui/internal/conversation"
	"github.com/MegaGrindStone/chat-web-ui/internal/models"
	"github.com/spf13/cobra"
)

var (
	chatModel     string
	chatMaxTokens int
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat in the terminal",
	Long: `Chat with the configured model in the terminal. The answer is printed as it streams.

Commands:
  /clear          discard the conversation
  /export <file>  write the transcript to file
  /quit           leave`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		logger := newLogger()
		cfg, err := loadAppConfig(logger)
		if err != nil {
			return err
		}
		completer, _, err := cfg.LLM.completer(cfg.SystemPrompt, logger)
		if err != nil {
			return err
		}

		catalog := cfg.catalog()
		model := chatModel
		if model == "" {
			model = cfg.DefaultModel
		}
		if model == "" {
			model = catalog.IDs()[0]
		}
		maxTokens := chatMaxTokens
		if maxTokens == 0 {
			if info, ok := catalog.Lookup(model); ok {
				maxTokens = catalog.DefaultBudget(info)
			}
		}
		if _, err := conversation.ValidateBudget(catalog, model, maxTokens); err != nil {
			return err
		}

		return runChat(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), completer, catalog, model, maxTokens)
	},
}

func init() {
	chatCmd.Flags().StringVarP(&chatModel, "model", "m", "", "model to chat with")
	chatCmd.Flags().IntVar(&chatMaxTokens, "max-tokens", 0, "maximum output tokens (default from config)")
}

func runChat(
	ctx context.Context,
	in io.Reader,
	out io.Writer,
	completer conversation.Completer,
	catalog models.Catalog,
	model string,
	maxTokens int,
) error {
	conv := conversation.New()

	fmt.Fprintf(out, "Chatting with %s (max %d tokens). Type /quit to leave.\n", model, maxTokens)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			fmt.Fprintln(out)
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())

		switch {
		case line == "":
			continue
		case line == "/quit":
			return nil
		case line == "/clear":
			conv.Clear()
			fmt.Fprintln(out, "Conversation cleared.")
			continue
		case line == "/export", strings.HasPrefix(line, "/export "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/export"))
			if err := exportTranscript(path, conv.Messages()); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
				continue
			}
			fmt.Fprintf(out, "Transcript written to %s\n", path)
			continue
		}

		if _, err := conv.AppendUser(models.TextContent(line)); err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}

		req, err := conversation.BuildRequest(ctx, conv.Messages(), catalog, model, maxTokens, nil)
		if err != nil {
			return err
		}

		release, err := conv.Begin()
		if err != nil {
			return err
		}
		_, err = conv.Send(ctx, completer, req, func(acc *conversation.Accumulator) {
			fmt.Fprint(out, acc.Last().Text)
		})
		release()
		fmt.Fprintln(out)

		var tErr *conversation.TransportError
		if errors.As(err, &tErr) {
			fmt.Fprintf(out, "Error: %v\n", err)
			continue
		}
		if err != nil {
			return err
		}
	}
}

func exportTranscript(path string, messages []models.Message) error {
	if path == "" {
		return errors.New("usage: /export <file>")
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := conversation.Export(f, messages); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
