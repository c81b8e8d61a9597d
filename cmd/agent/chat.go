package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chris/wattwise/internal/agent"
	"github.com/chris/wattwise/internal/llm"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context(), opts.cfg, opts.logger)
			if err != nil {
				return err
			}
			defer a.close()

			return runChat(cmd, a.agent, os.Stdin, os.Stdout, isPipe(os.Stdin.Stat))
		},
	}
}

// isPipe reports whether input comes from a pipe or file rather than a
// terminal. An unreadable stat is treated as a terminal.
func isPipe(stat func() (os.FileInfo, error)) bool {
	fi, err := stat()
	if err != nil || fi == nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice == 0
}

// runChat reads one message per line and streams each reply. History lives
// only as long as the process.
func runChat(cmd *cobra.Command, ag *agent.Agent, in io.Reader, out io.Writer, piped bool) error {
	ctx := cmd.Context()
	scanner := bufio.NewScanner(in)
	prompt := func() {
		if !piped {
			fmt.Fprint(out, "wattwise> ")
		}
	}
	emit := agent.EmitterFunc(func(chunk string) error {
		_, err := io.WriteString(out, chunk)
		return err
	})

	var history []llm.Message
	prompt()
	for scanner.Scan() {
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			prompt()
			continue
		}
		if input == "exit" || input == "quit" {
			break
		}

		history = append(history, llm.Message{Role: llm.RoleUser, Content: input})
		res, err := ag.Run(ctx, history, emit)
		fmt.Fprintln(out)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
			history = history[:len(history)-1]
		} else {
			history = append(history, llm.Message{Role: llm.RoleAssistant, Content: res.Text})
		}

		if piped {
			break // single exchange in pipe mode
		}
		prompt()
	}
	return scanner.Err()
}
