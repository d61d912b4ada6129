package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/codefionn/bfrelay/internal/relayclient"
	"github.com/codefionn/bfrelay/internal/transform"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var connectCmd = &cobra.Command{
	Use:   "connect [address]",
	Short: "Chat through a running relay",
	Long: `Connect to a relay and chat interactively. Lines typed are sent
encoded; replies and notices are printed as they arrive.

Type /help for server commands. /quit asks the server to disconnect you;
quit or exit leaves immediately.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConnect,
}

var (
	noticeColor = color.New(color.FgYellow)
	chatColor   = color.New(color.FgCyan)
	errorColor  = color.New(color.FgRed)
)

func runConnect(cmd *cobra.Command, args []string) error {
	addr, err := connectAddress(args)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	client, err := relayclient.Dial(ctx, addr, nil)
	if err != nil {
		return err
	}
	defer client.Close()

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	out := cmd.OutOrStdout()

	received := make(chan error, 1)
	go func() {
		for {
			msg, err := client.Receive(ctx)
			if err != nil {
				received <- err
				return
			}
			printMessage(out, msg)
		}
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(cmd.InOrStdin())
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		if interactive {
			fmt.Fprint(out, "> ")
		}
		select {
		case <-ctx.Done():
			return nil
		case err := <-received:
			if errors.Is(err, io.EOF) {
				noticeColor.Fprintln(out, "Disconnected from server")
				return nil
			}
			return err
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			line = strings.TrimRight(line, "\r")
			switch line {
			case "":
				continue
			case "quit", "exit":
				return nil
			}
			if !transform.IsValidPayload(line) {
				errorColor.Fprintf(out, "Messages must be 1-%d printable ASCII characters\n", transform.MaxPayloadLength)
				continue
			}
			if err := client.Send(line); err != nil {
				return err
			}
		}
	}
}

func connectAddress(args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	return cfg.Address(), nil
}

func printMessage(w io.Writer, msg relayclient.Message) {
	if msg.Notice {
		noticeColor.Fprintln(w, msg.Text)
		return
	}
	chatColor.Fprintln(w, msg.Text)
}

