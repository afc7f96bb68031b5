package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"dietchat/internal/client"
	"dietchat/internal/models"
)

var (
	chatServer   string
	chatUser     string
	chatPassword string
	chatRegister bool
	chatNoSearch bool

	chatCmd = &cobra.Command{
		Use:   "chat",
		Short: "Talk to a running dietchat server from the terminal",
		RunE:  runChat,
	}
)

func init() {
	chatCmd.Flags().StringVar(&chatServer, "server", "http://localhost:8080", "base URL of the dietchat API")
	chatCmd.Flags().StringVarP(&chatUser, "username", "u", "", "account username")
	chatCmd.Flags().StringVarP(&chatPassword, "password", "p", "", "account password")
	chatCmd.Flags().BoolVar(&chatRegister, "register", false, "create the account before logging in")
	chatCmd.Flags().BoolVar(&chatNoSearch, "no-search", false, "disable web search augmentation")
	_ = chatCmd.MarkFlagRequired("username")
	_ = chatCmd.MarkFlagRequired("password")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	in := bufio.NewReader(cmd.InOrStdin())
	c := client.New(chatServer, &http.Client{Timeout: 5 * time.Minute})

	if chatRegister {
		if err := c.Register(ctx, chatUser, chatPassword); err != nil {
			return fmt.Errorf("register: %w", err)
		}
	}
	if err := c.Login(ctx, chatUser, chatPassword); err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if chatNoSearch {
		c.DisableSearch()
	}

	fmt.Fprintln(out, "Tell me about your goals. Type /quit to exit.")
	for {
		fmt.Fprint(out, "> ")
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		text := strings.TrimSpace(line)
		if text == "/quit" || (text == "" && errors.Is(err, io.EOF)) {
			return nil
		}
		if text == "" {
			continue
		}

		for text != "" {
			reply, sendErr := sendTurn(ctx, c, out, text)
			text = ""
			if sendErr != nil {
				if ctx.Err() != nil {
					return nil
				}
				fmt.Fprintf(out, "error: %v\n", sendErr)
			}
			if reply != nil && reply.Form != nil {
				answers, formErr := promptForm(in, out, *reply.Form)
				if formErr != nil {
					return formErr
				}
				text = client.AnswerForm(*reply.Form, answers)
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
	}
}

// sendTurn prints the reply as it grows.
func sendTurn(ctx context.Context, c *client.Client, out io.Writer, text string) (*client.Reply, error) {
	printed := 0
	reply, err := c.Send(ctx, text, func(sofar string) {
		fmt.Fprint(out, sofar[printed:])
		printed = len(sofar)
	})
	if printed > 0 {
		fmt.Fprintln(out)
	}
	if reply != nil && reply.Errored {
		fmt.Fprintln(out, reply.Notice)
	}
	return reply, err
}

func promptForm(in *bufio.Reader, out io.Writer, spec models.FormSpec) (map[string]string, error) {
	answers := make(map[string]string, len(spec.FormFields))
	fmt.Fprintln(out, "\nPlease answer (leave blank to skip):")
	for _, field := range spec.FormFields {
		label := field.Label
		if len(field.Options) > 0 {
			label += " [" + strings.Join(field.Options, "/") + "]"
		} else if field.Placeholder != "" {
			label += " (" + field.Placeholder + ")"
		}
		fmt.Fprintf(out, "  %s: ", label)
		line, err := in.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		answers[field.Key] = strings.TrimSpace(line)
		if errors.Is(err, io.EOF) {
			break
		}
	}
	return answers, nil
}
