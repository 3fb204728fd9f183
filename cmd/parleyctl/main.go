// parleyctl is a CLI client for the Parley REST API. Credentials are held
// for the lifetime of one invocation; pass --token to reuse a session.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/parleyhq/parley/client"
)

var (
	apiFlag   string
	tokenFlag string
	rootCmd   = &cobra.Command{
		Use:   "parleyctl",
		Short: "CLI client for the Parley chat backend",
	}
)

func newClient() *client.Client {
	opts := []client.Option{client.WithHTTPTimeout(15 * time.Second)}
	if tokenFlag != "" {
		opts = append(opts, client.WithToken(tokenFlag))
	}
	return client.New(apiFlag, opts...)
}

func signIn(ctx context.Context, c *client.Client, username, password string) error {
	if tokenFlag != "" {
		return nil
	}
	if username == "" || password == "" {
		return fmt.Errorf("--username and --password required (or --token)")
	}
	_, err := c.SignIn(ctx, username, password)
	return err
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&apiFlag, "api", "a", "http://localhost:8080", "Parley service base URL")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "Bearer token from a previous signin")

	var username, password string
	addCreds := func(cmd *cobra.Command) {
		cmd.Flags().StringVarP(&username, "username", "u", "", "Account username")
		cmd.Flags().StringVarP(&password, "password", "p", "", "Account password")
	}

	signupCmd := &cobra.Command{
		Use:   "signup",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password required")
			}
			user, err := newClient().SignUp(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Printf("registered %s (%s)\n", user.Username, user.UserID)
			return nil
		},
	}
	addCreds(signupCmd)
	rootCmd.AddCommand(signupCmd)

	signinCmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in and print a bearer token for later calls",
		RunE: func(cmd *cobra.Command, args []string) error {
			if username == "" || password == "" {
				return fmt.Errorf("--username and --password required")
			}
			c := newClient()
			user, err := c.SignIn(cmd.Context(), username, password)
			if err != nil {
				return err
			}
			fmt.Printf("signed in as %s (%s)\n", user.Username, user.UserID)
			fmt.Printf("token: %s\n", c.Token())
			return nil
		},
	}
	addCreds(signinCmd)
	rootCmd.AddCommand(signinCmd)

	usersCmd := &cobra.Command{
		Use:   "users",
		Short: "List other accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if err := signIn(cmd.Context(), c, username, password); err != nil {
				return err
			}
			users, err := c.ListUsers(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tUSERNAME\tDISPLAY NAME")
			for _, u := range users {
				display := ""
				if u.DisplayName != nil {
					display = *u.DisplayName
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.UserID, u.Username, display)
			}
			return w.Flush()
		},
	}
	addCreds(usersCmd)
	rootCmd.AddCommand(usersCmd)

	chatsCmd := &cobra.Command{
		Use:   "chats",
		Short: "List conversations, most recently active first",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if err := signIn(cmd.Context(), c, username, password); err != nil {
				return err
			}
			convs, err := c.ListConversations(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tMEMBERS\tLAST ACTIVITY\tLAST ENTRY")
			for _, cv := range convs {
				preview := ""
				if cv.LastEntry != nil {
					preview = cv.LastEntry.Content
				}
				fmt.Fprintf(w, "%s\t%v\t%s\t%s\n",
					cv.ConversationID, cv.Members,
					cv.LastActivity.Format(time.RFC3339), preview)
			}
			return w.Flush()
		},
	}
	addCreds(chatsCmd)
	rootCmd.AddCommand(chatsCmd)

	var recipient, conversationID string
	sendCmd := &cobra.Command{
		Use:   "send [message]",
		Short: "Send a message, opening the conversation if needed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if err := signIn(cmd.Context(), c, username, password); err != nil {
				return err
			}
			convID := conversationID
			if convID == "" {
				if recipient == "" {
					return fmt.Errorf("--to or --conversation required")
				}
				conv, err := c.CreateConversation(cmd.Context(), recipient)
				if err != nil {
					return err
				}
				convID = conv.ConversationID
			}
			entry, err := c.SendEntry(cmd.Context(), convID, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("sent %s in %s\n", entry.EntryID, convID)
			return nil
		},
	}
	addCreds(sendCmd)
	sendCmd.Flags().StringVar(&recipient, "to", "", "Recipient user ID")
	sendCmd.Flags().StringVar(&conversationID, "conversation", "", "Existing conversation ID")
	rootCmd.AddCommand(sendCmd)

	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream live events until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient()
			if err := signIn(cmd.Context(), c, username, password); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			stream, err := c.Subscribe(ctx)
			if err != nil {
				return err
			}
			for ev := range stream {
				switch {
				case ev.Entry != nil:
					fmt.Printf("[%s] %s: %s\n", ev.ConversationID, ev.Entry.SenderID, ev.Entry.Content)
				default:
					fmt.Printf("[%s] %s\n", ev.ConversationID, ev.Kind)
				}
			}
			return nil
		},
	}
	addCreds(watchCmd)
	rootCmd.AddCommand(watchCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
