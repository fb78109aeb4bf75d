// Command chatterm is a terminal client for the alumnet chat.
package main

import (
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	server := pflag.StringP("server", "s", envOr("ALUMNET_SERVER", "http://localhost:8080"), "API base URL")
	email := pflag.StringP("email", "e", os.Getenv("ALUMNET_EMAIL"), "account email")
	password := pflag.StringP("password", "p", "", "account password (default $ALUMNET_PASSWORD)")
	token := pflag.String("token", os.Getenv("ALUMNET_TOKEN"), "existing bearer token, skips login")
	pflag.Parse()

	pw := *password
	if pw == "" {
		pw = os.Getenv("ALUMNET_PASSWORD")
	}

	if err := run(*server, *email, pw, *token); err != nil {
		fmt.Fprintln(os.Stderr, "chatterm:", err)
		os.Exit(1)
	}
}

func run(server, email, password, token string) error {
	var (
		sess *session
		err  error
	)
	switch {
	case token != "":
		sess, err = whoami(server, token)
	case email != "" && password != "":
		sess, err = login(server, email, password)
	default:
		return fmt.Errorf("pass --email and --password, or --token")
	}
	if err != nil {
		return err
	}

	c, err := dial(server, sess.Token)
	if err != nil {
		return err
	}
	defer c.close()

	p := tea.NewProgram(newModel(sess.Name, server, c.send), tea.WithAltScreen())
	go c.listen(p)

	final, err := p.Run()
	if err != nil {
		return err
	}
	if m, ok := final.(model); ok && m.status != "connected" {
		fmt.Fprintln(os.Stderr, m.status)
	}
	return nil
}
