package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"alumnet/internal/chat"
	"alumnet/internal/users"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"
)

const requestTimeout = 10 * time.Second

// session is a logged-in member.
type session struct {
	Token string
	Name  string
}

func login(server, email, password string) (*session, error) {
	var resp users.AuthResponse
	code, body, errs := fiber.Post(endpoint(server, "/user/login")).
		Timeout(requestTimeout).
		JSON(users.LoginUserRequest{Email: email, Password: password}).
		Struct(&resp)
	if len(errs) > 0 {
		return nil, fmt.Errorf("login request failed: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("login failed (%d): %s", code, errorMessage(body))
	}
	return &session{Token: resp.Token, Name: resp.User.Name}, nil
}

// whoami resolves the display name behind an existing token.
func whoami(server, token string) (*session, error) {
	var resp struct {
		User users.User `json:"user"`
	}
	code, body, errs := fiber.Get(endpoint(server, "/api/user/me")).
		Timeout(requestTimeout).
		Set(fiber.HeaderAuthorization, "Bearer "+token).
		Struct(&resp)
	if len(errs) > 0 {
		return nil, fmt.Errorf("profile request failed: %w", errs[0])
	}
	if code != fiber.StatusOK {
		return nil, fmt.Errorf("token rejected (%d): %s", code, errorMessage(body))
	}
	return &session{Token: token, Name: resp.User.Name}, nil
}

func endpoint(server, path string) string {
	return strings.TrimRight(server, "/") + path
}

func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

// chatURL maps the API base URL to the websocket endpoint.
func chatURL(server, token string) (string, error) {
	u, err := url.Parse(server)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws/chat"
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// frame is any server event.
type frame struct {
	Type     string               `json:"type"`
	Code     string               `json:"code"`
	Message  json.RawMessage      `json:"message"`
	Messages []chat.MessageRecord `json:"messages"`
}

type disconnectedMsg struct{ err error }

type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func dial(server, token string) (*conn, error) {
	target, err := chatURL(server, token)
	if err != nil {
		return nil, err
	}
	ws, resp, err := websocket.DefaultDialer.Dial(target, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect to chat: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("connect to chat: %w", err)
	}
	return &conn{ws: ws}, nil
}

// send is called from tea commands, which run concurrently.
func (c *conn) send(content string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(requestTimeout))
	return c.ws.WriteJSON(chat.InboundEvent{Type: chat.EventSend, Content: content})
}

// listen forwards server events to p until the socket fails.
func (c *conn) listen(p *tea.Program) {
	for {
		var f frame
		if err := c.ws.ReadJSON(&f); err != nil {
			p.Send(disconnectedMsg{err: err})
			return
		}
		p.Send(f)
	}
}

func (c *conn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = c.ws.Close()
}
