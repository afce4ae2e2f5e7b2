package internal

import (
	"fmt"
	"os"
	"sync"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

// tui model for the presence client: auth screens first, then the live view
// with the online sidebar and the command input.
type TUIModel struct {
	textInput       textinput.Model
	lines           []string
	serverSocketURL string
	username        string
	password        string
	token           string
	websocketConn   *websocket.Conn
	writeMutex      sync.Mutex
	isConnected     bool
	connectionError error
	loading         bool
	mode            appMode
	authIntent      authIntent

	online     []string
	activities map[string]string
}

type appMode int

const (
	modeAuthMenu appMode = iota
	modeAuthUsername
	modeAuthPassword
	modeChat
)

type authIntent int

const (
	authIntentLogin authIntent = iota
	authIntentSignup
)

func NewTUIModel(serverSocketURL, username string) *TUIModel {
	input := textinput.New()
	input.Placeholder = ""
	input.CharLimit = 0
	input.Prompt = ""

	if username == "" {
		username = defaultUsername()
	}

	return &TUIModel{
		textInput:       input,
		lines:           make([]string, 0, 64),
		serverSocketURL: serverSocketURL,
		username:        username,
		activities:      make(map[string]string),
		mode:            modeAuthMenu,
	}
}

// RunClient blocks until the TUI exits.
func RunClient(serverSocketURL, username string) error {
	model := NewTUIModel(serverSocketURL, username)
	program := tea.NewProgram(model, tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}

func defaultUsername() string {
	if user := os.Getenv("TUNELINK_USER"); user != "" {
		return user
	}
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "anon"
}

func (model *TUIModel) Init() tea.Cmd {
	return nil
}

// appendLine keeps the event log bounded so long sessions do not grow memory
// without limit.
func (model *TUIModel) appendLine(line string) {
	const maxLines = 500
	model.lines = append(model.lines, line)
	if len(model.lines) > maxLines {
		model.lines = model.lines[len(model.lines)-maxLines:]
	}
}
