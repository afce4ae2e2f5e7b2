package internal

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/gorilla/websocket"
)

type (
	authOKMsg        struct{ token string }
	authFailedMsg    struct{ err error }
	connectedMsg     struct{}
	connectFailedMsg struct{ err error }
	incomingEventMsg struct{ envelope Envelope }
	socketClosedMsg  struct{ err error }
)

func (model *TUIModel) Update(message tea.Msg) (tea.Model, tea.Cmd) {
	switch typedMessage := message.(type) {
	case tea.KeyMsg:
		if typedMessage.Type == tea.KeyCtrlC {
			model.closeSocket()
			return model, tea.Quit
		}
		return model.handleKey(typedMessage)

	case authOKMsg:
		model.token = typedMessage.token
		model.loading = false
		model.mode = modeChat
		model.textInput.SetValue("")
		model.textInput.Placeholder = "/msg <user> <text>  ·  /activity <label>"
		model.textInput.Prompt = "> "
		focusCmd := model.textInput.Focus()
		return model, tea.Batch(focusCmd, model.connectCmd())

	case authFailedMsg:
		model.loading = false
		model.connectionError = typedMessage.err
		model.mode = modeAuthMenu
		return model, nil

	case connectedMsg:
		model.isConnected = true
		model.connectionError = nil
		model.appendLine("connected, you are online")
		return model, model.readOnceCmd()

	case connectFailedMsg:
		model.isConnected = false
		model.connectionError = typedMessage.err
		return model, nil

	case incomingEventMsg:
		model.applyEvent(typedMessage.envelope)
		return model, model.readOnceCmd()

	case socketClosedMsg:
		model.isConnected = false
		if typedMessage.err != nil {
			model.appendLine("connection closed: " + typedMessage.err.Error())
		}
		return model, nil
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(message)
	return model, cmd
}

func (model *TUIModel) handleKey(key tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch model.mode {
	case modeAuthMenu:
		switch key.String() {
		case "1", "l", "L":
			model.authIntent = authIntentLogin
			return model.promptUsername()
		case "2", "s", "S":
			model.authIntent = authIntentSignup
			return model.promptUsername()
		case "q", "Q", "esc":
			return model, tea.Quit
		}
		return model, nil

	case modeAuthUsername:
		if key.Type == tea.KeyEnter {
			trimmed := strings.TrimSpace(model.textInput.Value())
			if trimmed == "" {
				return model, nil
			}
			model.username = trimmed
			model.textInput.SetValue("")
			model.textInput.Placeholder = "password"
			model.textInput.Prompt = "password> "
			model.textInput.EchoMode = textinput.EchoPassword
			model.mode = modeAuthPassword
			return model, nil
		}

	case modeAuthPassword:
		if key.Type == tea.KeyEnter {
			model.password = model.textInput.Value()
			model.textInput.SetValue("")
			model.textInput.EchoMode = textinput.EchoNormal
			model.loading = true
			return model, model.authCmd()
		}

	case modeChat:
		if key.Type == tea.KeyEnter {
			line := strings.TrimSpace(model.textInput.Value())
			model.textInput.SetValue("")
			if line == "" {
				return model, nil
			}
			return model, model.handleCommand(line)
		}
	}

	var cmd tea.Cmd
	model.textInput, cmd = model.textInput.Update(key)
	return model, cmd
}

func (model *TUIModel) promptUsername() (tea.Model, tea.Cmd) {
	model.mode = modeAuthUsername
	model.connectionError = nil
	model.textInput.SetValue(model.username)
	model.textInput.Placeholder = "username"
	model.textInput.Prompt = "username> "
	return model, model.textInput.Focus()
}

func (model *TUIModel) handleCommand(line string) tea.Cmd {
	switch {
	case line == "/quit":
		model.closeSocket()
		return tea.Quit

	case strings.HasPrefix(line, "/msg "):
		rest := strings.TrimSpace(strings.TrimPrefix(line, "/msg "))
		fields := strings.SplitN(rest, " ", 2)
		if len(fields) < 2 || strings.TrimSpace(fields[1]) == "" {
			model.appendLine("usage: /msg <user> <text>")
			return nil
		}
		receiver, content := fields[0], strings.TrimSpace(fields[1])
		model.appendLine(fmt.Sprintf("you → %s: %s", receiver, content))
		return model.sendEventCmd(EventSendMessage, sendMessagePayload{ReceiverID: receiver, Content: content})

	case strings.HasPrefix(line, "/activity "):
		label := strings.TrimSpace(strings.TrimPrefix(line, "/activity "))
		if label == "" {
			model.appendLine("usage: /activity <label>")
			return nil
		}
		return model.sendEventCmd(EventUpdateActivity, updateActivityPayload{UserID: model.username, Activity: label})

	default:
		model.appendLine("commands: /msg <user> <text> · /activity <label> · /quit")
		return nil
	}
}

// applyEvent folds a server event into the view state.
func (model *TUIModel) applyEvent(envelope Envelope) {
	switch envelope.Event {
	case EventPresenceOnlineSet, EventPresenceInitial:
		var payload onlineSetPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.online = payload.UserIDs
		}
	case EventActivitySnapshot:
		var payload activitySnapshotPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.activities = make(map[string]string, len(payload.Entries))
			for _, entry := range payload.Entries {
				model.activities[entry[0]] = entry[1]
			}
		}
	case EventActivityChanged:
		var payload activityChangedPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.activities[payload.UserID] = payload.Activity
		}
	case EventPeerJoined:
		var payload peerPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.appendLine(payload.UserID + " is online")
		}
	case EventPeerLeft:
		var payload peerPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.appendLine(payload.UserID + " went offline")
			delete(model.activities, payload.UserID)
		}
	case EventMessageReceived:
		var msg struct {
			SenderID string `json:"sender_id"`
			Content  string `json:"content"`
		}
		if json.Unmarshal(envelope.Data, &msg) == nil {
			model.appendLine(fmt.Sprintf("%s: %s", msg.SenderID, msg.Content))
		}
	case EventMessageAck:
		var msg struct {
			ReceiverID string `json:"receiver_id"`
		}
		if json.Unmarshal(envelope.Data, &msg) == nil {
			model.appendLine(fmt.Sprintf("delivered to %s ✓", msg.ReceiverID))
		}
	case EventMessageError:
		var payload messageErrorPayload
		if json.Unmarshal(envelope.Data, &payload) == nil {
			model.appendLine("message failed: " + payload.Reason)
		}
	}
}

// commands

func (model *TUIModel) authCmd() tea.Cmd {
	username, password, intent := model.username, model.password, model.authIntent
	wsURL := model.serverSocketURL
	return func() tea.Msg {
		baseURL, err := httpBaseFromSocketURL(wsURL)
		if err != nil {
			return authFailedMsg{err: err}
		}
		if intent == authIntentSignup {
			if err := apiSignup(baseURL, username, password); err != nil {
				return authFailedMsg{err: err}
			}
		}
		resp, err := apiLogin(baseURL, username, password)
		if err != nil {
			return authFailedMsg{err: err}
		}
		return authOKMsg{token: resp.Token}
	}
}

func (model *TUIModel) connectCmd() tea.Cmd {
	return func() tea.Msg {
		header := http.Header{}
		header.Set("Authorization", "Bearer "+model.token)
		conn, _, err := websocket.DefaultDialer.Dial(model.serverSocketURL, header)
		if err != nil {
			return connectFailedMsg{err: err}
		}
		model.websocketConn = conn
		if err := model.writeEvent(EventAnnouncePresence, announcePayload{UserID: model.username}); err != nil {
			_ = conn.Close()
			return connectFailedMsg{err: err}
		}
		return connectedMsg{}
	}
}

func (model *TUIModel) readOnceCmd() tea.Cmd {
	conn := model.websocketConn
	return func() tea.Msg {
		if conn == nil {
			return socketClosedMsg{}
		}
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return socketClosedMsg{err: err}
		}
		var envelope Envelope
		if err := json.Unmarshal(payload, &envelope); err != nil {
			return socketClosedMsg{err: err}
		}
		return incomingEventMsg{envelope: envelope}
	}
}

func (model *TUIModel) sendEventCmd(event string, payload interface{}) tea.Cmd {
	return func() tea.Msg {
		if err := model.writeEvent(event, payload); err != nil {
			return socketClosedMsg{err: err}
		}
		return nil
	}
}

func (model *TUIModel) writeEvent(event string, payload interface{}) error {
	if model.websocketConn == nil {
		return fmt.Errorf("not connected")
	}
	encoded := encodeEvent(event, payload)
	model.writeMutex.Lock()
	defer model.writeMutex.Unlock()
	return model.websocketConn.WriteMessage(websocket.TextMessage, encoded)
}

func (model *TUIModel) closeSocket() {
	if model.websocketConn != nil {
		_ = model.websocketConn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = model.websocketConn.Close()
	}
}
