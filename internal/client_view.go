package internal

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// pre styled colors, all from lipgloss
var (
	appTitleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("213")).Padding(0, 1)
	subtitleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("110")).MarginTop(1)
	menuBoxStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(1, 2).MarginTop(1)
	menuItemStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("255")).PaddingLeft(1)
	menuHotkeyStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("213")).Bold(true)
	menuHintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).MarginTop(1)
	logBoxStyle     = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("60")).Padding(1, 2).MarginTop(1)
	inputBoxStyle   = lipgloss.NewStyle().BorderStyle(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("63")).Padding(0, 1).MarginTop(1)
	sidebarStyle    = lipgloss.NewStyle().BorderStyle(lipgloss.NormalBorder()).BorderLeft(true).BorderForeground(lipgloss.Color("237")).PaddingLeft(2).MarginTop(1)
	onlineUserStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))
	activityStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("244")).Italic(true)
	connectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true).MarginTop(1)
	connectingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Italic(true).MarginTop(1)
	errorStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).MarginTop(1)
)

func (model *TUIModel) View() string {
	switch model.mode {
	case modeAuthMenu:
		return model.renderAuthMenuView()
	case modeAuthUsername, modeAuthPassword:
		return model.renderAuthPromptView()
	default:
		return model.renderChatView()
	}
}

func (model *TUIModel) renderAuthMenuView() string {
	title := appTitleStyle.Render("Tunelink")
	subtitle := subtitleStyle.Render("See what your friends are playing, right now")

	options := []string{
		renderMenuOption("1", "Log in"),
		renderMenuOption("2", "Sign up"),
		renderMenuOption("q", "Quit"),
	}

	sections := []string{
		lipgloss.JoinVertical(lipgloss.Left, title, subtitle),
		menuBoxStyle.Render(lipgloss.JoinVertical(lipgloss.Left, options...)),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	if model.connectionError != nil {
		sections = append(sections, errorStyle.Render(model.connectionError.Error()))
	}
	sections = append(sections, menuHintStyle.Render("1) Log in  •  2) Sign up  •  q) Quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderAuthPromptView() string {
	title := "Log in"
	if model.authIntent == authIntentSignup {
		title = "Create an account"
	}
	hint := "Enter your username"
	if model.mode == modeAuthPassword {
		hint = "Enter your password"
	}
	sections := []string{
		appTitleStyle.Render(title),
		subtitleStyle.Render(hint),
		inputBoxStyle.Render(model.textInput.View()),
	}
	if model.loading {
		sections = append(sections, connectingStyle.Render("Working…"))
	}
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (model *TUIModel) renderChatView() string {
	header := appTitleStyle.Render(fmt.Sprintf("Tunelink: %s", model.username))

	var status string
	switch {
	case model.isConnected:
		status = connectedStyle.Render("online")
	case model.connectionError != nil:
		status = errorStyle.Render("connection failed: " + model.connectionError.Error())
	default:
		status = connectingStyle.Render("connecting…")
	}

	logLines := model.lines
	if len(logLines) > 18 {
		logLines = logLines[len(logLines)-18:]
	}
	logContent := strings.Join(logLines, "\n")
	if logContent == "" {
		logContent = "no activity yet"
	}

	body := lipgloss.JoinHorizontal(
		lipgloss.Top,
		logBoxStyle.Width(58).Render(logContent),
		sidebarStyle.Render(model.renderSidebar()),
	)

	return lipgloss.JoinVertical(
		lipgloss.Left,
		header,
		status,
		body,
		inputBoxStyle.Render(model.textInput.View()),
		menuHintStyle.Render("/msg <user> <text>  ·  /activity <label>  ·  /quit"),
	)
}

func (model *TUIModel) renderSidebar() string {
	if len(model.online) == 0 {
		return activityStyle.Render("nobody online")
	}
	users := append([]string(nil), model.online...)
	sort.Strings(users)
	rows := make([]string, 0, len(users))
	for _, user := range users {
		row := onlineUserStyle.Render(user)
		if label, ok := model.activities[user]; ok {
			row += "\n  " + activityStyle.Render(label)
		}
		rows = append(rows, row)
	}
	return strings.Join(rows, "\n")
}

func renderMenuOption(hotkey, label string) string {
	return menuItemStyle.Render(menuHotkeyStyle.Render(hotkey+")") + " " + label)
}
