package ui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/markdave123-py/SupraChat/internal/chat"
	"github.com/markdave123-py/SupraChat/internal/models"
)

const (
	emptyPeersText  = "No other users have joined this instance yet."
	schemaBanner    = "Database tables are missing. Messages stay on this device. Type /setup to create them."
	resizeTemplate  = "Please resize the terminal to at least %dx%d (now %dx%d)."
	noSelectionText = "Select a user with up/down to start chatting."
)

func (m Model) View() string {
	if m.width < MinWidth || m.height < MinHeight {
		return fmt.Sprintf(resizeTemplate, MinWidth, MinHeight, m.width, m.height)
	}
	switch m.sess.State {
	case chat.StateChatting:
		return m.chatView()
	case chat.StateSyncing:
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center,
			m.spinner.View()+" Syncing your profile...")
	default:
		return m.authView()
	}
}

func (m Model) authView() string {
	mode, other := "Sign in", "sign up"
	if m.signUp {
		mode, other = "Sign up", "sign in"
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render("SupraChat") + "\n")
	b.WriteString(dimStyle.Render(mode) + "\n\n")
	b.WriteString(m.email.View() + "\n")
	b.WriteString(m.password.View() + "\n\n")
	if m.busy {
		b.WriteString(m.spinner.View() + " Working...\n")
	} else if m.authErr != "" {
		b.WriteString(errorStyle.Render(m.authErr) + "\n")
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("enter: %s  tab: next field  ctrl+t: %s instead  ctrl+c: quit", strings.ToLower(mode), other)))
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, boxStyle.Render(b.String()))
}

func (m Model) chatView() string {
	var sections []string
	header := titleStyle.Render("SupraChat") + dimStyle.Render("  "+m.sessionEmail())
	sections = append(sections, header)
	if m.sess.TableMissing {
		sections = append(sections, bannerStyle.Width(m.width-2).Render(schemaBanner))
	}

	body := lipgloss.JoinHorizontal(lipgloss.Top, m.sidebarView(), " ", m.conversationView())
	sections = append(sections, body)
	sections = append(sections, m.input.View())
	sections = append(sections, m.statusLine())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) sessionEmail() string {
	if m.sess.Session == nil {
		return ""
	}
	return m.sess.Session.User.Email
}

func (m Model) sidebarView() string {
	height := m.viewport.Height + 1
	lines := []string{m.search.View()}
	peers := m.visiblePeers()
	switch {
	case len(m.sess.Peers) == 0:
		lines = append(lines, "", dimStyle.Width(sidebarWidth-2).Render(emptyPeersText))
	case len(peers) == 0:
		lines = append(lines, "", dimStyle.Render("No matches."))
	}
	for _, p := range peers {
		lines = append(lines, peerLine(p, p.ID == m.selectedID))
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return sidebarStyle.Width(sidebarWidth).Height(height).Render(strings.Join(lines, "\n"))
}

func peerLine(p models.UserProfile, selected bool) string {
	dot := offlineStyle.Render("○")
	if p.Status == models.StatusOnline {
		dot = onlineStyle.Render("●")
	}
	name := p.Email
	if p.DisplayName != nil && *p.DisplayName != "" {
		name = *p.DisplayName
	}
	if limit := sidebarWidth - 5; len([]rune(name)) > limit {
		name = string([]rune(name)[:limit-1]) + "…"
	}
	if selected {
		return dot + " " + selectedStyle.Render(name)
	}
	return dot + " " + name
}

func (m Model) conversationView() string {
	if m.selectedID == "" {
		return lipgloss.Place(m.viewport.Width, m.viewport.Height+1, lipgloss.Center, lipgloss.Center, dimStyle.Render(noSelectionText))
	}
	title := selectedStyle.Render(m.peerName(m.selectedID))
	if m.conv.Typing {
		title += dimStyle.Render("  assistant is typing...")
	}
	return lipgloss.JoinVertical(lipgloss.Left, title, m.viewport.View())
}

func (m Model) peerName(id string) string {
	for _, p := range m.sess.Peers {
		if p.ID == id {
			return p.Email
		}
	}
	return id
}

func (m Model) statusLine() string {
	switch {
	case m.status != "" && m.statusIsErr:
		return errorStyle.Render(m.status)
	case m.status != "":
		return noticeStyle.Render(m.status)
	case m.conv.Notice != "":
		return noticeStyle.Render(m.conv.Notice)
	case m.sess.Notice != "":
		return noticeStyle.Render(m.sess.Notice)
	}
	return dimStyle.Render("tab: search  up/down: select user  pgup/pgdn: scroll  esc: dismiss  " + commandHelp)
}

func (m *Model) refreshViewport() {
	if m.conv.PeerID == "" {
		m.viewport.SetContent("")
		return
	}
	lines := make([]string, 0, len(m.conv.Messages))
	for i, msg := range m.conv.Messages {
		lines = append(lines, m.renderMessage(i+1, msg))
	}
	if len(lines) == 0 {
		lines = append(lines, dimStyle.Render("No messages yet. Say hello, or start with ai: to ask the assistant."))
	}
	m.viewport.SetContent(lipgloss.NewStyle().Width(m.viewport.Width).Render(strings.Join(lines, "\n")))
	m.viewport.GotoBottom()
}

func (m Model) renderMessage(n int, msg models.Message) string {
	var who string
	switch {
	case msg.IsAI || msg.SenderID == models.AISenderID:
		who = aiStyle.Render("assistant")
	case msg.SenderID == m.conv.SelfID:
		who = selfStyle.Render("you")
	default:
		who = peerStyle.Render(m.peerName(msg.SenderID))
	}
	prefix := fmt.Sprintf("[%d]", n)
	if !msg.CreatedAt.IsZero() {
		prefix += " " + msg.CreatedAt.Local().Format("15:04")
	}
	return fmt.Sprintf("%s %s: %s", dimStyle.Render(prefix), who, messageBody(n, msg))
}

func messageBody(n int, msg models.Message) string {
	switch msg.MessageType {
	case models.MessageImage, models.MessageFile:
		name := "attachment"
		if msg.FileName != nil && *msg.FileName != "" {
			name = *msg.FileName
		}
		return noticeStyle.Render(fmt.Sprintf("[%s: %s]", msg.MessageType, name)) + dimStyle.Render(fmt.Sprintf(" /save %d to download", n))
	}
	return msg.Content
}
