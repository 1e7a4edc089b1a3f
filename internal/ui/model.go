// Package ui is the terminal shell of the chat client. It renders controller
// snapshots and turns key presses into controller calls; it makes no
// decisions of its own.
package ui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/markdave123-py/SupraChat/internal/chat"
	"github.com/markdave123-py/SupraChat/internal/models"
)

const (
	MinWidth  = 80
	MinHeight = 24

	sidebarWidth = 28
)

// actionMsg reports the outcome of a controller call started from a key.
type actionMsg struct {
	status string
	err    error
}

// Model is the Bubble Tea model of the whole client.
type Model struct {
	ctx     context.Context
	session *chat.SessionController
	convo   *chat.ConversationController
	bridge  *Bridge

	width, height int
	sess          chat.SessionSnapshot
	conv          chat.ConversationSnapshot

	email     textinput.Model
	password  textinput.Model
	authFocus int
	signUp    bool
	authErr   string
	busy      bool

	search       textinput.Model
	input        textinput.Model
	focusSearch  bool
	selectedID   string
	scopeSeq     uint64
	pendingClear string
	status       string
	statusIsErr  bool

	spinner  spinner.Model
	viewport viewport.Model
}

func NewModel(ctx context.Context, session *chat.SessionController, convo *chat.ConversationController, bridge *Bridge) Model {
	email := textinput.New()
	email.Placeholder = "you@example.com"
	email.Prompt = "Email    "
	email.Focus()

	password := textinput.New()
	password.Placeholder = "password"
	password.Prompt = "Password "
	password.EchoMode = textinput.EchoPassword
	password.EchoCharacter = '•'

	search := textinput.New()
	search.Placeholder = "search by email"
	search.Prompt = "/ "
	search.Width = sidebarWidth - 4

	input := textinput.New()
	input.Placeholder = "Type a message, ai: to ask the assistant, /attach <path>"
	input.Prompt = "> "
	input.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle

	m := Model{
		ctx:      ctx,
		session:  session,
		convo:    convo,
		bridge:   bridge,
		width:    MinWidth,
		height:   MinHeight,
		email:    email,
		password: password,
		search:   search,
		input:    input,
		spinner:  sp,
		viewport: viewport.New(MinWidth-sidebarWidth-2, MinHeight-6),
	}
	if session != nil {
		m.sess = session.Snapshot()
	}
	if convo != nil {
		m.conv = convo.Snapshot()
	}
	return m
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{textinput.Blink, m.spinner.Tick}
	if m.bridge != nil {
		cmds = append(cmds, m.bridge.next())
	}
	return tea.Batch(cmds...)
}

// Run starts the program on the alternate screen and blocks until it exits.
func Run(ctx context.Context, session *chat.SessionController, convo *chat.ConversationController, bridge *Bridge) error {
	p := tea.NewProgram(NewModel(ctx, session, convo, bridge), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}

func (m Model) listen() tea.Cmd {
	if m.bridge == nil {
		return nil
	}
	return m.bridge.next()
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.resize()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case sessionMsg:
		return m.applySession(chat.SessionSnapshot(msg))

	case conversationMsg:
		m.conv = chat.ConversationSnapshot(msg)
		m.refreshViewport()
		return m, m.listen()

	case inputClearedMsg:
		if m.pendingClear != "" && m.input.Value() == m.pendingClear {
			m.input.Reset()
		}
		m.pendingClear = ""
		return m, m.listen()

	case actionMsg:
		m.busy = false
		switch {
		case msg.err != nil && m.sess.State == chat.StateAuth:
			m.authErr = msg.err.Error()
		case msg.err != nil:
			m.status, m.statusIsErr = msg.err.Error(), true
		case msg.status != "":
			m.status, m.statusIsErr = msg.status, false
		}
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		switch m.sess.State {
		case chat.StateAuth:
			return m.updateAuth(msg)
		case chat.StateChatting:
			return m.updateChat(msg)
		}
	}
	return m, nil
}

func (m Model) applySession(s chat.SessionSnapshot) (tea.Model, tea.Cmd) {
	prevUser := m.sess.UserID()
	m.sess = s
	cmds := []tea.Cmd{m.listen()}

	if s.State == chat.StateAuth {
		m.busy = false
		m.status = ""
	}
	if s.State != chat.StateChatting || s.UserID() != prevUser {
		if m.selectedID != "" || m.conv.PeerID != "" {
			m.selectedID = ""
			cmds = append(cmds, m.scopeCmd(""))
		}
	}
	if m.selectedID != "" && !hasPeer(s.Peers, m.selectedID) {
		m.selectedID = ""
		cmds = append(cmds, m.scopeCmd(""))
	}
	if s.State == chat.StateChatting && !m.input.Focused() && !m.search.Focused() {
		m.input.Focus()
	}
	m.resize()
	return m, tea.Batch(cmds...)
}

func hasPeer(peers []models.UserProfile, id string) bool {
	for _, p := range peers {
		if p.ID == id {
			return true
		}
	}
	return false
}

func (m Model) updateAuth(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab, tea.KeyShiftTab, tea.KeyUp, tea.KeyDown:
		m.authFocus = 1 - m.authFocus
		if m.authFocus == 0 {
			m.password.Blur()
			m.email.Focus()
		} else {
			m.email.Blur()
			m.password.Focus()
		}
		return m, nil
	case tea.KeyCtrlT:
		m.signUp = !m.signUp
		m.authErr = ""
		return m, nil
	case tea.KeyEnter:
		if m.busy {
			return m, nil
		}
		email, password := strings.TrimSpace(m.email.Value()), m.password.Value()
		if email == "" || password == "" {
			m.authErr = "Email and password are required."
			return m, nil
		}
		m.busy, m.authErr = true, ""
		ctx, session, signUp := m.ctx, m.session, m.signUp
		return m, func() tea.Msg {
			var err error
			if signUp {
				err = session.SignUp(ctx, email, password)
			} else {
				err = session.SignIn(ctx, email, password)
			}
			return actionMsg{err: err}
		}
	}

	var cmd tea.Cmd
	if m.authFocus == 0 {
		m.email, cmd = m.email.Update(msg)
	} else {
		m.password, cmd = m.password.Update(msg)
	}
	return m, cmd
}

func (m Model) visiblePeers() []models.UserProfile {
	return chat.FilterByEmail(m.sess.Peers, m.search.Value())
}

func (m Model) updateChat(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyTab:
		m.focusSearch = !m.focusSearch
		if m.focusSearch {
			m.input.Blur()
			m.search.Focus()
		} else {
			m.search.Blur()
			m.input.Focus()
		}
		return m, nil
	case tea.KeyUp, tea.KeyDown:
		return m.moveSelection(msg.Type == tea.KeyDown)
	case tea.KeyPgUp, tea.KeyPgDown:
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	case tea.KeyEsc:
		m.status = ""
		session, convo := m.session, m.convo
		return m, func() tea.Msg {
			session.ClearNotice()
			convo.ClearNotice()
			return nil
		}
	case tea.KeyEnter:
		if m.focusSearch {
			m.focusSearch = false
			m.search.Blur()
			m.input.Focus()
			if m.selectedID == "" {
				if peers := m.visiblePeers(); len(peers) > 0 {
					m.selectedID = peers[0].ID
					cmd := m.scopeCmd(m.selectedID)
					return m, cmd
				}
			}
			return m, nil
		}
		return m.submit()
	}

	var cmd tea.Cmd
	if m.focusSearch {
		m.search, cmd = m.search.Update(msg)
	} else {
		m.input, cmd = m.input.Update(msg)
	}
	return m, cmd
}

func (m Model) moveSelection(down bool) (tea.Model, tea.Cmd) {
	peers := m.visiblePeers()
	if len(peers) == 0 {
		return m, nil
	}
	idx := -1
	for i, p := range peers {
		if p.ID == m.selectedID {
			idx = i
		}
	}
	switch {
	case idx < 0:
		idx = 0
	case down:
		idx = (idx + 1) % len(peers)
	default:
		idx = (idx - 1 + len(peers)) % len(peers)
	}
	if peers[idx].ID == m.selectedID {
		return m, nil
	}
	m.selectedID = peers[idx].ID
	cmd := m.scopeCmd(m.selectedID)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	text := m.input.Value()
	c, err := parseCommand(text)
	if err != nil {
		m.status, m.statusIsErr = err.Error(), true
		return m, nil
	}
	ctx, session, convo := m.ctx, m.session, m.convo

	switch c.kind {
	case cmdQuit:
		return m, tea.Quit
	case cmdSetup:
		m.input.Reset()
		m.status, m.statusIsErr = "Creating tables...", false
		return m, func() tea.Msg {
			if err := session.RunSetup(ctx); err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: "Setup complete."}
		}
	case cmdLogout:
		m.input.Reset()
		return m, func() tea.Msg { return actionMsg{err: session.SignOut(ctx)} }
	}

	if m.selectedID == "" {
		m.status, m.statusIsErr = "Select a user first (up/down).", true
		return m, nil
	}

	switch c.kind {
	case cmdAttach:
		m.input.Reset()
		path, peerID := c.path, m.selectedID
		return m, func() tea.Msg {
			sent, err := convo.Attach(ctx, peerID, path)
			if err != nil {
				return actionMsg{err: err}
			}
			if sent == nil {
				return nil
			}
			return actionMsg{status: "Sent " + path}
		}
	case cmdSave:
		m.input.Reset()
		index, dir := c.index, c.dir
		return m, func() tea.Msg {
			path, err := convo.SaveAttachment(index, dir)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{status: fmt.Sprintf("Saved to %s", path)}
		}
	}

	if strings.TrimSpace(text) == "" {
		return m, nil
	}
	m.pendingClear = text
	m.status = ""
	peerID := m.selectedID
	return m, func() tea.Msg {
		_, err := convo.Send(ctx, peerID, text)
		return actionMsg{err: err}
	}
}

// scopeCmd numbers every scope change. Commands run concurrently, so the
// controller uses the number to ignore a selection that was superseded.
func (m *Model) scopeCmd(peerID string) tea.Cmd {
	m.scopeSeq++
	ctx, convo, self, seq := m.ctx, m.convo, m.sess.UserID(), m.scopeSeq
	if peerID == "" {
		self = ""
	}
	return func() tea.Msg {
		convo.SetScopeAt(ctx, seq, self, peerID)
		return nil
	}
}

func (m *Model) resize() {
	w := m.width - sidebarWidth - 3
	if w < 10 {
		w = 10
	}
	h := m.height - m.chromeHeight()
	if h < 3 {
		h = 3
	}
	m.viewport.Width, m.viewport.Height = w, h
	m.input.Width = w - 4
	m.refreshViewport()
}

// chromeHeight is the number of rows around the message pane.
func (m Model) chromeHeight() int {
	rows := 6
	if m.sess.TableMissing {
		rows += 3
	}
	return rows
}
