package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/hay-kot/pgchat/internal/core/chat"
	"github.com/hay-kot/pgchat/internal/realtime/roomstate"
	"github.com/hay-kot/pgchat/internal/realtime/sendpipe"
	"github.com/hay-kot/pgchat/internal/realtime/transport"
)

// pane identifies which part of the screen has keyboard focus.
type pane int

const (
	paneRooms pane = iota
	paneMessages
	paneInput
)

// UIState represents the current modal state of the TUI.
type UIState int

const (
	stateNormal UIState = iota
	stateConfirming
	statePreviewing
	stateReacting
)

// Layout constants.
const (
	roomsPaneWidth = 32
	maxInputLength = 4000
)

// Options configures the TUI.
type Options struct {
	// Self identifies the local user so own messages render as "you".
	Self chat.Participant
	// Open is the room shown on startup. Zero opens the first listed room.
	Open chat.RoomID
	// Reactions overrides the emoji offered by the reaction picker.
	Reactions []string
}

// Model is the main Bubble Tea model for the chat TUI.
type Model struct {
	client    Client
	updates   *updates
	self      chat.Participant
	keys      keyMap
	reactions []string

	rooms    list.Model
	delegate RoomDelegate
	msgView  *MessagesView
	input    textinput.Model
	spinner  spinner.Model
	help     help.Model

	focus   pane
	state   UIState
	current chat.RoomID
	typing  []chat.Typist
	conn    transport.StateChange
	err     error

	modal          Modal
	pendingDiscard chat.Message
	reactTarget    chat.MessageID
	preview        MessagePreviewModal

	width    int
	height   int
	quitting bool
}

// New creates a chat model bound to client. Client updates start flowing once
// the program runs Init. Call Close when the program exits.
func New(client Client, opts Options) Model {
	// Subscribe before reading rooms so no publication falls in between.
	u := subscribe(client)
	delegate := RoomDelegate{}

	l := list.New(roomItems(client.Rooms()), delegate, 0, 0)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(true)
	l.SetShowTitle(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()
	l.Styles.TitleBar = lipgloss.NewStyle()
	l.FilterInput.Prompt = "Filter: "
	l.FilterInput.PromptStyle = selectedStyle

	ti := textinput.New()
	ti.Placeholder = "Type a message, /image URL, /file URL, /voice URL SECONDS"
	ti.Prompt = "› "
	ti.PromptStyle = selectedStyle
	ti.CharLimit = maxInputLength

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	h := help.New()
	h.Styles.ShortKey = helpStyle
	h.Styles.ShortDesc = helpStyle
	h.Styles.ShortSeparator = helpStyle
	h.ShortSeparator = " • "

	reactions := opts.Reactions
	if len(reactions) == 0 {
		reactions = defaultReactions
	}

	m := Model{
		client:    client,
		updates:   u,
		self:      opts.Self,
		keys:      defaultKeyMap(),
		reactions: reactions,
		rooms:     l,
		delegate:  delegate,
		msgView:   NewMessagesView(opts.Self),
		input:     ti,
		spinner:   s,
		help:      h,
		focus:     paneRooms,
		conn:      client.State(),
	}

	open := opts.Open
	if open == 0 {
		if item, ok := m.rooms.SelectedItem().(RoomItem); ok {
			open = item.Room.ID
		}
	}
	if open != 0 {
		m.openRoom(open)
		m.focusInput()
	}

	return m
}

// Close stops forwarding client updates.
func (m Model) Close() {
	m.updates.close()
}

// Current returns the room shown in the message pane.
func (m Model) Current() chat.RoomID {
	return m.current
}

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.updates.wait(), m.spinner.Tick, textinput.Blink)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case roomUpdatedMsg:
		cmd := m.applySnapshot(msg.snap)
		return m, tea.Batch(cmd, m.updates.wait())

	case connStateMsg:
		m.conn = msg.change
		if msg.change.State == transport.StateConnected {
			m.err = nil
		}
		return m, m.updates.wait()

	case clientErrMsg:
		m.err = msg.err
		return m, m.updates.wait()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		return m.handleKey(msg)
	}

	var cmd tea.Cmd
	switch m.focus {
	case paneInput:
		m.input, cmd = m.input.Update(msg)
	case paneRooms:
		m.rooms, cmd = m.rooms.Update(msg)
	}
	return m, cmd
}

// layout sizes every component from the window dimensions.
// Rows: header (1), panes (rest), typing (1), input (1), help (1).
func (m *Model) layout() {
	bodyHeight := max(m.height-4, 3)
	innerHeight := bodyHeight - 2 // pane borders

	m.rooms.SetSize(roomsPaneWidth-2, innerHeight-1)
	m.msgView.SetSize(max(m.width-roomsPaneWidth-2, 10), innerHeight-1)
	m.input.Width = max(m.width-4, 10)
	m.help.Width = m.width
}

// applySnapshot refreshes the room list and, for the open room, the timeline.
func (m *Model) applySnapshot(snap roomstate.Snapshot) tea.Cmd {
	var cmd tea.Cmd
	if !m.rooms.SettingFilter() {
		cmd = m.rooms.SetItems(roomItems(m.client.Rooms()))
	}

	switch {
	case snap.Room.ID == m.current:
		m.msgView.SetMessages(snap.Messages)
		m.typing = otherTypists(snap.Typing, m.self)
	case m.current == 0:
		m.openRoom(snap.Room.ID)
	}
	return cmd
}

// openRoom shows a room in the message pane and focuses it on the client,
// which marks it read.
func (m *Model) openRoom(id chat.RoomID) {
	if id != m.current {
		m.msgView.Reset()
		m.typing = nil
	}
	m.current = id
	m.delegate.Current = id
	m.rooms.SetDelegate(m.delegate)

	if snap, ok := m.client.Snapshot(id); ok {
		m.msgView.SetMessages(snap.Messages)
		m.typing = otherTypists(snap.Typing, m.self)
	}
	if err := m.client.Focus(id); err != nil {
		m.err = err
	}
}

func (m *Model) focusInput() tea.Cmd {
	m.focus = paneInput
	return m.input.Focus()
}

func (m *Model) setFocus(p pane) tea.Cmd {
	if p == paneInput {
		return m.focusInput()
	}
	m.focus = p
	m.input.Blur()
	return nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.Quit) {
		m.quitting = true
		return m, tea.Quit
	}

	switch m.state {
	case stateConfirming:
		return m.handleConfirmKey(msg)
	case statePreviewing:
		return m.handlePreviewKey(msg)
	case stateReacting:
		return m.handleReactKey(msg)
	}

	switch m.focus {
	case paneRooms:
		return m.handleRoomsKey(msg)
	case paneMessages:
		return m.handleMessagesKey(msg)
	default:
		return m.handleInputKey(msg)
	}
}

func (m Model) handleRoomsKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The list owns every key while its filter is being typed.
	if m.rooms.SettingFilter() {
		var cmd tea.Cmd
		m.rooms, cmd = m.rooms.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.QuitPlain):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.OpenRoom):
		item, ok := m.rooms.SelectedItem().(RoomItem)
		if !ok {
			return m, nil
		}
		m.openRoom(item.Room.ID)
		return m, m.focusInput()
	case key.Matches(msg, m.keys.NextPane):
		return m, m.setFocus(paneMessages)
	}

	var cmd tea.Cmd
	m.rooms, cmd = m.rooms.Update(msg)
	return m, cmd
}

func (m Model) handleMessagesKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.msgView.IsFiltering() {
		switch msg.Type {
		case tea.KeyEsc:
			m.msgView.CancelFilter()
		case tea.KeyEnter:
			m.msgView.ConfirmFilter()
		case tea.KeyBackspace:
			m.msgView.DeleteFilterRune()
		case tea.KeyRunes, tea.KeySpace:
			for _, r := range msg.Runes {
				m.msgView.AddFilterRune(r)
			}
		}
		return m, nil
	}

	selected := m.msgView.SelectedMessage()

	switch {
	case key.Matches(msg, m.keys.QuitPlain):
		m.quitting = true
		return m, tea.Quit
	case key.Matches(msg, m.keys.Back):
		return m, m.setFocus(paneRooms)
	case key.Matches(msg, m.keys.NextPane), key.Matches(msg, m.keys.Compose):
		return m, m.setFocus(paneInput)
	case key.Matches(msg, m.keys.Up):
		m.msgView.MoveUp()
	case key.Matches(msg, m.keys.Down):
		m.msgView.MoveDown()
	case key.Matches(msg, m.keys.Top):
		m.msgView.MoveTop()
	case key.Matches(msg, m.keys.Bottom):
		m.msgView.MoveBottom()
	case key.Matches(msg, m.keys.Filter):
		m.msgView.StartFilter()
	case key.Matches(msg, m.keys.MarkRead):
		if m.current != 0 {
			m.report(m.client.MarkRead(m.current))
		}
	case key.Matches(msg, m.keys.Preview):
		if selected != nil {
			m.preview = NewMessagePreviewModal(*selected, m.msgView.senderLabel(selected), m.screenWidth(), m.screenHeight())
			m.state = statePreviewing
		}
	case key.Matches(msg, m.keys.Resend):
		if selected != nil && selected.State == chat.StateFailed {
			m.report(m.client.Resend(selected.RoomID, selected.CorrelationID))
		}
	case key.Matches(msg, m.keys.Discard):
		if selected != nil && selected.State == chat.StateFailed {
			m.pendingDiscard = *selected
			m.modal = NewModal("Discard message", fmt.Sprintf("Discard %q? It was never delivered.", truncate(messageBody(selected), 40)))
			m.state = stateConfirming
		}
	case key.Matches(msg, m.keys.React):
		if selected != nil && selected.ID != 0 {
			m.reactTarget = selected.ID
			m.state = stateReacting
		}
	}
	return m, nil
}

func (m Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Back):
		return m, m.setFocus(paneMessages)
	case key.Matches(msg, m.keys.NextPane):
		return m, m.setFocus(paneRooms)
	case key.Matches(msg, m.keys.Send):
		m.send()
		return m, nil
	}

	before := m.input.Value()
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.current != 0 && m.input.Value() != before && m.input.Value() != "" {
		m.report(m.client.NotifyTyping(m.current))
	}
	return m, cmd
}

// send submits the composer text to the open room.
func (m *Model) send() {
	if m.current == 0 {
		m.err = errors.New("open a room first")
		return
	}
	text := m.input.Value()
	if strings.TrimSpace(text) == "" {
		return
	}

	req, err := parseInput(m.current, text)
	if err != nil {
		m.err = err
		return
	}
	if _, err := m.client.Send(req); err != nil {
		m.err = err
		return
	}

	m.err = nil
	m.input.Reset()
	m.msgView.MoveBottom()
}

func (m Model) handleConfirmKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "left", "right", "h", "l", "tab":
		m.modal.ToggleSelection()
	case "enter":
		if m.modal.ConfirmSelected() {
			m.report(m.client.Discard(m.pendingDiscard.RoomID, m.pendingDiscard.CorrelationID))
		}
		m.state = stateNormal
		m.pendingDiscard = chat.Message{}
	case "esc":
		m.state = stateNormal
		m.pendingDiscard = chat.Message{}
	}
	return m, nil
}

func (m Model) handlePreviewKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "up", "k":
		m.preview.ScrollUp()
	case "down", "j":
		m.preview.ScrollDown()
	case "enter", "esc", "q":
		m.state = stateNormal
	}
	return m, nil
}

func (m Model) handleReactKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "esc" {
		m.state = stateNormal
		return m, nil
	}

	n, err := strconv.Atoi(msg.String())
	if err != nil || n < 1 || n > len(m.reactions) {
		return m, nil
	}
	m.report(m.client.React(m.reactTarget, m.reactions[n-1]))
	m.state = stateNormal
	m.reactTarget = 0
	return m, nil
}

// report surfaces a synchronous client error in the status line.
func (m *Model) report(err error) {
	if err != nil {
		m.err = err
	}
}

func (m Model) screenWidth() int {
	if m.width == 0 {
		return 80
	}
	return m.width
}

func (m Model) screenHeight() int {
	if m.height == 0 {
		return 24
	}
	return m.height
}

// parseInput turns composer text into a send request. Plain text is a TEXT
// message; media messages use a slash command:
//
//	/image URL [caption]
//	/file URL [caption]
//	/voice URL SECONDS
//
// A leading "//" sends a literal slash.
func parseInput(roomID chat.RoomID, text string) (sendpipe.Request, error) {
	req := sendpipe.Request{RoomID: roomID, Type: chat.TypeText, Content: text}

	trimmed := strings.TrimSpace(text)
	if strings.HasPrefix(trimmed, "//") {
		req.Content = trimmed[1:]
		return req, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return req, nil
	}

	fields := strings.Fields(trimmed)
	cmd, args := strings.TrimPrefix(fields[0], "/"), fields[1:]

	typ, err := chat.ParseMessageType(cmd)
	if err != nil || typ == chat.TypeText {
		return sendpipe.Request{}, fmt.Errorf("unknown command /%s", cmd)
	}
	if len(args) == 0 {
		return sendpipe.Request{}, fmt.Errorf("/%s needs a media URL", cmd)
	}

	req.Type = typ
	req.MediaURL = args[0]
	req.Content = ""

	if typ == chat.TypeVoice {
		if len(args) < 2 {
			return sendpipe.Request{}, errors.New("/voice needs a duration in seconds")
		}
		secs, err := strconv.Atoi(args[1])
		if err != nil || secs < 0 {
			return sendpipe.Request{}, fmt.Errorf("invalid duration %q", args[1])
		}
		req.Duration = secs
		args = args[2:]
	} else {
		args = args[1:]
	}
	req.Content = strings.Join(args, " ")

	return req, nil
}

// otherTypists drops the local user from a typing list.
func otherTypists(typists []chat.Typist, self chat.Participant) []chat.Typist {
	out := make([]chat.Typist, 0, len(typists))
	for _, t := range typists {
		if t.User != self {
			out = append(out, t)
		}
	}
	return out
}
