package chat

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/textarea"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"

	"github.com/adamavenir/inbox/internal/types"
	scroll "github.com/adamavenir/inbox/internal/viewport"
)

type focusArea int

const (
	focusInput focusArea = iota
	focusList
)

// Model implements the operator console.
type Model struct {
	ctx      context.Context
	backend  Backend
	mailbox  *Mailbox
	log      zerolog.Logger
	operator string
	onOpen   func(string)
	now      func() time.Time

	width  int
	height int
	focus  focusArea
	status string

	conversations []types.Conversation
	listIndex     int
	filter        *Filter
	filterText    string
	filterActive  bool
	matches       []int

	activeID     string
	pendingOpen  string
	messages     []types.Message
	surface      *threadSurface
	scroller     *scroll.Controller
	unseen       int
	loadingOlder bool

	input textarea.Model
}

// NewModel creates a console model. Nothing is fetched until Init.
func NewModel(ctx context.Context, opts Options) *Model {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Operator == "" {
		opts.Operator = "you"
	}
	surface := newThreadSurface()
	return &Model{
		ctx:         ctx,
		backend:     opts.Backend,
		mailbox:     opts.Mailbox,
		log:         opts.Logger.With().Str("component", "console").Logger(),
		operator:    opts.Operator,
		onOpen:      opts.OnOpen,
		now:         opts.Now,
		pendingOpen: opts.OpenID,
		surface:     surface,
		scroller:    scroll.New(surface, opts.BottomThreshold),
		input:       newInputModel(),
	}
}

func newInputModel() textarea.Model {
	input := textarea.New()
	input.Placeholder = "Reply..."
	input.Prompt = "┃ "
	input.ShowLineNumbers = false
	input.CharLimit = 4096
	input.SetHeight(inputHeight)
	input.FocusedStyle.CursorLine = lipgloss.NewStyle()
	input.Focus()
	return input
}

func (m *Model) Init() tea.Cmd {
	if m.pendingOpen != "" {
		m.openConversation(m.pendingOpen)
		m.pendingOpen = ""
	}
	return tea.Batch(m.mailbox.Wait(m.ctx), textarea.Blink)
}

func (m *Model) openConversation(id string) {
	if id == "" || id == m.activeID {
		return
	}
	m.activeID = id
	m.messages = nil
	m.unseen = 0
	m.loadingOlder = false
	m.surface.setBlocks(nil, nil)
	m.backend.Open(id)
	if m.onOpen != nil {
		m.onOpen(id)
	}
	m.log.Debug().Str("conversation", id).Msg("Opened conversation")
}

func (m *Model) activeConversation() (types.Conversation, bool) {
	for _, conv := range m.conversations {
		if conv.ID == m.activeID {
			return conv, true
		}
	}
	return types.Conversation{}, false
}

// visibleConversations returns the list after filtering.
func (m *Model) visibleConversations() []types.Conversation {
	if !m.filterActive || m.filter == nil {
		return m.conversations
	}
	out := make([]types.Conversation, 0, len(m.matches))
	for _, idx := range m.matches {
		out = append(out, m.conversations[idx])
	}
	return out
}

// lastMessage returns the newest message matching keep.
func (m *Model) lastMessage(keep func(types.Message) bool) (types.Message, bool) {
	for i := len(m.messages) - 1; i >= 0; i-- {
		if keep(m.messages[i]) {
			return m.messages[i], true
		}
	}
	return types.Message{}, false
}
