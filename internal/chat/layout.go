package chat

const (
	inputHeight  = 3
	listMaxWidth = 32
	headerHeight = 1
	statusHeight = 1
)

func (m *Model) listWidth() int {
	if m.width == 0 {
		return 0
	}
	width := m.width / 3
	if width > listMaxWidth {
		width = listMaxWidth
	}
	if width < 12 {
		width = 12
	}
	return width
}

func (m *Model) mainWidth() int {
	width := m.width - m.listWidth() - 1
	if width < 1 {
		width = 1
	}
	return width
}

func (m *Model) threadHeight() int {
	height := m.height - inputHeight - headerHeight - statusHeight - 1
	if height < 1 {
		height = 1
	}
	return height
}

// resize lays the panes out again. Wrapping changes with the width, so the
// thread is re-rendered around the message the reader was looking at.
func (m *Model) resize() {
	anchor := m.scroller.Capture()
	m.surface.resize(m.mainWidth(), m.threadHeight())
	m.input.SetWidth(m.mainWidth())
	m.renderThread()
	m.scroller.Reflow(anchor)
}
