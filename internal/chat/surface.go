package chat

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"

	scroll "github.com/adamavenir/inbox/internal/viewport"
)

// rowUnits is the content-unit height of one terminal row.
const rowUnits = 20

type span struct {
	localID string
	start   int
	end     int
}

// threadSurface adapts the bubbles viewport to the scroll controller. Offsets
// are tracked per rendered message so the controller can pin the first
// visible one.
type threadSurface struct {
	vp    viewport.Model
	spans []span
	index map[string]int
	lines int
}

var _ scroll.AnchoredSurface = (*threadSurface)(nil)

func newThreadSurface() *threadSurface {
	return &threadSurface{vp: viewport.New(0, 0), index: map[string]int{}}
}

// setBlocks replaces the content with one rendered block per message,
// separated by a blank line. The scroll offset is left for the controller.
func (s *threadSurface) setBlocks(ids []string, blocks []string) {
	s.spans = s.spans[:0]
	s.index = make(map[string]int, len(ids))
	line := 0
	for i, block := range blocks {
		if i > 0 {
			line++
		}
		height := lipgloss.Height(block)
		s.index[ids[i]] = len(s.spans)
		s.spans = append(s.spans, span{localID: ids[i], start: line, end: line + height})
		line += height
	}
	s.lines = line
	top := s.vp.YOffset
	s.vp.SetContent(strings.Join(blocks, "\n\n"))
	s.vp.SetYOffset(top)
}

func (s *threadSurface) resize(width, height int) {
	s.vp.Width = width
	s.vp.Height = height
}

func (s *threadSurface) ScrollMetrics() scroll.Metrics {
	return scroll.Metrics{
		ScrollHeight: s.lines * rowUnits,
		ScrollTop:    s.vp.YOffset * rowUnits,
		ClientHeight: s.vp.Height * rowUnits,
	}
}

func (s *threadSurface) SetScrollTop(top int) {
	s.vp.SetYOffset(top / rowUnits)
}

func (s *threadSurface) FirstVisible() (string, bool) {
	top := s.vp.YOffset
	for _, sp := range s.spans {
		if sp.end > top {
			return sp.localID, true
		}
	}
	return "", false
}

func (s *threadSurface) OffsetOf(localID string) (int, bool) {
	idx, ok := s.index[localID]
	if !ok {
		return 0, false
	}
	return s.spans[idx].start * rowUnits, true
}

func (s *threadSurface) atTop() bool {
	return s.vp.YOffset == 0
}

func (s *threadSurface) scrollBy(rows int) {
	s.vp.SetYOffset(s.vp.YOffset + rows)
}
