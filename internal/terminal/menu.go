package terminal

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"parkslot/internal/models"
)

const itemsPerPage = 8

// ErrBack is returned by Choose when the user asks to go back.
var ErrBack = errors.New("back")

// Menu is a paged list of labelled options.
type Menu struct {
	Title string
	Items []string
	Back  bool
}

func (m Menu) pages() int {
	if len(m.Items) == 0 {
		return 1
	}
	return (len(m.Items) + itemsPerPage - 1) / itemsPerPage
}

// Render writes one page of the menu with its navigation hints.
func (m Menu) Render(w io.Writer, page int) {
	start := page * itemsPerPage
	end := start + itemsPerPage
	if end > len(m.Items) {
		end = len(m.Items)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "\n%s\n", m.Title)
	if m.pages() > 1 {
		fmt.Fprintf(&b, "page %d of %d\n", page+1, m.pages())
	}
	if len(m.Items) == 0 {
		b.WriteString("  (nothing to choose)\n")
	}
	for i := start; i < end; i++ {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, m.Items[i])
	}

	var nav []string
	if page > 0 {
		nav = append(nav, "p: previous page")
	}
	if end < len(m.Items) {
		nav = append(nav, "n: next page")
	}
	if m.Back {
		nav = append(nav, "b: back")
	}
	nav = append(nav, "q: quit")
	fmt.Fprintf(&b, "  [%s]\n", strings.Join(nav, ", "))

	_, _ = io.WriteString(w, b.String())
}

// Choose shows the menu until an item is picked and returns its zero-based index.
func (p *Prompter) Choose(m Menu) (int, error) {
	page := 0
	for {
		m.Render(p.out, page)
		answer, err := p.Ask("choice")
		if err != nil {
			return 0, err
		}
		switch strings.ToLower(answer) {
		case "n":
			if page+1 < m.pages() {
				page++
			}
			continue
		case "p":
			if page > 0 {
				page--
			}
			continue
		case "b":
			if m.Back {
				return 0, ErrBack
			}
		}
		if n, err := strconv.Atoi(answer); err == nil && n >= 1 && n <= len(m.Items) {
			return n - 1, nil
		}
		p.Printf("unknown choice %q\n", answer)
	}
}

// RenderGrid draws one floor as rows of slot cells: "[  3]" is free, "[x 3]" is taken.
func RenderGrid(w io.Writer, floor int, slots []models.Slot, perRow int) {
	if perRow <= 0 {
		perRow = 10
	}
	var b strings.Builder
	free := 0
	fmt.Fprintf(&b, "floor %d\n", floor)
	for i, s := range slots {
		mark := " "
		if !s.IsAvailable {
			mark = "x"
		} else {
			free++
		}
		fmt.Fprintf(&b, "[%s%2d]", mark, s.SlotNo)
		if (i+1)%perRow == 0 || i == len(slots)-1 {
			b.WriteString("\n")
		} else {
			b.WriteString(" ")
		}
	}
	fmt.Fprintf(&b, "%d of %d free\n", free, len(slots))
	_, _ = io.WriteString(w, b.String())
}
