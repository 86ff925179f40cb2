package toolexec

import (
	"fmt"
	"slices"

	"github.com/contenox/analyst/agenttypes"
)

// Board is the set of cards on the user's canvas.
type Board struct {
	cards    []agenttypes.Card
	selected string
}

func NewBoard(cards ...agenttypes.Card) *Board {
	return &Board{cards: slices.Clone(cards)}
}

func (b *Board) State() agenttypes.UIState {
	return agenttypes.UIState{Cards: slices.Clone(b.cards), SelectedCardID: b.selected}
}

func (b *Board) Add(c agenttypes.Card) { b.cards = append(b.cards, c) }

func (b *Board) index(t agenttypes.DOMTarget) int {
	for i, c := range b.cards {
		if t.ByID != "" && c.ID == t.ByID {
			return i
		}
	}
	for i, c := range b.cards {
		if t.ByID == "" && t.ByTitle != "" && c.Title == t.ByTitle {
			return i
		}
	}
	return -1
}

// Apply runs one DOM tool against the board.
func (b *Board) Apply(call agenttypes.DOMToolCall) Result {
	i := b.index(call.Target)
	if i < 0 {
		return failure("target_not_found", fmt.Errorf("no card matches %+v", call.Target))
	}
	card := b.cards[i]
	switch call.Tool {
	case "removeCard":
		b.cards = slices.Delete(b.cards, i, i+1)
		if b.selected == card.ID {
			b.selected = ""
		}
		return success(map[string]any{"removedCardId": card.ID, "remainingCards": len(b.cards)})
	case "renameCard":
		title, _ := call.Args["title"].(string)
		if title == "" {
			return failure("missing_argument", fmt.Errorf("renameCard needs args.title"))
		}
		b.cards[i].Title = title
		return success(map[string]any{"cardId": card.ID, "title": title})
	case "selectCard", "highlightCard", "focusCard":
		b.selected = card.ID
		return success(map[string]any{"selectedCardId": card.ID})
	}
	return failure("unknown_tool", fmt.Errorf("unknown dom tool %q", call.Tool))
}
