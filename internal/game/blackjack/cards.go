package blackjack

import "github.com/attaboy/casino-ledger/internal/game"

// Suit is a card suit. It carries no value in blackjack.
type Suit int

// Rank is a card rank, Two through Ace.
type Rank int

const (
	Spades Suit = iota
	Hearts
	Diamonds
	Clubs
)

const (
	Two   Rank = 2
	Three Rank = 3
	Four  Rank = 4
	Five  Rank = 5
	Six   Rank = 6
	Seven Rank = 7
	Eight Rank = 8
	Nine  Rank = 9
	Ten   Rank = 10
	Jack  Rank = 11
	Queen Rank = 12
	King  Rank = 13
	Ace   Rank = 14
)

// Card is one playing card.
type Card struct {
	Rank Rank `json:"rank"`
	Suit Suit `json:"suit"`
}

var (
	rankNames = map[Rank]string{
		Two: "2", Three: "3", Four: "4", Five: "5", Six: "6", Seven: "7", Eight: "8", Nine: "9", Ten: "T", Jack: "J", Queen: "Q", King: "K", Ace: "A",
	}
	suitNames = map[Suit]string{Spades: "s", Hearts: "h", Diamonds: "d", Clubs: "c"}
)

// String renders the card as rank then suit, like "Ts" or "Ah".
func (c Card) String() string {
	return rankNames[c.Rank] + suitNames[c.Suit]
}

// Points is the card's blackjack value with aces counted high.
func (c Card) Points() int {
	switch {
	case c.Rank == Ace:
		return 11
	case c.Rank >= Ten:
		return 10
	}
	return int(c.Rank)
}

// NewDeck returns an ordered 52-card deck.
func NewDeck() []Card {
	cards := make([]Card, 0, 52)
	for s := Spades; s <= Clubs; s++ {
		for r := Two; r <= Ace; r++ {
			cards = append(cards, Card{Rank: r, Suit: s})
		}
	}
	return cards
}

// Shuffled returns a freshly shuffled deck.
func Shuffled(rng game.Rand) []Card {
	cards := NewDeck()
	for i := len(cards) - 1; i > 0; i-- {
		j := rng.IntN(i + 1)
		cards[i], cards[j] = cards[j], cards[i]
	}
	return cards
}

// Value returns the best total of cards: aces count 11 and drop to 1 while
// the total is over 21. soft reports whether an ace still counts 11.
func Value(cards []Card) (total int, soft bool) {
	aces := 0
	for _, c := range cards {
		total += c.Points()
		if c.Rank == Ace {
			aces++
		}
	}
	for total > 21 && aces > 0 {
		total -= 10
		aces--
	}
	return total, aces > 0
}

// IsNatural reports a two-card 21.
func IsNatural(cards []Card) bool {
	total, _ := Value(cards)
	return len(cards) == 2 && total == 21
}
