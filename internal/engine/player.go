package engine

import (
	"time"

	"github.com/louisbranch/arbiter.games/internal/delta"
)

// Player is the framework-owned object representing one match participant.
// Game rules attach their own per-player state in separate objects keyed by
// the player's id.
type Player struct {
	ObjectBase
	Index int

	Name          *delta.Value[string]
	ClientType    *delta.Value[string]
	Won           *delta.Value[bool]
	Lost          *delta.Value[bool]
	ReasonWon     *delta.Value[string]
	ReasonLost    *delta.Value[string]
	TimeRemaining *delta.Value[int64]
}

func newPlayer(g *Game, index int, name, clientType string, timeRemaining time.Duration) *Player {
	p := &Player{
		ObjectBase: NewObjectBase(g, "Player"),
		Index:      index,
	}
	root := g.root
	p.Name = delta.NewValue(root, p.Path().Child("name"), name)
	p.ClientType = delta.NewValue(root, p.Path().Child("clientType"), clientType)
	p.Won = delta.NewValue(root, p.Path().Child("won"), false)
	p.Lost = delta.NewValue(root, p.Path().Child("lost"), false)
	p.ReasonWon = delta.NewValue(root, p.Path().Child("reasonWon"), "")
	p.ReasonLost = delta.NewValue(root, p.Path().Child("reasonLost"), "")
	p.TimeRemaining = delta.NewValue(root, p.Path().Child("timeRemaining"), timeRemaining.Nanoseconds())
	return p
}

// Decided reports whether the player has already won or lost.
func (p *Player) Decided() bool {
	return p.Won.Get() || p.Lost.Get()
}
