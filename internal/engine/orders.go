package engine

import (
	"fmt"

	"github.com/louisbranch/arbiter.games/internal/platform/errors"
)

// OrderCallback consumes the value a client returned for one order.
type OrderCallback func(g *Game, returned any) error

// Order is a pending request for a specific client to execute named
// client-side logic. Indices are assigned in creation order and never
// reused, even across queue drains.
type Order struct {
	Player   *Player
	Index    int
	Name     string
	Args     []any
	callback OrderCallback
}

type orderBook struct {
	next    int
	pending map[int]*Order
	queued  []*Order
}

// Order enqueues an order for a player. The callback, if any, runs when the
// client answers via finished; without one the rules' OrderFinished default
// handler is used.
func (g *Game) Order(p *Player, name string, args []any, callback OrderCallback) *Order {
	o := &Order{
		Player:   p,
		Index:    g.orders.next,
		Name:     name,
		Args:     args,
		callback: callback,
	}
	g.orders.next++
	g.orders.pending[o.Index] = o
	g.orders.queued = append(g.orders.queued, o)
	return o
}

// QueuedOrders drains the orders enqueued since the last drain. The worker
// sends each to its owning client after a delta broadcast.
func (g *Game) QueuedOrders() []*Order {
	queued := g.orders.queued
	g.orders.queued = nil
	return queued
}

// PendingOrders reports how many orders a player has outstanding.
func (g *Game) PendingOrders(p *Player) int {
	count := 0
	for _, o := range g.orders.pending {
		if o.Player == p {
			count++
		}
	}
	return count
}

// FinishOrder resolves a client's answer to the order at index: the order's
// own callback if present, else the rules' default handler.
func (g *Game) FinishOrder(index int, returned any) error {
	o, ok := g.orders.pending[index]
	if !ok {
		return errors.New(errors.CodeOrderUnknown,
			fmt.Sprintf("no pending order with index %d", index))
	}
	delete(g.orders.pending, index)

	if o.callback != nil {
		return o.callback(g, returned)
	}
	if handler, ok := g.rules.(OrderHandler); ok {
		return handler.OrderFinished(g, o.Player, o.Name, returned)
	}
	return errors.New(errors.CodeOrderNoHandler,
		fmt.Sprintf("order %q has no callback and rules define no default handler", o.Name))
}
