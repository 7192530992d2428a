// Package cart holds the in-memory cart of a single session.
//
// A Cart keeps at most one line per product id and never holds a line with a
// quantity below one. It is not safe for concurrent use: callers serialize
// access (see service.CartService).
package cart

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

// Observer receives the cart lines after every state transition.
// It runs synchronously. It may unsubscribe itself but must not otherwise call
// back into the Cart.
type Observer func(items []domain.CartItem)

type subscription struct {
	id int
	fn Observer
}

type Cart struct {
	items     []domain.CartItem
	observers []subscription
	nextSubID int
}

func New() *Cart {
	return &Cart{}
}

// Add appends the product with quantity 1. It returns false, and leaves the
// cart untouched, when a line for the product already exists.
func (c *Cart) Add(product domain.Product) bool {
	if c.indexOf(product.ID) >= 0 {
		return false
	}
	c.items = append(c.items, domain.CartItem{Product: product, Quantity: 1})
	c.notify()
	return true
}

func (c *Cart) Increase(productID int64) {
	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	c.items[i].Quantity++
	c.notify()
}

// Decrease drops the quantity by one. A line at quantity 1 is removed.
func (c *Cart) Decrease(productID int64) {
	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	if c.items[i].Quantity > 1 {
		c.items[i].Quantity--
	} else {
		c.items = append(c.items[:i], c.items[i+1:]...)
	}
	c.notify()
}

func (c *Cart) Remove(productID int64) {
	i := c.indexOf(productID)
	if i < 0 {
		return
	}
	c.items = append(c.items[:i], c.items[i+1:]...)
	c.notify()
}

func (c *Cart) Clear() {
	if len(c.items) == 0 {
		return
	}
	c.items = nil
	c.notify()
}

func (c *Cart) Contains(productID int64) bool {
	return c.indexOf(productID) >= 0
}

// Total is the sum of price * quantity over all lines, zero for an empty cart.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range c.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Items returns a copy of the lines in insertion order.
func (c *Cart) Items() []domain.CartItem {
	out := make([]domain.CartItem, len(c.items))
	copy(out, c.items)
	return out
}

func (c *Cart) Len() int {
	return len(c.items)
}

// Subscribe registers fn for every subsequent state transition and returns a
// function that removes it again.
func (c *Cart) Subscribe(fn Observer) func() {
	c.nextSubID++
	id := c.nextSubID
	c.observers = append(c.observers, subscription{id: id, fn: fn})

	return func() {
		for i, s := range c.observers {
			if s.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
}

func (c *Cart) indexOf(productID int64) int {
	for i, item := range c.items {
		if item.Product.ID == productID {
			return i
		}
	}
	return -1
}

func (c *Cart) notify() {
	if len(c.observers) == 0 {
		return
	}
	// unsubscribe edits c.observers in place
	observers := append([]subscription(nil), c.observers...)
	for _, s := range observers {
		s.fn(c.Items())
	}
}
