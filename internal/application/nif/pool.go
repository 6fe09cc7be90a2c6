package nif

import (
	"context"
	"sync"
)

// Pool reparte las peticiones concurrentes entre Clients: cada Client atiende
// una sola petición a la vez y conserva sus conexiones entre usos.
type Pool struct {
	clients sync.Pool
}

// NewPool construye el pool. newClient se llama cuando no hay ningún Client libre.
func NewPool(newClient func() *Client) *Pool {
	p := &Pool{}
	p.clients.New = func() any { return newClient() }
	return p
}

func (p *Pool) get() *Client  { return p.clients.Get().(*Client) }
func (p *Pool) put(c *Client) { p.clients.Put(c) }

// Validate ver Client.Validate.
func (p *Pool) Validate(ctx context.Context, id Identifier) (Verdict, error) {
	c := p.get()
	defer p.put(c)
	return c.Validate(ctx, id)
}

// ValidateMany ver Client.ValidateMany.
func (p *Pool) ValidateMany(ctx context.Context, ids []Identifier) ([]Verdict, error) {
	c := p.get()
	defer p.put(c)
	return c.ValidateMany(ctx, ids)
}

// Invalid ver Client.Invalid.
func (p *Pool) Invalid(ctx context.Context, id Identifier) (*Identifier, error) {
	c := p.get()
	defer p.put(c)
	return c.Invalid(ctx, id)
}

// InvalidMany ver Client.InvalidMany.
func (p *Pool) InvalidMany(ctx context.Context, ids []Identifier) ([]Verdict, error) {
	c := p.get()
	defer p.put(c)
	return c.InvalidMany(ctx, ids)
}
