// Package channel holds the delivery adapters for outbound automation
// messages. Each adapter wraps one provider API behind a common Send
// contract; the registry resolves adapters by channel name.
package channel

import (
	"context"
	"fmt"
)

// Message is one outbound message, already rendered for its channel.
type Message struct {
	Recipient string            // phone number, platform user ID or email address
	Subject   string            // email only
	Text      string
	Metadata  map[string]string
}

// Adapter delivers messages on one channel. Send returns the provider's
// delivery identifier.
type Adapter interface {
	Name() string
	Send(ctx context.Context, msg Message) (string, error)
}

// Registry resolves adapters by channel name. It is populated once at
// startup and read-only afterwards.
type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[string]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Name()] = a
	}
	return r
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("no adapter registered for channel %q", name)
	}
	return a, nil
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	return names
}
