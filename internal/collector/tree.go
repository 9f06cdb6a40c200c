package collector

import (
	"hintnav-mcp-server/internal/agent"
	"hintnav-mcp-server/internal/dom"
	"hintnav-mcp-server/internal/messaging"
)

// Tree is a bus with an agent in every frame and a collector on the root frame.
type Tree struct {
	Bus       *messaging.Bus
	Collector *Collector
}

// NewTree attaches root as the root frame. Child frames get their agent when a
// request is first posted into them.
func NewTree(root dom.Document, background *messaging.Router, agentOpts agent.Options, opts Options) (*Tree, error) {
	var col *Collector
	attach := func(p *messaging.Port) (*messaging.Router, error) {
		r, err := agent.New(p, agentOpts).Router()
		if err != nil {
			return nil, err
		}
		if p.ID() != messaging.RootFrame {
			return r, nil
		}
		cr, err := col.Router()
		if err != nil {
			return nil, err
		}
		return r.Merge(cr)
	}
	bus, err := messaging.NewBus(background, attach, opts.Logger)
	if err != nil {
		return nil, err
	}
	col = New(bus, root, opts)
	if _, err := bus.Attach(root); err != nil {
		bus.Close()
		return nil, err
	}
	return &Tree{Bus: bus, Collector: col}, nil
}

// Close stops every frame of the tree.
func (t *Tree) Close() { t.Bus.Close() }
