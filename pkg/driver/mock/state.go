package mock

// Kill simulates the application process exiting. The provider stays
// configured but every query now reports the process as gone.
func (p *Provider) Kill() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.focused = nil
}

// Fail makes every call of the given kind return err until cleared with a
// nil err. Kinds: query, read, attach, launch, terminate, and the event
// kinds recorded in Event.Kind.
func (p *Provider) Fail(kind string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err == nil {
		delete(p.failures, kind)
		return
	}
	p.failures[kind] = err
}

// Update runs f with exclusive access to the tree.
func (p *Provider) Update(f func(cfg *Config)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	f(&p.cfg)
}

// AddWindow appends a top-level window.
func (p *Provider) AddWindow(w *Node) {
	p.Update(func(cfg *Config) { cfg.Windows = append(cfg.Windows, w) })
}

// Remove deletes every node with the given id from the tree.
func (p *Provider) Remove(id string) {
	p.Update(func(cfg *Config) { cfg.Windows = prune(cfg.Windows, id) })
}

func prune(nodes []*Node, id string) []*Node {
	out := nodes[:0]
	for _, n := range nodes {
		if n.ID == id {
			continue
		}
		n.Children = prune(n.Children, id)
		out = append(out, n)
	}
	return out
}

// Find returns the first node with the given id.
func (p *Provider) Find(id string) *Node {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range p.walk() {
		if v.node.ID == id {
			return v.node
		}
	}
	return nil
}

// Events returns a copy of the recorded input events.
func (p *Provider) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Queries returns how many locator queries were made.
func (p *Provider) Queries() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.queries
}

// Launches returns how many times the application was launched.
func (p *Provider) Launches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.launches
}

// Attaches returns how many attach attempts were made.
func (p *Provider) Attaches() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.attaches
}

// LastLaunchArgs returns the arguments of the most recent launch.
func (p *Provider) LastLaunchArgs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.lastArgs...)
}
