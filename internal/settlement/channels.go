package settlement

import "sync"

// ChannelPool hands out channel accounts round robin. Channels let a busy
// account submit again without waiting for its own sequence number.
type ChannelPool struct {
	mu       sync.Mutex
	channels []*Keypair
	next     int
}

func NewChannelPool(channels []*Keypair) *ChannelPool {
	return &ChannelPool{channels: channels}
}

func (p *ChannelPool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.channels)
}

// Next returns the next channel, or nil when the pool is empty.
func (p *ChannelPool) Next() *Keypair {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.channels) == 0 {
		return nil
	}
	kp := p.channels[p.next%len(p.channels)]
	p.next = (p.next + 1) % len(p.channels)
	return kp
}

func (p *ChannelPool) Addresses() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.channels))
	for i, kp := range p.channels {
		out[i] = kp.Address()
	}
	return out
}

func (p *ChannelPool) Add(kp *Keypair) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channels = append(p.channels, kp)
}
