package zsock

import (
	"fmt"
	"sync/atomic"
)

type LoadBalance int8

const (
	RoundRobin LoadBalance = iota
)

type loadBalancer interface {
	LoadBalance() LoadBalance
	Pick() Poller
	Rebalance(pollers []Poller)
}

func newLoadBalancer(lb LoadBalance, pollers []Poller) (loadBalancer, error) {
	switch lb {
	case RoundRobin:
		return newRoundRobinLoadBalancer(pollers), nil
	default:
		return nil, fmt.Errorf("not supported loadbalance: %d", lb)
	}
}

func newRoundRobinLoadBalancer(pollers []Poller) loadBalancer {
	b := &roundRobinLoadBalancer{}
	b.Rebalance(pollers)
	return b
}

type roundRobinLoadBalancer struct {
	pollers atomic.Pointer[[]Poller]
	cur     atomic.Uint32
}

func (b *roundRobinLoadBalancer) LoadBalance() LoadBalance {
	return RoundRobin
}

func (b *roundRobinLoadBalancer) Pick() (poller Poller) {
	pollers := *b.pollers.Load()
	if len(pollers) == 0 {
		return nil
	}
	idx := b.cur.Add(1) % uint32(len(pollers))
	return pollers[idx]
}

func (b *roundRobinLoadBalancer) Rebalance(pollers []Poller) {
	b.pollers.Store(&pollers)
}
