package zsock

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/zhihanii/zlog"
)

var defaultNumLoops = runtime.GOMAXPROCS(0)/20 + 1

var defaultPollerManager *pollerManager

type pollerManager struct {
	mu       sync.Mutex
	numLoops int
	pollers  []Poller
	balancer loadBalancer
}

func (m *pollerManager) SetNumLoops(numLoops int) error {
	if numLoops < 1 {
		return fmt.Errorf("set invalid numLoops[%d]", numLoops)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if numLoops < m.numLoops {
		var pollers = make([]Poller, numLoops)
		for i := 0; i < m.numLoops; i++ {
			if i < numLoops {
				pollers[i] = m.pollers[i]
			} else if err := m.pollers[i].Close(); err != nil {
				zlog.Errorf("poller close failed: %v", err)
			}
		}
		m.numLoops = numLoops
		m.pollers = pollers
		m.balancer.Rebalance(m.pollers)
		return nil
	}

	m.numLoops = numLoops
	return m.buildPollers()
}

func (m *pollerManager) SetLoadBalancer(lb LoadBalance) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balancer != nil && m.balancer.LoadBalance() == lb {
		return nil
	}
	balancer, err := newLoadBalancer(lb, m.pollers)
	if err != nil {
		return err
	}
	m.balancer = balancer
	return nil
}

func (m *pollerManager) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pollers {
		p.Close()
	}
	m.pollers = nil
	return m.buildPollers()
}

func (m *pollerManager) Pick() Poller {
	return m.balancer.Pick()
}

func (m *pollerManager) buildPollers() error {
	for i := len(m.pollers); i < m.numLoops; i++ {
		var p = openPoller()
		m.pollers = append(m.pollers, p)
		go func() {
			if err := p.Poll(); err != nil {
				zlog.Errorf("poller exited: %v", err)
			}
		}()
	}
	m.balancer.Rebalance(m.pollers)
	return nil
}
