package zsock

func init() {
	defaultPollerManager = new(pollerManager)
	defaultPollerManager.SetLoadBalancer(RoundRobin)
	defaultPollerManager.SetNumLoops(defaultNumLoops)
}

// Init sets the number of poller goroutines.
func Init(numLoops int) error {
	return defaultPollerManager.SetNumLoops(numLoops)
}
