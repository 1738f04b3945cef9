package transport

// NetConfig controls the libp2p transport (behind the 'p2p' build tag).
type NetConfig struct {
	Enable    bool
	Listen    []string
	Bootnodes []string
	NAT       bool
}
