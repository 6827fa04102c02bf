package sync

import "context"

// PeerDiscovery resolves the set of known peers to exchange with (spec
// §6.3). Discovery mechanics (mDNS, a rendezvous server, a static peer
// list) are out of scope; this package only consumes the result.
type PeerDiscovery interface {
	Peers(ctx context.Context) ([]Peer, error)
}

// StaticPeers is a fixed-list PeerDiscovery, useful for tests and small
// deployments where peers are configured rather than discovered.
type StaticPeers struct {
	peers []Peer
}

// NewStaticPeers builds a StaticPeers from a fixed list.
func NewStaticPeers(peers []Peer) *StaticPeers {
	return &StaticPeers{peers: peers}
}

func (s *StaticPeers) Peers(_ context.Context) ([]Peer, error) {
	return s.peers, nil
}
