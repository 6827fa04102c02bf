package sync

import "context"

// RunExchangeRound discovers peers via discovery and exchanges with each
// in turn, logging and continuing past any single peer's failure. It is
// meant to be registered as a periodic job with internal/scheduler (e.g.
// every 30s), not called directly from request handlers.
func (e *Engine) RunExchangeRound(ctx context.Context, discovery PeerDiscovery, tables []string) {
	peers, err := discovery.Peers(ctx)
	if err != nil {
		e.logger.Error("discover peers for sync round", "error", err)
		return
	}
	for _, peer := range peers {
		if err := e.ExchangeWithPeer(ctx, peer, tables); err != nil {
			e.logger.Warn("peer exchange failed", "peer_id", peer.PeerID, "error", err)
		}
	}
}
