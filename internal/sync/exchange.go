package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// httpDoer is the narrow interface exchange needs from an HTTP client,
// letting tests substitute a fake transport without standing up a real
// listener.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type defaultHTTPDoer struct{}

func (defaultHTTPDoer) Do(req *http.Request) (*http.Response, error) {
	return http.DefaultClient.Do(req)
}

// exchangeBudget is the total wall-clock time a single peer exchange (all
// retries included) is allowed to take before giving up (spec §4.3).
const exchangeBudget = 30 * time.Second

// ExchangeWithPeer drives one round of the sync state machine
// (idle -> syncing -> idle|error) against peer: it posts this engine's
// outstanding operations (optionally restricted to tables) to the peer's
// mesh-sync endpoint, applies whatever the peer sends back, and updates
// peer_sync_state. Transient failures are retried with exponential backoff
// within exchangeBudget; exhausting the budget leaves the peer in the
// error state with LastError set.
func (e *Engine) ExchangeWithPeer(ctx context.Context, peer Peer, tables []string) error {
	st, err := e.store.getPeerSyncState(ctx, peer.PeerID)
	if err != nil {
		return err
	}
	if st.Status == StatusSyncing {
		return ErrExchangeInProgress
	}
	st.Status = StatusSyncing
	if err := e.store.savePeerSyncState(ctx, st); err != nil {
		return err
	}

	toSend, err := e.store.operationsToSend(ctx, e.localPeer, st.LastSync, tables)
	if err != nil {
		return e.failExchange(ctx, st, err)
	}

	req := exchangeRequest{SenderPeerID: e.localPeer, Tables: tables}
	for _, op := range toSend {
		req.Operations = append(req.Operations, toWire(op))
	}

	resp, err := e.postWithRetry(ctx, peer, req)
	if err != nil {
		return e.failExchange(ctx, st, err)
	}

	received := make([]SyncOperation, 0, len(resp.Operations))
	for _, w := range resp.Operations {
		op, err := fromWire(w)
		if err != nil {
			e.logger.Warn("drop malformed operation from peer", "peer_id", peer.PeerID, "error", err)
			continue
		}
		received = append(received, op)
	}
	results, err := e.ApplyOperations(ctx, received)
	if err != nil {
		return e.failExchange(ctx, st, err)
	}

	sentIDs := make([]string, 0, len(toSend))
	for _, op := range toSend {
		sentIDs = append(sentIDs, op.OpID)
	}
	if err := e.store.markSynced(ctx, sentIDs); err != nil {
		return e.failExchange(ctx, st, err)
	}
	e.removeFromPending(sentIDs)

	applied := 0
	conflicts := 0
	for _, r := range results {
		if r.Applied {
			applied++
		} else if r.Reason == ErrStaleOperation.Error() {
			conflicts++
		}
	}

	st.Status = StatusIdle
	st.LastSync = time.Now().UTC()
	st.OperationsSent += len(toSend)
	st.OperationsReceived += applied
	st.ConflictsResolved += conflicts
	st.LastError = nil
	return e.store.savePeerSyncState(ctx, st)
}

func (e *Engine) failExchange(ctx context.Context, st PeerSyncState, cause error) error {
	msg := cause.Error()
	st.Status = StatusError
	st.LastError = &msg
	if err := e.store.savePeerSyncState(ctx, st); err != nil {
		e.logger.Error("save peer sync state after failure", "error", err)
	}
	return fmt.Errorf("exchange with peer %s: %w", st.PeerID, cause)
}

func (e *Engine) removeFromPending(sentIDs []string) {
	if len(sentIDs) == 0 {
		return
	}
	sent := make(map[string]struct{}, len(sentIDs))
	for _, id := range sentIDs {
		sent[id] = struct{}{}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	kept := e.pending[:0]
	for _, op := range e.pending {
		if _, done := sent[op.OpID]; !done {
			kept = append(kept, op)
		}
	}
	e.pending = kept
}

func (e *Engine) postWithRetry(ctx context.Context, peer Peer, req exchangeRequest) (*exchangeResponse, error) {
	budgetCtx, cancel := context.WithTimeout(ctx, exchangeBudget)
	defer cancel()

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal exchange request: %w", err)
	}
	url := fmt.Sprintf("http://%s:%d/api/v1/mesh/sync/exchange", peer.IP, peer.Port)

	bo := backoff.WithContext(backoff.NewExponentialBackOff(), budgetCtx)

	var result *exchangeResponse
	op := func() error {
		httpReq, err := http.NewRequestWithContext(budgetCtx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build exchange request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return fmt.Errorf("post exchange request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("peer returned status %d", resp.StatusCode)
		}
		if resp.StatusCode >= 400 {
			data, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("peer returned status %d: %s", resp.StatusCode, data))
		}

		var parsed exchangeResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("decode exchange response: %w", err))
		}
		result = &parsed
		return nil
	}

	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return result, nil
}

// HandleExchange is the server side of the mesh-sync endpoint: it applies
// the operations the remote peer sent and returns this peer's own
// outstanding operations for that peer's table scope, per spec §4.3's
// single-round-trip reconciliation.
func (e *Engine) HandleExchange(ctx context.Context, req exchangeRequest) (exchangeResponse, error) {
	received := make([]SyncOperation, 0, len(req.Operations))
	for _, w := range req.Operations {
		op, err := fromWire(w)
		if err != nil {
			e.logger.Warn("drop malformed operation from peer", "peer_id", req.SenderPeerID, "error", err)
			continue
		}
		received = append(received, op)
	}
	results, err := e.ApplyOperations(ctx, received)
	if err != nil {
		return exchangeResponse{}, err
	}

	st, err := e.store.getPeerSyncState(ctx, req.SenderPeerID)
	if err != nil {
		return exchangeResponse{}, err
	}
	toSend, err := e.store.operationsToSend(ctx, e.localPeer, st.LastSync, req.Tables)
	if err != nil {
		return exchangeResponse{}, err
	}

	resp := exchangeResponse{PeerID: e.localPeer, Results: results}
	for _, op := range toSend {
		resp.Operations = append(resp.Operations, toWire(op))
	}
	return resp, nil
}

// MeshSyncHandler returns the net/http handler for the peer mesh-sync
// endpoint (spec §4.3, wire shape §6.2), decoding the request into
// HandleExchange and encoding its response. The wire types stay
// unexported; this is the one seam the composition root needs to mount
// the endpoint without reaching into package-internal shapes.
func (e *Engine) MeshSyncHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		var req exchangeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, fmt.Sprintf("decode request: %v", err), http.StatusBadRequest)
			return
		}

		resp, err := e.HandleExchange(r.Context(), req)
		if err != nil {
			e.logger.Error("handle mesh sync exchange", "error", err)
			http.Error(w, "exchange failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			e.logger.Error("encode mesh sync response", "error", err)
		}
	}
}
