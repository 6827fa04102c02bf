package sync

import "time"

// exchangeRequest is the body of POST /api/v1/mesh/sync/exchange (spec
// §6.2): the sender's peer identity plus the batch of operations it wants
// applied on the receiving peer.
type exchangeRequest struct {
	SenderPeerID string        `json:"sender_peer_id"`
	Operations   []wireOp      `json:"operations"`
	Tables       []string      `json:"tables,omitempty"`
	Since        *time.Time    `json:"since,omitempty"`
}

// exchangeResponse carries the receiving peer's own outstanding operations
// back to the sender in the same round trip, so one HTTP exchange
// reconciles both directions.
type exchangeResponse struct {
	PeerID     string   `json:"peer_id"`
	Operations []wireOp `json:"operations"`
	Results    []ApplyResult `json:"results,omitempty"`
}

// wireOp is SyncOperation's exact JSON wire shape (spec §6.2 key names).
type wireOp struct {
	OpID      string         `json:"op_id"`
	TableName string         `json:"table_name"`
	Operation string         `json:"operation"`
	RowID     string         `json:"row_id"`
	Data      map[string]any `json:"data"`
	Timestamp string         `json:"timestamp"`
	PeerID    string         `json:"peer_id"`
	Version   int64          `json:"version"`
	TeamID    *string        `json:"team_id,omitempty"`
	Signature string         `json:"signature,omitempty"`
}

func toWire(op SyncOperation) wireOp {
	return wireOp{
		OpID:      op.OpID,
		TableName: op.TableName,
		Operation: string(op.Operation),
		RowID:     op.RowID,
		Data:      op.Data,
		Timestamp: op.Timestamp.UTC().Format(timeLayout),
		PeerID:    op.PeerID,
		Version:   op.Version,
		TeamID:    op.TeamID,
		Signature: op.Signature,
	}
}

func fromWire(w wireOp) (SyncOperation, error) {
	ts, err := time.Parse(timeLayout, w.Timestamp)
	if err != nil {
		return SyncOperation{}, err
	}
	return SyncOperation{
		OpID:      w.OpID,
		TableName: w.TableName,
		Operation: Operation(w.Operation),
		RowID:     w.RowID,
		Data:      w.Data,
		Timestamp: ts,
		PeerID:    w.PeerID,
		Version:   w.Version,
		TeamID:    w.TeamID,
		Signature: w.Signature,
	}, nil
}
