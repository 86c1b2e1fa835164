package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/essandess/gojobqueue/adapter"
	"github.com/essandess/gojobqueue/rpc"
)

// PeerConnection is one live link to a sibling controller on another node
// (spec.md §4.6). currentLoadEstimate is updated only by inbound ReportLoad
// frames, never by local bookkeeping, since the peer — not this node — is
// the authority on its own load.
type PeerConnection struct {
	ID                 string
	Address            string
	conn               *rpc.Conn
	currentLoadEstimate atomic.Int64
	logger             adapter.Logger

	// localPerformer is this node's own performer chooser, called with
	// onlyLocally=true for jobs the remote peer relays here, bounding the
	// relay to one hop (spec.md §4.6).
	localPerformer func(ctx context.Context, onlyLocally bool) Performer

	mu      sync.Mutex
	pending map[uint64]chan performResult
	closed  bool
}

func newPeerConnection(id, address string, conn *rpc.Conn, logger adapter.Logger, chooser func(ctx context.Context, onlyLocally bool) Performer) *PeerConnection {
	pc := &PeerConnection{
		ID:             id,
		Address:        address,
		conn:           conn,
		logger:         logger,
		localPerformer: chooser,
		pending:        make(map[uint64]chan performResult),
	}
	go pc.readLoop()
	return pc
}

// CurrentLoadEstimate returns the latest load hint reported by this peer.
func (p *PeerConnection) CurrentLoadEstimate() int64 {
	return p.currentLoadEstimate.Load()
}

// PerformJob implements Performer: it wire-sends PerformJob to the remote
// peer and waits for acknowledgement (spec.md §4.6).
func (p *PeerConnection) PerformJob(ctx context.Context, jobID int64) error {
	corrID := p.conn.NextCorrelationID()
	replyCh := make(chan performResult, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrConnectionLost
	}
	p.pending[corrID] = replyCh
	p.mu.Unlock()

	if err := p.conn.Write(rpc.KindPerformJob, corrID, rpc.PerformJob{JobID: jobID}); err != nil {
		p.removePending(corrID)
		return fmt.Errorf("jobqueue: send PerformJob to peer %s: %w", p.ID, err)
	}

	select {
	case res := <-replyCh:
		return res.err
	case <-ctx.Done():
		p.removePending(corrID)
		return ctx.Err()
	}
}

// ReportLoad sends this node's current load as a one-way hint to the peer.
func (p *PeerConnection) ReportLoad(load int32) error {
	return p.conn.Write(rpc.KindReportLoad, 0, rpc.ReportLoad{Load: load})
}

func (p *PeerConnection) removePending(corrID uint64) {
	p.mu.Lock()
	delete(p.pending, corrID)
	p.mu.Unlock()
}

func (p *PeerConnection) readLoop() {
	for {
		frame, err := p.conn.Read()
		if err != nil {
			p.failAllPending(fmt.Errorf("%w: %v", ErrConnectionLost, err))
			return
		}

		switch frame.Kind {
		case rpc.KindPerformJob:
			go p.handleInboundPerformJob(frame)
		case rpc.KindPerformJobReply:
			p.resolve(frame.CorrelationID, performResult{})
		case rpc.KindPerformJobError:
			p.resolve(frame.CorrelationID, performResult{err: fmt.Errorf("jobqueue: peer %s: %s", p.ID, string(frame.Body))})
		case rpc.KindReportLoad:
			rl, err := rpc.DecodeReportLoad(frame.Body)
			if err != nil {
				p.logger.Error("bad ReportLoad frame", adapter.F("peer_id", p.ID), adapter.F("error", err.Error()))
				continue
			}
			p.currentLoadEstimate.Store(int64(rl.Load))
		default:
			p.logger.Error("unexpected frame from peer", adapter.F("peer_id", p.ID), adapter.F("kind", frame.Kind))
		}
	}
}

// handleInboundPerformJob is the receiving side of a relayed PerformJob: it
// dispatches to *its own* choosePerformer(onlyLocally=true), so the relay
// never bounces more than one hop (spec.md §4.6).
func (p *PeerConnection) handleInboundPerformJob(frame rpc.Frame) {
	msg, err := rpc.DecodePerformJob(frame.Body)
	if err != nil {
		_ = p.conn.Write(rpc.KindPerformJobError, frame.CorrelationID, []byte(err.Error()))
		return
	}

	ctx := context.Background()
	performer := p.localPerformer(ctx, true)
	if err := performer.PerformJob(ctx, msg.JobID); err != nil {
		_ = p.conn.Write(rpc.KindPerformJobError, frame.CorrelationID, err.Error())
		return
	}
	_ = p.conn.Write(rpc.KindPerformJobReply, frame.CorrelationID, nil)
}

func (p *PeerConnection) resolve(corrID uint64, res performResult) {
	p.mu.Lock()
	ch, ok := p.pending[corrID]
	if ok {
		delete(p.pending, corrID)
	}
	p.mu.Unlock()
	if ok {
		ch <- res
	}
}

func (p *PeerConnection) failAllPending(err error) {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = make(map[uint64]chan performResult)
	p.mu.Unlock()

	for _, ch := range pending {
		ch <- performResult{err: err}
	}
}

func (p *PeerConnection) close() error {
	return p.conn.Close()
}

// peerFabric is, per node, the set of connections to other controllers
// (spec.md §4.6). It is embedded in Queuer rather than exported on its own,
// since spec.md §2/§4.7 treats the Peer Fabric and the Queuer as one
// top-level service.
type peerFabric struct {
	mu    sync.Mutex
	peers []*PeerConnection

	dialBackoff *ReconnectBackoff
}

func newPeerFabric() *peerFabric {
	return &peerFabric{
		dialBackoff: NewReconnectBackoff(100*time.Millisecond, 30*time.Second),
	}
}

func (f *peerFabric) addPeerConnection(pc *PeerConnection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.peers = append(f.peers, pc)
}

func (f *peerFabric) removePeerConnection(pc *PeerConnection) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, p := range f.peers {
		if p == pc {
			f.peers = append(f.peers[:i], f.peers[i+1:]...)
			return
		}
	}
}

// leastLoadedPeer returns the connected peer with the minimum
// CurrentLoadEstimate, ties broken by insertion order, or nil if there are
// no peers (spec.md §4.7 decision step 2).
func (f *peerFabric) leastLoadedPeer() *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	var best *PeerConnection
	for _, p := range f.peers {
		if best == nil || p.CurrentLoadEstimate() < best.CurrentLoadEstimate() {
			best = p
		}
	}
	return best
}

func (f *peerFabric) snapshot() []*PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*PeerConnection, len(f.peers))
	copy(out, f.peers)
	return out
}

func (f *peerFabric) byAddress(address string) *PeerConnection {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.peers {
		if p.Address == address {
			return p
		}
	}
	return nil
}
