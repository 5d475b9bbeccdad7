package coordinator

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// claimFSM is the Raft finite state machine backing RaftCoordinator: it
// holds the full claim table and applies claim/release/reclaim
// commands in log order. Adapted from the teacher's WarrenFSM, trading
// its node/service/task command set for a single claims map.
type claimFSM struct {
	mu     sync.RWMutex
	claims map[string]Claim
}

func newClaimFSM() *claimFSM {
	return &claimFSM{claims: make(map[string]Claim)}
}

type claimCommand struct {
	Op     string `json:"op"` // "claim", "release", "reclaim"
	Claim  Claim  `json:"claim"`
}

func (f *claimFSM) Apply(entry *raft.Log) interface{} {
	var cmd claimCommand
	if err := json.Unmarshal(entry.Data, &cmd); err != nil {
		return fmt.Errorf("unmarshal claim command: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch cmd.Op {
	case "claim":
		existing, ok := f.claims[cmd.Claim.Symbol]
		if ok && existing.InstanceID != cmd.Claim.InstanceID {
			return false
		}
		f.claims[cmd.Claim.Symbol] = cmd.Claim
		return true
	case "release":
		existing, ok := f.claims[cmd.Claim.Symbol]
		if ok && existing.InstanceID == cmd.Claim.InstanceID {
			delete(f.claims, cmd.Claim.Symbol)
		}
		return nil
	case "reclaim":
		delete(f.claims, cmd.Claim.Symbol)
		return nil
	default:
		return fmt.Errorf("unknown claim command %q", cmd.Op)
	}
}

type claimSnapshot struct {
	claims map[string]Claim
}

func (s *claimSnapshot) Persist(sink raft.SnapshotSink) error {
	data, err := json.Marshal(s.claims)
	if err != nil {
		sink.Cancel()
		return err
	}
	if _, err := sink.Write(data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *claimSnapshot) Release() {}

func (f *claimFSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	clone := make(map[string]Claim, len(f.claims))
	for k, v := range f.claims {
		clone[k] = v
	}
	return &claimSnapshot{claims: clone}, nil
}

func (f *claimFSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	var claims map[string]Claim
	if err := json.Unmarshal(data, &claims); err != nil {
		return err
	}
	f.mu.Lock()
	f.claims = claims
	f.mu.Unlock()
	return nil
}

func (f *claimFSM) snapshotClaims() map[string]Claim {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]Claim, len(f.claims))
	for k, v := range f.claims {
		out[k] = v
	}
	return out
}

// RaftCoordinator arbitrates symbol ownership across a Raft cluster of
// collector instances, so exactly one member holds each symbol's claim
// regardless of which instance evaluates TryClaim. Adapted from the
// teacher's Manager.Bootstrap wiring (TCP transport, BoltDB log/stable
// stores, file snapshot store) with the CA/DNS/join-token machinery
// dropped — this coordinator's only job is the claim table, so it
// bootstraps a single-purpose Raft group rather than the teacher's
// full cluster manager.
type RaftCoordinator struct {
	instanceID string
	raft       *raft.Raft
	fsm        *claimFSM
	applyTimeout time.Duration
}

// RaftConfig configures a single-node Raft bootstrap. Joining additional
// voters is out of scope here; operators wire peer addresses through
// raft.AddVoter against the returned *raft.Raft if a multi-node
// deployment is needed.
type RaftConfig struct {
	InstanceID   string
	BindAddr     string
	DataDir      string
	ApplyTimeout time.Duration
}

// BootstrapRaftCoordinator starts a new single-node Raft group rooted
// at cfg.DataDir and returns a RaftCoordinator backed by it.
func BootstrapRaftCoordinator(cfg RaftConfig) (*RaftCoordinator, error) {
	if cfg.ApplyTimeout == 0 {
		cfg.ApplyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create raft data dir: %w", err)
	}

	fsm := newClaimFSM()

	raftConfig := raft.DefaultConfig()
	raftConfig.LocalID = raft.ServerID(cfg.InstanceID)

	addr, err := net.ResolveTCPAddr("tcp", cfg.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolve bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(cfg.BindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create transport: %w", err)
	}

	snapshotStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("create snapshot store: %w", err)
	}

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("create log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("create stable store: %w", err)
	}

	r, err := raft.NewRaft(raftConfig, fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, fmt.Errorf("create raft: %w", err)
	}

	bootstrapConfig := raft.Configuration{
		Servers: []raft.Server{
			{ID: raftConfig.LocalID, Address: transport.LocalAddr()},
		},
	}
	if err := r.BootstrapCluster(bootstrapConfig).Error(); err != nil && err != raft.ErrCantBootstrap {
		return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
	}

	return &RaftCoordinator{
		instanceID:   cfg.InstanceID,
		raft:         r,
		fsm:          fsm,
		applyTimeout: cfg.ApplyTimeout,
	}, nil
}

func (c *RaftCoordinator) apply(cmd claimCommand) (interface{}, error) {
	data, err := json.Marshal(cmd)
	if err != nil {
		return nil, fmt.Errorf("marshal claim command: %w", err)
	}
	future := c.raft.Apply(data, c.applyTimeout)
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("raft apply: %w", err)
	}
	return future.Response(), nil
}

func (c *RaftCoordinator) TryClaim(symbol string) (bool, error) {
	resp, err := c.apply(claimCommand{
		Op:    "claim",
		Claim: Claim{InstanceID: c.instanceID, Symbol: symbol, HeartbeatAt: time.Now()},
	})
	if err != nil {
		return false, err
	}
	granted, _ := resp.(bool)
	return granted, nil
}

func (c *RaftCoordinator) Release(symbol string) error {
	_, err := c.apply(claimCommand{Op: "release", Claim: Claim{InstanceID: c.instanceID, Symbol: symbol}})
	return err
}

func (c *RaftCoordinator) RefreshHeartbeat() error {
	for symbol, claim := range c.fsm.snapshotClaims() {
		if claim.InstanceID != c.instanceID {
			continue
		}
		if _, err := c.apply(claimCommand{
			Op:    "claim",
			Claim: Claim{InstanceID: c.instanceID, Symbol: symbol, HeartbeatAt: time.Now()},
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c *RaftCoordinator) GetOwned() ([]string, error) {
	var owned []string
	for symbol, claim := range c.fsm.snapshotClaims() {
		if claim.InstanceID == c.instanceID {
			owned = append(owned, symbol)
		}
	}
	return owned, nil
}

func (c *RaftCoordinator) GetAllClaims() ([]Claim, error) {
	snapshot := c.fsm.snapshotClaims()
	out := make([]Claim, 0, len(snapshot))
	for _, claim := range snapshot {
		out = append(out, claim)
	}
	return out, nil
}

func (c *RaftCoordinator) ReclaimStale(ttl time.Duration) ([]string, error) {
	cutoff := time.Now().Add(-ttl)
	var reclaimed []string
	for symbol, claim := range c.fsm.snapshotClaims() {
		if claim.HeartbeatAt.Before(cutoff) {
			if _, err := c.apply(claimCommand{Op: "reclaim", Claim: Claim{Symbol: symbol}}); err != nil {
				return reclaimed, err
			}
			reclaimed = append(reclaimed, symbol)
		}
	}
	return reclaimed, nil
}

// Shutdown cleanly stops the Raft instance.
func (c *RaftCoordinator) Shutdown() error {
	return c.raft.Shutdown().Error()
}
