// Package archiver exports audit trails to object storage as verified
// JSON bundles, one bundle per request per run that found new events.
package archiver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bturcanu/fleetgov/pkg/approvals"
	"github.com/bturcanu/fleetgov/pkg/audit"
	"github.com/bturcanu/fleetgov/pkg/client"
	"github.com/bturcanu/fleetgov/pkg/governance"
)

// Source reads requests and their audit trails. *client.Client satisfies it.
type Source interface {
	List(context.Context, client.ListOptions) ([]governance.ApprovalRequest, error)
	Audit(context.Context, string) (*approvals.AuditTrail, error)
}

type Uploader interface {
	Upload(ctx context.Context, key string, body []byte) error
}

// Checkpoint marks how much of a request's audit trail has been archived.
type Checkpoint struct {
	Hash       string
	EventCount int
	ArchivedAt time.Time
}

type CheckpointStore interface {
	Get(ctx context.Context, requestID string) (Checkpoint, bool, error)
	Put(ctx context.Context, requestID string, cp Checkpoint) error
}

// MemoryCheckpoints keeps checkpoints for the lifetime of the process.
type MemoryCheckpoints struct {
	mu sync.Mutex
	m  map[string]Checkpoint
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{m: make(map[string]Checkpoint)}
}

func (c *MemoryCheckpoints) Get(_ context.Context, requestID string) (Checkpoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp, ok := c.m[requestID]
	return cp, ok, nil
}

func (c *MemoryCheckpoints) Put(_ context.Context, requestID string, cp Checkpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[requestID] = cp
	return nil
}

// ErrChainBroken means a trail failed verification or no longer extends the
// archived prefix.
var ErrChainBroken = errors.New("audit chain broken")

type Service struct {
	source      Source
	uploader    Uploader
	checkpoints CheckpointStore
	now         func() time.Time
}

func New(source Source, uploader Uploader, checkpoints CheckpointStore) *Service {
	if checkpoints == nil {
		checkpoints = NewMemoryCheckpoints()
	}
	return &Service{source: source, uploader: uploader, checkpoints: checkpoints, now: time.Now}
}

type Bundle struct {
	RequestID    string            `json:"request_id"`
	Kind         governance.Kind   `json:"kind"`
	CompanyID    string            `json:"company_id"`
	Status       governance.Status `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	EventCount   int               `json:"event_count"`
	FromHash     string            `json:"from_hash"`
	Checkpoint   string            `json:"checkpoint_hash"`
	Since        time.Time         `json:"since"`
	Until        time.Time         `json:"until"`
	ChainRecords []audit.Event     `json:"chain_records"`
}

// ArchiveRequest uploads the events of req appended since its checkpoint.
// It returns the object key, or "" when nothing new was found.
func (s *Service) ArchiveRequest(ctx context.Context, req governance.ApprovalRequest) (string, error) {
	cp, _, err := s.checkpoints.Get(ctx, req.ID)
	if err != nil {
		return "", err
	}
	trail, err := s.source.Audit(ctx, req.ID)
	if err != nil {
		return "", fmt.Errorf("archiver: audit %s: %w", req.ID, err)
	}
	if len(trail.Events) <= cp.EventCount {
		return "", nil
	}
	if cp.EventCount > 0 && trail.Events[cp.EventCount-1].Hash != cp.Hash {
		return "", fmt.Errorf("archiver: %s: %w: archived prefix rewritten", req.ID, ErrChainBroken)
	}
	events := trail.Events[cp.EventCount:]
	if err := audit.VerifyFrom(cp.Hash, events); err != nil {
		return "", fmt.Errorf("archiver: %s: %w: %w", req.ID, ErrChainBroken, err)
	}

	first, last := events[0], events[len(events)-1]
	now := s.now().UTC()
	bundle := Bundle{
		RequestID:    req.ID,
		Kind:         req.Kind,
		CompanyID:    req.CompanyID,
		Status:       req.Status,
		CreatedAt:    now,
		EventCount:   len(events),
		FromHash:     cp.Hash,
		Checkpoint:   last.Hash,
		Since:        first.At,
		Until:        last.At,
		ChainRecords: events,
	}
	body, err := json.Marshal(bundle)
	if err != nil {
		return "", fmt.Errorf("marshal bundle: %w", err)
	}

	key := fmt.Sprintf("audit/%s/%s/%s/%04d/%02d/%02d/%s.json",
		req.CompanyID, req.Kind, req.ID, now.Year(), now.Month(), now.Day(), last.Hash)
	if err := s.uploader.Upload(ctx, key, body); err != nil {
		return "", err
	}
	if err := s.checkpoints.Put(ctx, req.ID, Checkpoint{Hash: last.Hash, EventCount: len(trail.Events), ArchivedAt: now}); err != nil {
		return "", err
	}
	return key, nil
}

// ArchiveAll archives every request matching opts. Failures on one request
// do not stop the others; they are joined into the returned error.
func (s *Service) ArchiveAll(ctx context.Context, opts client.ListOptions) ([]string, error) {
	reqs, err := s.source.List(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("archiver: list: %w", err)
	}
	var keys []string
	var errs []error
	for _, req := range reqs {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		key, err := s.ArchiveRequest(ctx, req)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if key != "" {
			keys = append(keys, key)
		}
	}
	return keys, errors.Join(errs...)
}
