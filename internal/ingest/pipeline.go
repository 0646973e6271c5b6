package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/agv-rtls/internal/model"
	"github.com/smukkama/agv-rtls/internal/protocol"
)

var ErrUnregisteredAGV = errors.New("agv is not registered")

// ZoneResolver maps plant coordinates to a zone id.
type ZoneResolver interface {
	Resolve(x, y float64) (string, bool)
}

// SampleWriter accepts samples for persistence.
type SampleWriter interface {
	Write(ctx context.Context, s model.PositionSample) error
}

// PresenceObserver is told about every accepted sample.
type PresenceObserver interface {
	Observe(agvID, zoneID string, at time.Time) bool
}

// AGVLister lists registered AGV ids.
type AGVLister interface {
	ListAGVIDs(ctx context.Context) ([]string, error)
}

// Options tunes acceptance checks. Zero values disable a check.
type Options struct {
	RequireRegistered bool
	MaxSampleAge      time.Duration
	MaxSpeed          float64
}

// Pipeline validates, zone-resolves and forwards samples to the writer.
type Pipeline struct {
	opts     Options
	zones    ZoneResolver
	writer   SampleWriter
	presence PresenceObserver
	logger   *zap.Logger
	now      func() time.Time

	registered atomic.Pointer[map[string]struct{}]
	accepted   atomic.Int64
	rejected   atomic.Int64
}

// PipelineStats counts samples by outcome.
type PipelineStats struct {
	Accepted int64
	Rejected int64
}

// NewPipeline creates an ingestion pipeline. presence may be nil.
func NewPipeline(opts Options, zones ZoneResolver, writer SampleWriter, presence PresenceObserver, logger *zap.Logger) *Pipeline {
	p := &Pipeline{
		opts:     opts,
		zones:    zones,
		writer:   writer,
		presence: presence,
		logger:   logger,
		now:      time.Now,
	}
	empty := map[string]struct{}{}
	p.registered.Store(&empty)
	return p
}

// HandleMessage decodes one wire message and ingests it. fallbackAGVID is
// used when the payload carries no agv_id.
func (p *Pipeline) HandleMessage(ctx context.Context, payload []byte, fallbackAGVID string) error {
	s, err := protocol.DecodePosition(payload, fallbackAGVID, p.now())
	if err != nil {
		p.reject(fallbackAGVID, err)
		return err
	}
	return p.Ingest(ctx, s)
}

// Ingest checks a decoded sample, attaches its zone and hands it to the
// writer. Rejected samples are logged and never coerced.
func (p *Pipeline) Ingest(ctx context.Context, s *model.PositionSample) error {
	if err := p.check(s); err != nil {
		p.reject(s.AGVID, err)
		return err
	}

	if id, ok := p.zones.Resolve(s.X, s.Y); ok {
		s.ZoneID = &id
	} else {
		s.ZoneID = nil
	}
	if s.ReceivedAt.IsZero() {
		s.ReceivedAt = p.now()
	}

	if err := p.writer.Write(ctx, *s); err != nil {
		return fmt.Errorf("failed to queue sample for %s: %w", s.AGVID, err)
	}
	p.accepted.Add(1)

	if p.presence != nil {
		zone := ""
		if s.ZoneID != nil {
			zone = *s.ZoneID
		}
		if back := p.presence.Observe(s.AGVID, zone, s.ReceivedAt); back {
			p.logger.Info("AGV reporting again", zap.String("agv_id", s.AGVID))
		}
	}
	return nil
}

func (p *Pipeline) check(s *model.PositionSample) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if p.opts.RequireRegistered {
		if _, ok := (*p.registered.Load())[s.AGVID]; !ok {
			return fmt.Errorf("%w: %s", ErrUnregisteredAGV, s.AGVID)
		}
	}
	if p.opts.MaxSampleAge > 0 && p.now().Sub(s.Timestamp) > p.opts.MaxSampleAge {
		return &model.ValidationError{Field: "timestamp", Reason: fmt.Sprintf("older than %s", p.opts.MaxSampleAge)}
	}
	if p.opts.MaxSpeed > 0 && s.Speed > p.opts.MaxSpeed {
		return &model.ValidationError{Field: "speed", Reason: fmt.Sprintf("exceeds plausible maximum %.1f m/s", p.opts.MaxSpeed)}
	}
	return nil
}

func (p *Pipeline) reject(agvID string, err error) {
	p.rejected.Add(1)
	p.logger.Warn("Rejected position sample", zap.String("agv_id", agvID), zap.Error(err))
}

// SetRegistered replaces the set of AGVs allowed to report.
func (p *Pipeline) SetRegistered(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	p.registered.Store(&set)
}

// RefreshRegistered reloads the registered set from the registry.
func (p *Pipeline) RefreshRegistered(ctx context.Context, lister AGVLister) error {
	ids, err := lister.ListAGVIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to refresh registered agvs: %w", err)
	}
	p.SetRegistered(ids)
	return nil
}

// Stats returns pipeline counters.
func (p *Pipeline) Stats() PipelineStats {
	return PipelineStats{Accepted: p.accepted.Load(), Rejected: p.rejected.Load()}
}

// IsRejection reports whether err came from sample validation rather than
// from the writer.
func IsRejection(err error) bool {
	return errors.Is(err, model.ErrInvalidSample) || errors.Is(err, ErrUnregisteredAGV)
}
