package dealer

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dynamo-go/dynamo/pkg/inventory"
	"github.com/dynamo-go/dynamo/pkg/log"
	"github.com/dynamo-go/dynamo/pkg/metrics"
)

// TransferBackend accepts the DealerRequests a cycle produces; its concrete
// implementation (queueing actual block transfers) is external to this
// system's scope, same as the persistent store's SQL text.
type TransferBackend interface {
	Accept(requests []DealerRequest) (accepted []DealerRequest, err error)
}

// Scheduler runs the copy-request handler on a fixed cycle, the same
// ticker-driven run loop shape the teacher's scheduler uses, adapted from
// "assign containers to nodes" to "assign block replicas to sites".
type Scheduler struct {
	Handler  *CopyRequestHandler
	Inv      *inventory.Inventory
	Policy   Policy
	Backend  TransferBackend
	Interval time.Duration

	logger zerolog.Logger
	mu     sync.Mutex
	stopCh chan struct{}
}

// NewScheduler returns a Scheduler cycling every interval (5s if <= 0).
func NewScheduler(handler *CopyRequestHandler, inv *inventory.Inventory, policy Policy, backend TransferBackend, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{
		Handler: handler, Inv: inv, Policy: policy, Backend: backend, Interval: interval,
		logger: log.WithComponent("dealer"),
		stopCh: make(chan struct{}),
	}
}

// Run blocks, ticking until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.runCycle()
		case <-s.stopCh:
			return
		}
	}
}

// Stop ends Run's loop.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

func (s *Scheduler) runCycle() {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.DealerCycleDuration)

	start := time.Now()
	requests, err := s.Handler.Cycle(s.Inv, s.Policy)
	if err != nil {
		s.logger.Error().Err(err).Msg("dealer cycle failed")
		return
	}
	if len(requests) == 0 {
		return
	}
	metrics.DealerProposalsTotal.Add(float64(len(requests)))

	accepted, err := s.Backend.Accept(requests)
	if err != nil {
		s.logger.Error().Err(err).Msg("transfer back-end rejected proposal batch")
		return
	}
	s.Handler.Postprocess(accepted)
	s.reportActiveCopies()
	s.logger.Info().
		Int("proposed", len(requests)).
		Int("accepted", len(accepted)).
		Dur("elapsed", time.Since(start)).
		Msg("dealer cycle complete")
}

func (s *Scheduler) reportActiveCopies() {
	counts := make(map[ActiveCopyStatus]int)
	for _, ac := range s.Handler.Table.ActiveCopies() {
		counts[ac.Status]++
	}
	for status, n := range counts {
		metrics.ActiveCopiesGauge.WithLabelValues(string(status)).Set(float64(n))
	}
}
