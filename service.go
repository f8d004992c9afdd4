package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/kwv/rugmatch/match"
)

// rankService answers rank requests received over MQTT.
type rankService struct {
	ctx       context.Context
	cfg       *match.Config
	fallback  match.Matcher
	logger    *slog.Logger
	publisher atomic.Pointer[match.Publisher]
	ready     chan struct{} // closed once the publisher is set

	mu       sync.Mutex
	stopped  bool
	inflight sync.WaitGroup
}

func newRankService(ctx context.Context, cfg *match.Config, fallback match.Matcher, logger *slog.Logger) *rankService {
	return &rankService{
		ctx:      ctx,
		cfg:      cfg,
		fallback: fallback,
		logger:   logger.With("component", "service"),
		ready:    make(chan struct{}),
	}
}

// setPublisher releases requests that arrived while connecting.
func (s *rankService) setPublisher(p *match.Publisher) {
	s.publisher.Store(p)
	close(s.ready)
}

// handle is the match.RequestHandler of the service.
func (s *rankService) handle(req *match.RankRequest, err error) {
	if !s.begin() {
		s.logger.Warn("service stopping, dropping rank request")
		return
	}
	defer s.inflight.Done()

	if req == nil {
		s.logger.Error("dropping undecodable rank request", "error", err)
		return
	}
	log := s.logger.With("request_id", req.RequestID)

	var resp *match.RankResponse
	if err != nil {
		log.Warn("rejecting rank request", "error", err)
		resp = match.NewRankResponse(req.RequestID, nil, err)
	} else {
		report, evalErr := s.evaluate(req)
		if evalErr != nil {
			log.Warn("rank request finished with error", "error", evalErr)
		}
		resp = match.NewRankResponse(req.RequestID, report, evalErr)
	}

	select {
	case <-s.ready:
	case <-s.ctx.Done():
	}
	pub := s.publisher.Load()
	if pub == nil {
		log.Error("no publisher available, dropping response")
		return
	}
	if err := pub.PublishResult(resp); err != nil {
		log.Error("publishing rank response failed", "error", err)
	}
}

func (s *rankService) evaluate(req *match.RankRequest) (*match.Report, error) {
	gallery := req.Gallery()
	matcher, err := gallery.Matcher(s.fallback)
	if err != nil {
		return nil, err
	}

	var opts []match.EvaluatorOption
	if req.TopK > 0 {
		opts = append(opts, match.WithTopK(req.TopK))
	}
	evaluator := s.cfg.NewEvaluator(matcher, s.logger.With("request_id", req.RequestID), opts...)
	return evaluator.Evaluate(s.ctx, gallery.Query, gallery.Entries())
}

// begin registers a request unless the service is stopping.
func (s *rankService) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.inflight.Add(1)
	return true
}

// wait stops accepting requests and blocks until every request being handled
// has been answered.
func (s *rankService) wait() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.inflight.Wait()
}

// RunService connects to MQTT and answers rank requests until ctx is done.
func (a *App) RunService(ctx context.Context, opts ServiceOptions) error {
	cfg, err := a.loadConfig(opts.GlobalOptions)
	if err != nil {
		return err
	}
	if err := cfg.ValidateService(); err != nil {
		return err
	}
	logger, err := a.logger(cfg, opts.GlobalOptions)
	if err != nil {
		return err
	}
	fallback, err := fallbackMatcher(cfg)
	if err != nil {
		return err
	}

	svc := newRankService(ctx, cfg, fallback, logger)

	connect := a.ConnectMQTT
	if connect == nil {
		connect = match.InitMQTT
	}
	client, err := connect(cfg, svc.handle, logger)
	if err != nil {
		return fmt.Errorf("initializing MQTT: %w", err)
	}
	if client == nil {
		return errors.New("MQTT broker not configured")
	}

	pub := match.NewPublisher(client.GetClient(), cfg.MQTT.PublishPrefix, logger)
	svc.setPublisher(pub)

	logger.Info("service running",
		"request_topic", cfg.MQTT.RequestTopic,
		"result_topic", pub.ResultTopic("{requestId}"),
		"latest_topic", pub.LatestTopic(),
		"remote_matcher", cfg.Matcher.URL != "")

	<-ctx.Done()

	logger.Info("shutting down service")
	client.Disconnect()
	svc.wait()
	logger.Info("service stopped")
	return nil
}
