package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"postpilot/internal/automation"
	logx "postpilot/pkg/logx"
)

// execute runs one claimed firing: resolve target channels, then fan out the
// per-channel pipeline (rate gate, generate, approve-or-dispatch, record).
// Exactly one ExecutionRecord is written per attempted channel.
func (s *Service) execute(ctx context.Context, f firing) {
	rule := f.f.Rule
	cfg := s.config()

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	channels, err := s.deps.Channels.ActiveChannels(cctx, rule)
	cancel()
	if err != nil {
		// No channel was attempted, so no records are written. The claim
		// stands; the fire is retried only after the window expires.
		s.log.Warn("resolving channels failed",
			logx.String("rule", rule.ID),
			logx.Err(err))
		return
	}
	if len(channels) == 0 {
		s.log.Debug("no eligible channels", logx.String("rule", rule.ID))
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.ChannelWorkers)
	for _, ch := range channels {
		ch := ch
		g.Go(func() error {
			s.fireChannel(gctx, cfg, f, ch)
			return nil
		})
	}
	_ = g.Wait()
}

// fireChannel runs the pipeline for one channel and always writes exactly one
// record.
func (s *Service) fireChannel(ctx context.Context, cfg Config, f firing, ch automation.Channel) {
	rule := f.f.Rule
	start := time.Now()

	rec := automation.ExecutionRecord{
		ID:        uuid.NewString(),
		RuleID:    rule.ID,
		ChannelID: ch.ID,
		FiredAt:   start,
	}
	if f.f.Anchor != nil {
		rec.AnchorID = f.f.Anchor.ID
	}

	if d := s.deps.Limiter.Allow(rule.ContentType, ch); !d.Allowed {
		rec.Outcome = automation.OutcomeRateLimited
		rec.Error = d.Reason
		s.finishRecord(ctx, cfg, rec, start)
		return
	}

	content, err := s.generate(ctx, cfg, rule, ch, f.f.Anchor)
	if err != nil {
		rec.Outcome = automation.OutcomeGenFailed
		rec.Error = err.Error()
		s.finishRecord(ctx, cfg, rec, start)
		return
	}
	rec.Fallback = content.Fallback

	if rule.RequireApproval {
		cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
		err := s.deps.Approvals.CreatePending(cctx, rule, ch, content)
		cancel()
		if err != nil {
			// Content exists but was neither delivered nor queued for review.
			rec.Outcome = automation.OutcomeSendFailed
			rec.Error = err.Error()
		} else {
			rec.Outcome = automation.OutcomePendingApproval
		}
		s.finishRecord(ctx, cfg, rec, start)
		return
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	msgID, err := s.deps.Dispatcher.Send(cctx, ch, content)
	cancel()
	if err != nil {
		// A single attempt per fire; the dedup window is the retry cadence.
		rec.Outcome = automation.OutcomeSendFailed
		rec.Error = err.Error()
	} else {
		rec.Outcome = automation.OutcomeSent
		rec.MessageID = msgID
	}
	s.finishRecord(ctx, cfg, rec, start)
}

// generate produces content for the rule's type, falling back once to the
// default type when the requested type fails.
func (s *Service) generate(ctx context.Context, cfg Config, rule automation.Rule, ch automation.Channel, anchor *automation.AnchorEvent) (automation.Content, error) {
	req := automation.GenerateRequest{
		Type:     rule.ContentType,
		Language: ch.Language,
		Anchor:   anchor,
	}

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	content, err := s.deps.Generator.Generate(cctx, req)
	cancel()
	if err == nil {
		return content, nil
	}
	if rule.ContentType == automation.DefaultContentType {
		return automation.Content{}, err
	}

	s.log.Warn("generation failed; trying fallback type",
		logx.String("rule", rule.ID),
		logx.String("channel", ch.ID),
		logx.String("type", string(rule.ContentType)),
		logx.Err(err))

	req.Type = automation.DefaultContentType
	cctx, cancel = context.WithTimeout(ctx, cfg.CallTimeout)
	content, err = s.deps.Generator.Generate(cctx, req)
	cancel()
	if err != nil {
		return automation.Content{}, err
	}
	content.Fallback = true
	return content, nil
}

// finishRecord persists the record and updates counters. A persist failure is
// logged but does not change the outcome: the send already happened or not.
func (s *Service) finishRecord(ctx context.Context, cfg Config, rec automation.ExecutionRecord, start time.Time) {
	rec.Duration = time.Since(start)

	cctx, cancel := context.WithTimeout(ctx, cfg.CallTimeout)
	err := s.deps.Log.Record(cctx, rec)
	cancel()
	if err != nil {
		s.log.Warn("recording execution failed",
			logx.String("rule", rec.RuleID),
			logx.String("channel", rec.ChannelID),
			logx.String("outcome", string(rec.Outcome)),
			logx.Err(err))
	}

	s.st.recordOutcome(rec.RuleID, rec.Outcome, rec.FiredAt)
	s.deps.Metrics.FireOutcome(rec.Outcome)

	switch rec.Outcome {
	case automation.OutcomeSent:
		s.log.Info("posted",
			logx.String("rule", rec.RuleID),
			logx.String("channel", rec.ChannelID),
			logx.String("message_id", rec.MessageID),
			logx.Bool("fallback", rec.Fallback),
			logx.Duration("took", rec.Duration))
	case automation.OutcomePendingApproval:
		s.log.Info("queued for approval",
			logx.String("rule", rec.RuleID),
			logx.String("channel", rec.ChannelID))
	case automation.OutcomeRateLimited:
		s.log.Debug("rate limited",
			logx.String("rule", rec.RuleID),
			logx.String("channel", rec.ChannelID),
			logx.String("reason", rec.Error))
	default:
		s.log.Warn("fire failed",
			logx.String("rule", rec.RuleID),
			logx.String("channel", rec.ChannelID),
			logx.String("outcome", string(rec.Outcome)),
			logx.String("error", rec.Error))
	}
}
