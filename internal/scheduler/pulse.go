package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"alfred-ai/internal/domain"
)

// restMarkerPattern matches the trimmed <rest/> or <rest /> suppression
// token. A pulse response whose trimmed text contains this marker anywhere
// is withheld.
var restMarkerPattern = regexp.MustCompile(`<rest\s*/?>`)

// pulseCollectTimeout is the hard upper bound on collecting a pulse
// response before giving up with whatever has been buffered so far.
const pulseCollectTimeout = 10 * time.Minute

// LastActiveGetter is the subset of lastactive.Tracker the Pulse Job
// consults when ResponseTo == "lastActive". The pulse job never calls
// Update.
type LastActiveGetter interface {
	Get() (domain.Destination, bool)
}

// PulseJob is the daemon's single built-in scheduled job: it wakes an
// agent on a cron schedule, lets it speak unprompted, and forwards the
// response to a resolved destination unless suppressed.
type PulseJob struct {
	coordinator domain.Coordinator
	channels    domain.ChannelRegistry
	lastActive  LastActiveGetter
	cfg         domain.PulseConfig
	adapter     func(ctx context.Context) (domain.ModelAdapter, error)
	logger      *slog.Logger
}

// NewPulseJob creates a PulseJob. lastActive may be nil if ResponseTo never
// references "lastActive".
func NewPulseJob(coordinator domain.Coordinator, channels domain.ChannelRegistry, lastActive LastActiveGetter, cfg domain.PulseConfig, adapter func(ctx context.Context) (domain.ModelAdapter, error), logger *slog.Logger) *PulseJob {
	return &PulseJob{
		coordinator: coordinator,
		channels:    channels,
		lastActive:  lastActive,
		cfg:         cfg,
		adapter:     adapter,
		logger:      logger,
	}
}

// Name satisfies domain.Job.
func (p *PulseJob) Name() string { return "pulse" }

// Execute satisfies domain.Job. It resolves a destination, spawns a pulse
// agent, collects its response, and forwards it unless suppressed.
func (p *PulseJob) Execute(ctx context.Context) error {
	resolution := p.resolveDestination()

	adapter, err := p.adapter(ctx)
	if err != nil {
		return fmt.Errorf("pulse: resolve adapter: %w", err)
	}

	cfg := domain.SpawnConfig{
		GuidancePath: p.cfg.PulsePromptPath,
		Tags:         []string{"pulse", "scheduled"},
		Metadata: map[string]string{
			"isPulse":              "true",
			"hasResponseDestination": fmt.Sprintf("%t", resolution.Destination != nil),
		},
		Tools: p.cfg.Tools,
		InitialInput: &domain.AgentInput{
			Message: "Follow your PULSE guidance. If nothing needs to be said, respond with <rest />.",
		},
	}
	if p.cfg.PulsePromptPath != "" {
		cfg.Metadata["pulsePromptPath"] = p.cfg.PulsePromptPath
	}

	handle, err := p.coordinator.Spawn(ctx, adapter, cfg)
	if err != nil {
		return fmt.Errorf("pulse: spawn: %w", err)
	}

	response := p.collectResponse(ctx, handle.ID())

	if resolution.Destination == nil {
		return nil
	}
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return nil
	}
	if restMarkerPattern.MatchString(trimmed) {
		p.logger.Debug("pulse: response suppressed by rest marker")
		return nil
	}

	intent := domain.OutboundIntent{
		Kind:        domain.OutboundAgentResponding,
		Destination: *resolution.Destination,
		Metadata:    map[string]string{"conversationType": "direct"},
		Body:        response,
	}
	if err := p.channels.Process(ctx, resolution.Destination.ChannelID, intent); err != nil {
		p.logger.Error("pulse: outbound intent failed", "channel", resolution.Destination.ChannelID, "error", err)
	}
	return nil
}

// resolveDestination implements the Destination Resolver consulted with
// the configured ResponseTo.
func (p *PulseJob) resolveDestination() domain.DestinationResolution {
	switch p.cfg.ResponseTo {
	case "":
		return domain.DestinationResolution{Kind: domain.ResolutionSilent}

	case "lastActive":
		if p.lastActive == nil {
			return domain.DestinationResolution{Kind: domain.ResolutionSilent}
		}
		dest, ok := p.lastActive.Get()
		if !ok {
			return domain.DestinationResolution{Kind: domain.ResolutionSilent}
		}
		return domain.DestinationResolution{Kind: domain.ResolutionResolved, Destination: &dest}

	default:
		dest, ok := p.cfg.NamedDestinations[p.cfg.ResponseTo]
		if !ok {
			p.logger.Warn("pulse: unknown responseTo destination name", "name", p.cfg.ResponseTo)
			return domain.DestinationResolution{Kind: domain.ResolutionSilent}
		}
		return domain.DestinationResolution{Kind: domain.ResolutionResolved, Destination: &dest}
	}
}

// collectResponse subscribes to the coordinator's event stream and
// concatenates output.text frames for the spawned session, resolving on
// done, a fatal error (which discards the collected text), agent_done, or
// the hard timeout. Non-fatal errors do not resolve it.
func (p *PulseJob) collectResponse(ctx context.Context, sessionID domain.AgentSessionID) string {
	var mu sync.Mutex
	var buf strings.Builder
	done := make(chan struct{})
	var once sync.Once
	resolve := func() { once.Do(func() { close(done) }) }

	unsubscribe := p.coordinator.Subscribe(func(_ context.Context, ev domain.CoordinatorEvent) {
		if ev.SessionID != sessionID {
			return
		}

		switch ev.Kind {
		case domain.CoordinatorEventAgentEvent:
			if ev.AgentEvent == nil {
				return
			}
			switch ev.AgentEvent.Kind {
			case domain.AgentEventOutput:
				mu.Lock()
				buf.WriteString(ev.AgentEvent.OutputText)
				mu.Unlock()
			case domain.AgentEventDone:
				resolve()
			case domain.AgentEventError:
				if ev.AgentEvent.Fatal {
					mu.Lock()
					buf.Reset()
					mu.Unlock()
					resolve()
				}
			}
		case domain.CoordinatorEventAgentDone:
			resolve()
		}
	})
	defer unsubscribe()

	select {
	case <-done:
	case <-time.After(pulseCollectTimeout):
		p.logger.Warn("pulse: response collection timed out", "session", sessionID)
	case <-ctx.Done():
	}

	mu.Lock()
	defer mu.Unlock()
	return buf.String()
}
