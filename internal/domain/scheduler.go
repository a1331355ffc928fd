package domain

import "context"

// Job is a named unit of scheduled work. Execute errors are caught and
// logged by the Scheduler; a failed tick never tears the scheduler down.
type Job interface {
	Name() string
	Execute(ctx context.Context) error
}

// ScheduledJob is the Scheduler's bookkeeping entry for one registered job:
// its cron expression and the job itself.
type ScheduledJob struct {
	Name       string
	Expression string
	Job        Job
}

// ResolutionKind distinguishes a resolved pulse destination from a silent
// (no-op) one.
type ResolutionKind string

const (
	ResolutionSilent   ResolutionKind = "silent"
	ResolutionResolved ResolutionKind = "resolved"
)

// DestinationResolution is the Pulse Job's result from consulting the
// Destination Resolver against its configured responseTo.
type DestinationResolution struct {
	Kind        ResolutionKind
	Destination *Destination
}

// PulseConfig configures the single built-in Pulse Job.
type PulseConfig struct {
	// Schedule is the cron expression the Scheduler fires the pulse job on.
	Schedule string `json:"schedule"`

	// ResponseTo selects the destination resolver strategy: empty/absent
	// means silent, "lastActive" consults the Last-Active Tracker, any
	// other value looks up NamedDestinations by name.
	ResponseTo string `json:"responseTo,omitempty"`

	// PulsePromptPath optionally overrides the guidance document the pulse
	// agent is spawned with.
	PulsePromptPath string `json:"pulsePromptPath,omitempty"`

	// NamedDestinations resolves ResponseTo values other than "lastActive".
	NamedDestinations map[string]Destination `json:"destinations,omitempty"`

	Tools ToolRegistry `json:"-"`
}

// RestMarkerDescription documents the rest-marker rule for reference; the
// regex itself (restMarkerPattern) lives alongside the pulse job
// implementation in internal/scheduler to avoid an import cycle back into
// domain.
const RestMarkerDescription = `trimmed output matching <rest/> or <rest />  suppresses the pulse response`
