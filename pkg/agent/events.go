package agent

import (
	"context"
	"fmt"
	"net/http"
)

// EventKind identifies a host event.
type EventKind string

const (
	EventInstall  EventKind = "install"
	EventActivate EventKind = "activate"
	EventFetch    EventKind = "fetch"
	EventSync     EventKind = "sync"
	EventPush     EventKind = "push"
)

// Event is an immutable descriptor delivered by the host.
type Event interface {
	Kind() EventKind
}

// InstallEvent asks the agent to precache its essential assets.
type InstallEvent struct{}

// ActivateEvent asks the agent to sweep stale containers.
type ActivateEvent struct{}

// FetchEvent carries an outgoing request.
type FetchEvent struct {
	Request *http.Request
}

// SyncEvent carries a background sync tag.
type SyncEvent struct {
	Tag string
}

// PushEvent carries a push message payload.
type PushEvent struct {
	Data []byte
}

func (InstallEvent) Kind() EventKind  { return EventInstall }
func (ActivateEvent) Kind() EventKind { return EventActivate }
func (FetchEvent) Kind() EventKind    { return EventFetch }
func (SyncEvent) Kind() EventKind     { return EventSync }
func (PushEvent) Kind() EventKind     { return EventPush }

// Outcome is the value produced by handling one event. Exactly one of Install,
// Activate and Fetch is set, matching Kind; Sync and Push only report Err.
type Outcome struct {
	Kind     EventKind
	Install  *InstallReport
	Activate *ActivateReport
	Fetch    *Result
	Err      error
}

// Dispatch routes ev to its handler.
func (a *Agent) Dispatch(ctx context.Context, ev Event) Outcome {
	out := Outcome{Kind: ev.Kind()}

	switch e := ev.(type) {
	case InstallEvent:
		report, err := a.Install(ctx)
		out.Install, out.Err = &report, err
	case ActivateEvent:
		report, err := a.Activate(ctx)
		out.Activate, out.Err = &report, err
	case FetchEvent:
		if e.Request == nil {
			out.Err = fmt.Errorf("fetch event without request")
			break
		}
		res := a.Fetch(ctx, e.Request)
		out.Fetch = &res
	case SyncEvent:
		out.Err = a.Sync(ctx, e.Tag)
	case PushEvent:
		out.Err = a.Push(ctx, e.Data)
	default:
		out.Err = fmt.Errorf("unknown event kind %q", ev.Kind())
	}

	result := "ok"
	if out.Err != nil {
		result = "error"
	}
	EventsTotal.WithLabelValues(string(out.Kind), result).Inc()
	return out
}
