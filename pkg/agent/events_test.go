package agent

import (
	"context"
	"errors"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Sternrassler/offline-cache-agent/internal/testutil"
	"github.com/Sternrassler/offline-cache-agent/pkg/cache"
	"github.com/Sternrassler/offline-cache-agent/pkg/notify"
	"github.com/rs/zerolog"
)

func newEventAgent(t *testing.T, cfg Config, notifier notify.Notifier) *Agent {
	t.Helper()
	fetcher := fetcherFunc(nil)
	a, err := New(cfg, cache.NewMemoryStorage(), fetcher, notifier, zerolog.Nop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func TestSync(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")
	var tags []string
	cfg := DefaultConfig(origin)
	cfg.OnSync = func(ctx context.Context, tag string) error {
		tags = append(tags, tag)
		return nil
	}
	a := newEventAgent(t, cfg, nil)
	ctx := context.Background()

	if err := a.Sync(ctx, "food-data-sync"); err != nil {
		t.Errorf("Sync(food-data-sync) error = %v", err)
	}
	if err := a.Sync(ctx, "unknown-tag"); err != nil {
		t.Errorf("Sync(unknown-tag) error = %v", err)
	}
	if len(tags) != 1 || tags[0] != "food-data-sync" {
		t.Errorf("sync action ran for %v, want only food-data-sync", tags)
	}
}

func TestSync_DefaultNoop(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")
	a := newEventAgent(t, DefaultConfig(origin), nil)
	if err := a.Sync(context.Background(), DefaultSyncTag); err != nil {
		t.Errorf("Sync() error = %v", err)
	}
}

func TestSync_ActionError(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")
	errUpload := errors.New("upload failed")
	cfg := DefaultConfig(origin)
	cfg.OnSync = func(context.Context, string) error { return errUpload }
	a := newEventAgent(t, cfg, nil)

	if err := a.Sync(context.Background(), DefaultSyncTag); !errors.Is(err, errUpload) {
		t.Errorf("Sync() error = %v, want upload error", err)
	}
}

func TestPush(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")

	tests := []struct {
		name string
		data string
		want []notify.Notification
	}{
		{
			name: "json payload",
			data: `{"title":"Daily goal","body":"You logged 1800 kcal"}`,
			want: []notify.Notification{{
				Title: "Daily goal",
				Body:  "You logged 1800 kcal",
				Icon:  "/icon-192.png",
				Badge: "/icon-192.png",
			}},
		},
		{name: "empty payload", data: ""},
		{name: "not json", data: "hello there"},
		{name: "json array", data: `["a"]`},
		{name: "json null", data: "null"},
		{name: "json null with spaces", data: "  null \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := notify.NewRecorder(nil)
			a := newEventAgent(t, DefaultConfig(origin), rec)

			if err := a.Push(context.Background(), []byte(tt.data)); err != nil {
				t.Fatalf("Push() error = %v", err)
			}
			got := rec.Notifications()
			if len(got) != len(tt.want) {
				t.Fatalf("notifications = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("notification[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

type failingNotifier struct{ err error }

func (f failingNotifier) Show(context.Context, notify.Notification) error { return f.err }

func TestPush_NotifierError(t *testing.T) {
	origin, _ := url.Parse("http://app.example.com")
	errDenied := errors.New("permission denied")
	a := newEventAgent(t, DefaultConfig(origin), failingNotifier{err: errDenied})

	if err := a.Push(context.Background(), []byte(`{"title":"x"}`)); !errors.Is(err, errDenied) {
		t.Errorf("Push() error = %v, want notifier error", err)
	}
}

func TestDispatch(t *testing.T) {
	origin := testutil.NewMockOrigin()
	defer origin.Close()
	origin.SetAppAssets()

	rec := notify.NewRecorder(nil)
	a := newTestAgent(t, origin, cache.NewMemoryStorage(), "v7")
	a.notifier = rec
	ctx := context.Background()

	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, out Outcome)
	}{
		{
			name:  "install",
			event: InstallEvent{},
			check: func(t *testing.T, out Outcome) {
				if out.Install == nil || len(out.Install.Cached) != 5 {
					t.Errorf("Install = %+v", out.Install)
				}
			},
		},
		{
			name:  "activate",
			event: ActivateEvent{},
			check: func(t *testing.T, out Outcome) {
				if out.Activate == nil || out.Activate.Generation != "v7" {
					t.Errorf("Activate = %+v", out.Activate)
				}
			},
		},
		{
			name:  "fetch",
			event: FetchEvent{Request: httptest.NewRequest("GET", "/favicon.ico", nil)},
			check: func(t *testing.T, out Outcome) {
				if out.Fetch == nil || out.Fetch.Source != SourceCache {
					t.Errorf("Fetch = %+v", out.Fetch)
				}
				out.Fetch.Response.Body.Close()
			},
		},
		{
			name:  "fetch without request",
			event: FetchEvent{},
			check: func(t *testing.T, out Outcome) {
				if out.Err == nil {
					t.Error("expected error")
				}
			},
		},
		{
			name:  "sync",
			event: SyncEvent{Tag: "food-data-sync"},
			check: func(t *testing.T, out Outcome) {},
		},
		{
			name:  "push",
			event: PushEvent{Data: []byte(`{"title":"t","body":"b"}`)},
			check: func(t *testing.T, out Outcome) {
				if len(rec.Notifications()) != 1 {
					t.Errorf("notifications = %+v", rec.Notifications())
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := a.Dispatch(ctx, tt.event)
			if out.Kind != tt.event.Kind() {
				t.Errorf("Kind = %v, want %v", out.Kind, tt.event.Kind())
			}
			if tt.name != "fetch without request" && out.Err != nil {
				t.Errorf("Err = %v", out.Err)
			}
			tt.check(t, out)
		})
	}
}
