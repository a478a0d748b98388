package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/localclipper/clipper/internal/domain"
	apperrors "github.com/localclipper/clipper/internal/errors"
	"github.com/localclipper/clipper/internal/settings"
)

func TestAggregator_SnapshotStartsAtBase(t *testing.T) {
	agg := New(domain.DefaultConfiguration())
	if agg.Snapshot() != domain.DefaultConfiguration() {
		t.Errorf("expected defaults, got %+v", agg.Snapshot())
	}
}

func TestAggregator_ApplyUpdatesOnlyOwnedFields(t *testing.T) {
	agg := New(domain.DefaultConfiguration())

	if err := agg.Apply(ClipsFragment{MaxClips: 5, ClipLen: 20}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if err := agg.Apply(LangFragment{Lang: "RU"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	snap := agg.Snapshot()
	if snap.MaxClips != 5 || snap.ClipLen != 20 {
		t.Errorf("expected clips 5/20, got %d/%g", snap.MaxClips, snap.ClipLen)
	}
	if snap.Lang != "ru" {
		t.Errorf("expected canonical lang ru, got %q", snap.Lang)
	}
	if snap.Style != domain.DefaultStyle() || snap.Aspect != domain.DefaultAspect {
		t.Errorf("unrelated fields changed: %+v", snap)
	}
}

func TestAggregator_LatestFragmentWins(t *testing.T) {
	agg := New(domain.DefaultConfiguration())
	agg.Apply(AspectFragment{Aspect: "1:1"})
	agg.Apply(AspectFragment{Aspect: "16:9"})

	if got := agg.Snapshot().Aspect; got != "16:9" {
		t.Errorf("expected 16:9, got %s", got)
	}
}

func TestAggregator_SnapshotIsolatedFromLaterChanges(t *testing.T) {
	agg := New(domain.DefaultConfiguration())
	submitted := agg.Snapshot()

	agg.Apply(EmojisFragment{Emojis: false})
	agg.Apply(ClipsFragment{MaxClips: 2, ClipLen: 10})

	if !submitted.Emojis || submitted.MaxClips != domain.DefaultMaxClips {
		t.Errorf("earlier snapshot was mutated: %+v", submitted)
	}
}

func TestAggregator_RejectsInvalidFragment(t *testing.T) {
	tests := []struct {
		name string
		frag Fragment
	}{
		{"zero clips", ClipsFragment{MaxClips: 0, ClipLen: 30}},
		{"negative length", ClipsFragment{MaxClips: 3, ClipLen: -1}},
		{"unknown lang", LangFragment{Lang: "not a language"}},
		{"bad aspect", AspectFragment{Aspect: "wide"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := New(domain.DefaultConfiguration())
			calls := 0
			agg.OnChange(func(prev, cur domain.Configuration) { calls++ })

			err := agg.Apply(tt.frag)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !apperrors.IsClientError(err) {
				t.Errorf("expected client error, got %v", err)
			}
			if !errors.Is(err, domain.ErrInvalidConfiguration) {
				t.Errorf("expected cause to wrap ErrInvalidConfiguration, got %v", err)
			}
			if agg.Snapshot() != domain.DefaultConfiguration() {
				t.Errorf("snapshot changed after rejected fragment: %+v", agg.Snapshot())
			}
			if calls != 0 {
				t.Errorf("expected no notifications, got %d", calls)
			}
		})
	}
}

func TestAggregator_ListenerSeesPreviousAndCurrent(t *testing.T) {
	agg := New(domain.DefaultConfiguration())

	var gotPrev, gotCur domain.Configuration
	agg.OnChange(func(prev, cur domain.Configuration) {
		gotPrev, gotCur = prev, cur
		if agg.Snapshot() != cur {
			t.Error("snapshot must be current when listeners run")
		}
	})

	agg.Apply(TokenFragment{POToken: "abc"})

	if gotPrev.POToken != "" || gotCur.POToken != "abc" {
		t.Errorf("unexpected listener args: prev=%q cur=%q", gotPrev.POToken, gotCur.POToken)
	}
}

func TestAggregator_ApplyPresetKeepsToken(t *testing.T) {
	agg := New(domain.DefaultConfiguration())
	agg.Apply(TokenFragment{POToken: "secret"})

	preset := domain.Preset{Name: "short", Config: domain.DefaultConfiguration()}
	preset.Config.MaxClips = 3
	preset.Config.ClipLen = 15
	preset.Config.Aspect = "1:1"

	notifications := 0
	agg.OnChange(func(prev, cur domain.Configuration) { notifications++ })

	if err := agg.ApplyPreset(preset); err != nil {
		t.Fatalf("ApplyPreset() error = %v", err)
	}

	snap := agg.Snapshot()
	if snap.MaxClips != 3 || snap.ClipLen != 15 || snap.Aspect != "1:1" {
		t.Errorf("preset not applied: %+v", snap)
	}
	if snap.POToken != "secret" {
		t.Errorf("expected token kept, got %q", snap.POToken)
	}
	if notifications != 1 {
		t.Errorf("expected a single derivation, got %d notifications", notifications)
	}
}

func TestAggregator_TokenWriteThroughSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore()

	first := New(domain.DefaultConfiguration())
	first.OnChange(settings.NewSyncer(store).OnChange)
	if err := first.Apply(TokenFragment{POToken: "persisted"}); err != nil {
		t.Fatalf("Apply() error = %v", err)
	}

	seeded, err := settings.Seed(ctx, store, domain.DefaultConfiguration())
	if err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	second := New(seeded)
	if got := second.Snapshot().POToken; got != "persisted" {
		t.Errorf("expected persisted token after restart, got %q", got)
	}

	second.OnChange(settings.NewSyncer(store).OnChange)
	second.Apply(TokenFragment{POToken: ""})
	if _, ok, _ := store.Get(ctx, settings.KeyPOToken); ok {
		t.Error("expected cleared token to be removed from the store")
	}
}

func TestAggregator_OverlappingTokenChangesPersistLatest(t *testing.T) {
	ctx := context.Background()
	store := settings.NewMemoryStore()
	agg := New(domain.DefaultConfiguration())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	agg.OnChange(func(prev, cur domain.Configuration) {
		if cur.POToken == "A" {
			once.Do(func() { close(entered) })
			<-release
		}
	})
	agg.OnChange(settings.NewSyncer(store).OnChange)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		agg.Apply(TokenFragment{POToken: "A"})
	}()
	<-entered

	cleared := make(chan struct{})
	go func() {
		defer wg.Done()
		agg.Apply(TokenFragment{POToken: ""})
		close(cleared)
	}()

	select {
	case <-cleared:
		t.Fatal("second change was delivered while the first was still notifying")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	wg.Wait()

	if got := agg.Snapshot().POToken; got != "" {
		t.Errorf("expected cleared snapshot token, got %q", got)
	}
	if v, ok, _ := store.Get(ctx, settings.KeyPOToken); ok {
		t.Errorf("expected token removed from the store, got %q", v)
	}
}
