package failover

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/ngoclaw/llm-interactive-proxy/internal/domain/session"
)

type fakeKeys map[string][]Key

func (f fakeKeys) KeysForBackend(backend string) []Key { return f[backend] }

func routeState(t *testing.T, model string, policy session.FailoverPolicy, elements ...string) *session.State {
	t.Helper()
	s := session.Default()
	s, err := s.WithFailoverRoute(model, policy)
	if err != nil {
		t.Fatalf("WithFailoverRoute: %v", err)
	}
	for _, el := range elements {
		s, err = s.WithRouteElementAppended(model, el)
		if err != nil {
			t.Fatalf("WithRouteElementAppended: %v", err)
		}
	}
	return s
}

func TestBuildAttempts_KeyFan(t *testing.T) {
	s := routeState(t, "gpt-4", session.PolicyKeyFan, "openrouter:a")
	keys := fakeKeys{"openrouter": {{Name: "K1"}, {Name: "K2"}}}

	got := BuildAttempts(s, "gpt-4", keys)
	if len(got) != 2 {
		t.Fatalf("want 2 attempts, got %d: %+v", len(got), got)
	}
	if got[0].KeyName != "K1" || got[1].KeyName != "K2" {
		t.Fatalf("unexpected key order: %+v", got)
	}
	for _, a := range got {
		if a.Backend != "openrouter" || a.Model != "a" {
			t.Fatalf("unexpected attempt: %+v", a)
		}
	}
}

func TestBuildAttempts_ModelFan(t *testing.T) {
	s := routeState(t, "gpt-4", session.PolicyModelFan, "openrouter:a", "gemini:b")
	keys := fakeKeys{
		"openrouter": {{Name: "K1"}, {Name: "K2"}},
		"gemini":     {{Name: "K3"}},
	}

	got := BuildAttempts(s, "gpt-4", keys)
	if len(got) != 2 {
		t.Fatalf("want 2 attempts (one per element), got %d", len(got))
	}
	if got[0].Backend != "openrouter" || got[0].KeyName != "K1" {
		t.Fatalf("unexpected first attempt: %+v", got[0])
	}
	if got[1].Backend != "gemini" || got[1].KeyName != "K3" {
		t.Fatalf("unexpected second attempt: %+v", got[1])
	}
}

func TestBuildAttempts_KeysThenModels(t *testing.T) {
	// spec.md scenario 3: km route, openrouter:a (2 keys), gemini:b (1 key)
	s := routeState(t, "gpt-4", session.PolicyKeysModels, "openrouter:a", "gemini:b")
	keys := fakeKeys{
		"openrouter": {{Name: "K1"}, {Name: "K2"}},
		"gemini":     {{Name: "K3"}},
	}

	got := BuildAttempts(s, "gpt-4", keys)
	want := []Attempt{
		{Backend: "openrouter", Model: "a", KeyName: "K1"},
		{Backend: "openrouter", Model: "a", KeyName: "K2"},
		{Backend: "gemini", Model: "b", KeyName: "K3"},
	}
	if len(got) != len(want) {
		t.Fatalf("want %d attempts, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i].Backend != want[i].Backend || got[i].Model != want[i].Model || got[i].KeyName != want[i].KeyName {
			t.Fatalf("attempt %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildAttempts_ModelsThenKeys(t *testing.T) {
	s := routeState(t, "gpt-4", session.PolicyModelsKeys, "openrouter:a", "gemini:b")
	keys := fakeKeys{
		"openrouter": {{Name: "K1"}, {Name: "K2"}},
		"gemini":     {{Name: "K3"}},
	}

	got := BuildAttempts(s, "gpt-4", keys)
	// i=0: openrouter/K1, gemini/K3 ; i=1: openrouter/K2 only (gemini has no 2nd key)
	want := []Attempt{
		{Backend: "openrouter", Model: "a", KeyName: "K1"},
		{Backend: "gemini", Model: "b", KeyName: "K3"},
		{Backend: "openrouter", Model: "a", KeyName: "K2"},
	}
	if len(got) != len(want) {
		t.Fatalf("want %d attempts, got %d: %+v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("attempt %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestBuildAttempts_NoRoute(t *testing.T) {
	s := session.Default()
	s = s.WithBackend("openrouter", "")
	keys := fakeKeys{"openrouter": {{Name: "K1", Value: "v1"}}}

	got := BuildAttempts(s, "gpt-4", keys)
	if len(got) != 1 || got[0].Backend != "openrouter" || got[0].Model != "gpt-4" || got[0].KeyName != "K1" {
		t.Fatalf("unexpected default attempt: %+v", got)
	}
}

type fakeLimiter struct {
	limited map[string]time.Time
}

func (f *fakeLimiter) CheckLimit(key string) LimitInfo {
	if reset, ok := f.limited[key]; ok {
		return LimitInfo{IsLimited: true, ResetAt: reset}
	}
	return LimitInfo{}
}

func (f *fakeLimiter) RecordRetryAfter(key string, retryAfter time.Duration) {
	if f.limited == nil {
		f.limited = map[string]time.Time{}
	}
	f.limited[key] = time.Now().Add(retryAfter)
}

type scriptedDialer struct {
	results map[string]error // keyed by Backend+Model+KeyName
	calls   []Attempt
}

func (d *scriptedDialer) Dial(_ context.Context, a Attempt) (*Result, error) {
	d.calls = append(d.calls, a)
	key := a.Backend + a.Model + a.KeyName
	if err, ok := d.results[key]; ok && err != nil {
		return nil, err
	}
	return &Result{Payload: key}, nil
}

func TestCoordinator_SucceedsOnThirdAttempt(t *testing.T) {
	limiter := &fakeLimiter{}
	dialer := &scriptedDialer{results: map[string]error{
		"openrouteraK1": fmt.Errorf("429 rate limit"),
		"openrouteraK2": fmt.Errorf("429 rate limit"),
	}}
	c := New(limiter, dialer)

	attempts := []Attempt{
		{Backend: "openrouter", Model: "a", KeyName: "K1"},
		{Backend: "openrouter", Model: "a", KeyName: "K2"},
		{Backend: "gemini", Model: "b", KeyName: "K3"},
	}

	res, err := c.Run(context.Background(), attempts)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Payload != "geminibK3" {
		t.Fatalf("unexpected payload %v", res.Payload)
	}
	if len(dialer.calls) != 3 {
		t.Fatalf("want 3 dial attempts, got %d", len(dialer.calls))
	}
}

func TestCoordinator_AllRateLimited(t *testing.T) {
	reset := time.Now().Add(5 * time.Second)
	limiter := &fakeLimiter{limited: map[string]time.Time{
		"openrouter|a|K1": reset,
		"gemini|b|K3":     reset,
	}}
	dialer := &scriptedDialer{}
	c := New(limiter, dialer)

	attempts := []Attempt{
		{Backend: "openrouter", Model: "a", KeyName: "K1"},
		{Backend: "gemini", Model: "b", KeyName: "K3"},
	}

	_, err := c.Run(context.Background(), attempts)
	if err == nil {
		t.Fatal("expected rate-limit error")
	}
	rle, ok := err.(*RateLimitedError)
	if !ok {
		t.Fatalf("expected *RateLimitedError, got %T: %v", err, err)
	}
	if rle.RetryAfter <= 0 {
		t.Fatalf("expected positive retry-after, got %v", rle.RetryAfter)
	}
	if len(dialer.calls) != 0 {
		t.Fatalf("no attempts should have dialed, got %d", len(dialer.calls))
	}
}

func TestCoordinator_NonRetryableAbortsEarly(t *testing.T) {
	limiter := &fakeLimiter{}
	dialer := &scriptedDialer{results: map[string]error{
		"openrouteraK1": fmt.Errorf("401 unauthorized"),
	}}
	c := New(limiter, dialer)

	attempts := []Attempt{
		{Backend: "openrouter", Model: "a", KeyName: "K1"},
		{Backend: "gemini", Model: "b", KeyName: "K3"},
	}

	_, err := c.Run(context.Background(), attempts)
	if err == nil {
		t.Fatal("expected error")
	}
	if len(dialer.calls) != 1 {
		t.Fatalf("should have stopped after the non-retryable attempt, got %d calls", len(dialer.calls))
	}
}
