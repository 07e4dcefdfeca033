package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"faststart/internal/registry"
)

type stubExpander struct {
	paths []string
	err   error
	calls int
}

func (s *stubExpander) Expand(_ context.Context, raw []string) ([]string, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	if s.paths != nil {
		return s.paths, nil
	}
	return raw, nil
}

type recordingDispatcher struct {
	mu   sync.Mutex
	keys []string
}

func (d *recordingDispatcher) DispatchScan(entry registry.Entry) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.keys = append(d.keys, entry.Key)
}

func (d *recordingDispatcher) dispatched() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.keys...)
}

func TestAdmitEmptyInputIsNoop(t *testing.T) {
	reg := registry.New()
	exp := &stubExpander{}
	disp := &recordingDispatcher{}
	gw := NewGateway(reg, exp, disp, nil)

	if got := gw.Admit(context.Background(), nil); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	if exp.calls != 0 || reg.Len() != 0 || len(disp.dispatched()) != 0 {
		t.Fatal("empty admit must not touch collaborators")
	}
}

func TestAdmitNormalizesDedupesAndDispatches(t *testing.T) {
	reg := registry.New()
	disp := &recordingDispatcher{}
	gw := NewGateway(reg, &stubExpander{paths: []string{
		"/v/a.mp4",
		"/v//a.mp4",
		`/v\b.mp4`,
		"   ",
	}}, disp, nil)

	admitted := gw.Admit(context.Background(), []string{"/v"})
	if len(admitted) != 2 {
		t.Fatalf("expected 2 admitted, got %+v", admitted)
	}
	if admitted[0].Key != "/v/a.mp4" || admitted[1].Key != "/v/b.mp4" {
		t.Fatalf("unexpected keys %s, %s", admitted[0].Key, admitted[1].Key)
	}
	if admitted[1].DisplayName != "b.mp4" || admitted[0].Status != registry.StatusPending {
		t.Fatalf("unexpected entry %+v", admitted[1])
	}
	if got := disp.dispatched(); len(got) != 2 || got[0] != "/v/a.mp4" {
		t.Fatalf("unexpected dispatches %v", got)
	}

	// Re-dropping the same files adds nothing and scans nothing.
	if again := gw.Admit(context.Background(), []string{"/v"}); len(again) != 0 {
		t.Fatalf("expected no new entries, got %+v", again)
	}
	if got := disp.dispatched(); len(got) != 2 {
		t.Fatalf("duplicate drop must not dispatch, got %v", got)
	}
}

func TestAdmitFallsBackToRawPathsOnExpandError(t *testing.T) {
	reg := registry.New()
	disp := &recordingDispatcher{}
	gw := NewGateway(reg, &stubExpander{err: errors.New("boom")}, disp, nil)

	admitted := gw.Admit(context.Background(), []string{"/raw/one.mp4", "/raw/folder/"})
	if len(admitted) != 2 {
		t.Fatalf("expected raw fallback to admit 2, got %+v", admitted)
	}
	if admitted[1].Key != "/raw/folder" || admitted[1].DisplayName != "folder" {
		t.Fatalf("unexpected fallback entry %+v", admitted[1])
	}
	if len(disp.dispatched()) != 2 {
		t.Fatal("fallback entries must still be scanned")
	}
}

func TestConcurrentAdmitOfSameFileAdmitsOnce(t *testing.T) {
	reg := registry.New()
	disp := &recordingDispatcher{}
	gw := NewGateway(reg, nil, disp, nil)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			gw.Admit(context.Background(), []string{"/v/same.mp4"})
		}()
	}
	wg.Wait()
	if reg.Len() != 1 || len(disp.dispatched()) != 1 {
		t.Fatalf("expected one entry and one scan, got %d entries and %d scans", reg.Len(), len(disp.dispatched()))
	}
}
