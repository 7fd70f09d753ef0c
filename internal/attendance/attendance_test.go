package attendance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"focusboard/internal/protocol"
)

type attendanceCall struct {
	sessionID, studentID int64
	attended             bool
}

type fakeStore struct {
	mu         sync.Mutex
	attendance []attendanceCall
	focus      []float64
	ended      map[int64]bool
	err        error
}

func newFakeStore() *fakeStore {
	return &fakeStore{ended: make(map[int64]bool)}
}

func (f *fakeStore) UpsertAttendance(_ context.Context, sessionID, studentID int64, attended bool, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.attendance = append(f.attendance, attendanceCall{sessionID, studentID, attended})
	return nil
}

func (f *fakeStore) UpsertFocus(_ context.Context, _, _ int64, score float64, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.focus = append(f.focus, score)
	return nil
}

func (f *fakeStore) EndSession(_ context.Context, sessionID int64, _ time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	if f.ended[sessionID] {
		return false, nil
	}
	f.ended[sessionID] = true
	return true, nil
}

type recordingSink struct {
	mu       sync.Mutex
	requests []int64
}

func (r *recordingSink) RequestReport(sessionID int64) {
	r.mu.Lock()
	r.requests = append(r.requests, sessionID)
	r.mu.Unlock()
}

type endedSet map[int64]bool

func (e endedSet) MarkEnded(id int64) { e[id] = true }

func TestSynchronizer_JoinAndLeave(t *testing.T) {
	store := newFakeStore()
	s := NewSynchronizer(store, nil, nil, nil)
	ctx := context.Background()

	if err := s.RecordJoin(ctx, 7, 42); err != nil {
		t.Fatalf("RecordJoin() error = %v", err)
	}
	if err := s.RecordLeave(ctx, 7, 42); err != nil {
		t.Fatalf("RecordLeave() error = %v", err)
	}

	want := []attendanceCall{{7, 42, true}, {7, 42, false}}
	if len(store.attendance) != len(want) {
		t.Fatalf("Expected %d upserts, got %d", len(want), len(store.attendance))
	}
	for i := range want {
		if store.attendance[i] != want[i] {
			t.Errorf("upsert %d = %+v, want %+v", i, store.attendance[i], want[i])
		}
	}
}

func TestSynchronizer_RecordFocusRange(t *testing.T) {
	tests := []struct {
		name    string
		score   float64
		wantErr bool
	}{
		{"lower bound", 0, false},
		{"middle", 0.42, false},
		{"upper bound", 1, false},
		{"negative", -0.1, true},
		{"above one", 1.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			s := NewSynchronizer(store, nil, nil, nil)

			err := s.RecordFocus(context.Background(), 7, 42, tt.score)
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("RecordFocus() error = %v", err)
				}
				if len(store.focus) != 1 || store.focus[0] != tt.score {
					t.Errorf("Expected one upsert of %v, got %v", tt.score, store.focus)
				}
				return
			}

			pe, ok := protocol.AsError(err)
			if !ok {
				t.Fatalf("Expected protocol error, got %v", err)
			}
			if pe.Message != protocol.MsgFocusOutOfRange {
				t.Errorf("Message = %q, want %q", pe.Message, protocol.MsgFocusOutOfRange)
			}
			if len(store.focus) != 0 {
				t.Error("Out of range score must not reach the store")
			}
		})
	}
}

func TestSynchronizer_PersistenceErrorIsWrapped(t *testing.T) {
	boom := errors.New("disk full")
	store := newFakeStore()
	store.err = boom
	s := NewSynchronizer(store, nil, nil, nil)

	err := s.RecordFocus(context.Background(), 7, 42, 0.5)
	if !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped store error, got %v", err)
	}
	if _, ok := protocol.AsError(err); ok {
		t.Error("Persistence failure must not look like a protocol error")
	}
}

func TestSynchronizer_EndSessionIdempotent(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	ended := endedSet{}
	s := NewSynchronizer(store, ended, sink, nil)
	ctx := context.Background()

	flipped, err := s.EndSession(ctx, 7)
	if err != nil || !flipped {
		t.Fatalf("first EndSession() = %v, %v; want true, nil", flipped, err)
	}
	flipped, err = s.EndSession(ctx, 7)
	if err != nil || flipped {
		t.Fatalf("second EndSession() = %v, %v; want false, nil", flipped, err)
	}

	if len(sink.requests) != 1 || sink.requests[0] != 7 {
		t.Errorf("Expected exactly one report request for session 7, got %v", sink.requests)
	}
	if !ended[7] {
		t.Error("Session should be marked ended")
	}
}

func TestSynchronizer_EndSessionConcurrent(t *testing.T) {
	store := newFakeStore()
	sink := &recordingSink{}
	s := NewSynchronizer(store, nil, sink, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.EndSession(context.Background(), 9)
		}()
	}
	wg.Wait()

	if len(sink.requests) != 1 {
		t.Errorf("Expected 1 report request, got %d", len(sink.requests))
	}
}

func TestSynchronizer_EndSessionError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("locked")
	sink := &recordingSink{}
	ended := endedSet{}
	s := NewSynchronizer(store, ended, sink, nil)

	if _, err := s.EndSession(context.Background(), 7); err == nil {
		t.Fatal("Expected error")
	}
	if len(sink.requests) != 0 || ended[7] {
		t.Error("Failed end must not request a report or mark the session ended")
	}
}
