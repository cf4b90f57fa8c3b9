package events

import "testing"

func TestRegistryDispatchOrder(t *testing.T) {
	r := NewRegistry[int]()
	var got []string

	r.Subscribe(func(v int) { got = append(got, "a") })
	r.Subscribe(func(v int) { got = append(got, "b") })
	r.Subscribe(func(v int) { got = append(got, "c") })

	r.Dispatch(1)

	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("dispatch order = %v", got)
	}
}

func TestRegistryUnsubscribe(t *testing.T) {
	r := NewRegistry[string]()
	calls := 0

	unsub := r.Subscribe(func(string) { calls++ })
	r.Dispatch("x")
	unsub()
	unsub()
	r.Dispatch("y")

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if r.Len() != 0 {
		t.Errorf("Len() = %d, want 0", r.Len())
	}
}

func TestRegistryUnsubscribeDuringDispatch(t *testing.T) {
	r := NewRegistry[int]()
	var unsub func()
	calls := 0
	unsub = r.Subscribe(func(int) {
		calls++
		unsub()
	})

	r.Dispatch(1)
	r.Dispatch(2)

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
