package dispatch

import (
	"container/heap"
	"testing"
	"time"
)

func TestTimerHeapOrdersByDeadline(t *testing.T) {
	now := time.Now()
	h := &timerHeap{}
	heap.Init(h)
	heap.Push(h, &timer{deadline: now.Add(30 * time.Millisecond), id: 1})
	heap.Push(h, &timer{deadline: now.Add(10 * time.Millisecond), id: 2})
	heap.Push(h, &timer{deadline: now.Add(20 * time.Millisecond), id: 3})

	var order []int
	for h.Len() > 0 {
		order = append(order, heap.Pop(h).(*timer).id)
	}

	want := []int{2, 3, 1}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestTimerHeapRemoveByIndex(t *testing.T) {
	now := time.Now()
	h := &timerHeap{}
	heap.Init(h)
	a := &timer{deadline: now.Add(10 * time.Millisecond), id: 1}
	b := &timer{deadline: now.Add(20 * time.Millisecond), id: 2}
	heap.Push(h, a)
	heap.Push(h, b)

	heap.Remove(h, a.index)

	if h.Len() != 1 {
		t.Fatalf("len = %d, want 1", h.Len())
	}
	if (*h)[0].id != 2 {
		t.Errorf("remaining id = %d, want 2", (*h)[0].id)
	}
}
