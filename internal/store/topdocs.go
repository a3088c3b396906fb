package store

import (
	"container/heap"
)

// collectTop returns the n best hits of scores ranked strictly after the
// optional after hit.
func collectTop(scores map[int]float64, after *ScoreDoc, n int) []ScoreDoc {
	h := &scoreDocHeap{}
	heap.Init(h)
	for doc, score := range scores {
		sd := ScoreDoc{Doc: doc, Score: roundScore(score)}
		if after != nil && !before(*after, sd) {
			continue
		}
		if h.Len() < n {
			heap.Push(h, sd)
			continue
		}
		if before(sd, (*h)[0]) {
			(*h)[0] = sd
			heap.Fix(h, 0)
		}
	}
	result := make([]ScoreDoc, h.Len())
	for i := len(result) - 1; i >= 0; i-- {
		result[i] = heap.Pop(h).(ScoreDoc)
	}
	return result
}

// scoreDocHeap keeps the worst retained hit at the root.
type scoreDocHeap []ScoreDoc

func (h scoreDocHeap) Len() int { return len(h) }

func (h scoreDocHeap) Less(i, j int) bool { return before(h[j], h[i]) }

func (h scoreDocHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *scoreDocHeap) Push(x interface{}) {
	*h = append(*h, x.(ScoreDoc))
}

func (h *scoreDocHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
