// Package mempool recycles the float32 buffers that carry model inputs and
// saliency maps between requests.
package mempool

import (
	"sync"
	"sync/atomic"
)

// classStep is the granularity of buffer capacities. Model inputs are square
// planes, so repeated requests for one model land in the same class.
const classStep = 4096

var (
	pools sync.Map // capacity class -> *sync.Pool
	gets  atomic.Int64
	puts  atomic.Int64
)

func classFor(n int) int {
	if n <= classStep {
		return classStep
	}
	return (n + classStep - 1) / classStep * classStep
}

func poolFor(class int) *sync.Pool {
	if p, ok := pools.Load(class); ok {
		return p.(*sync.Pool)
	}
	p, _ := pools.LoadOrStore(class, &sync.Pool{
		New: func() any {
			buf := make([]float32, class)
			return &buf
		},
	})
	return p.(*sync.Pool)
}

// Get returns a buffer of length n. Contents are not zeroed; callers
// overwrite every element. Return it with Put when done.
func Get(n int) []float32 {
	if n <= 0 {
		return nil
	}
	gets.Add(1)
	bp := poolFor(classFor(n)).Get().(*[]float32)
	return (*bp)[:n]
}

// Put hands buf back for reuse. Buffers that did not come from Get are dropped.
func Put(buf []float32) {
	c := cap(buf)
	if c == 0 || c%classStep != 0 {
		return
	}
	puts.Add(1)
	buf = buf[:c]
	poolFor(c).Put(&buf)
}

// Stats counts pool traffic since process start.
type Stats struct {
	Gets int64
	Puts int64
}

// Usage returns the cumulative Get and Put counts.
func Usage() Stats {
	return Stats{Gets: gets.Load(), Puts: puts.Load()}
}
