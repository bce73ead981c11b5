// Package comm runs a fixed number of ranks as goroutines in one process and
// provides the blocking collectives the assembly engine needs: barriers,
// reductions and a point-to-point exchange of indexed values.
package comm

import (
	"context"
	"fmt"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/cannsudemir/ats/utils"
)

// Packet is the unit of point-to-point traffic. Vector exchanges use Row and
// Value, matrix exchanges use Row, Col and Value.
type Packet struct {
	Row, Col int
	Value    float64
}

// World is the shared state of one group of ranks.
type World struct {
	size    int
	ctx     context.Context
	mb      *utils.MailBox[Packet]
	barrier *barrier
	reduce  []float64
}

// Comm is a rank's handle on its World. A nil *Comm is a valid single rank.
type Comm struct {
	world *World
	rank  int
}

// Run starts nranks goroutines executing fn and waits for all of them. The
// first error cancels the remaining ranks; their pending collectives return
// the cancellation error.
func Run(nranks int, fn func(c *Comm) error) error {
	if nranks < 1 {
		return fmt.Errorf("comm.Run: rank count must be positive, got %d", nranks)
	}
	g, ctx := errgroup.WithContext(context.Background())
	w := &World{
		size:    nranks,
		ctx:     ctx,
		mb:      utils.NewMailBox[Packet](nranks),
		barrier: newBarrier(nranks),
		reduce:  make([]float64, nranks),
	}
	for r := 0; r < nranks; r++ {
		c := &Comm{world: w, rank: r}
		g.Go(func() error { return fn(c) })
	}
	return g.Wait()
}

// Serial returns a one-rank Comm that can be used outside of Run.
func Serial() *Comm {
	return &Comm{
		world: &World{
			size:    1,
			ctx:     context.Background(),
			mb:      utils.NewMailBox[Packet](1),
			barrier: newBarrier(1),
			reduce:  make([]float64, 1),
		},
	}
}

func (c *Comm) Rank() int {
	if c == nil {
		return 0
	}
	return c.rank
}

func (c *Comm) Size() int {
	if c == nil {
		return 1
	}
	return c.world.size
}

// Barrier blocks until every rank has reached it.
func (c *Comm) Barrier() error {
	if c == nil || c.world.size == 1 {
		return nil
	}
	return c.world.barrier.wait(c.world.ctx)
}

// Exchange sends out[target] to every target rank and returns the packets
// addressed to this rank together with the sending rank of each. It is a
// collective: every rank must call it, even with nothing to send.
func (c *Comm) Exchange(out map[int][]Packet) (in []Packet, from []int, err error) {
	if c == nil || c.world.size == 1 {
		for target, pkts := range out {
			if target != 0 {
				return nil, nil, fmt.Errorf("comm.Exchange: target rank %d out of range", target)
			}
			in = append(in, pkts...)
			for range pkts {
				from = append(from, 0)
			}
		}
		return
	}
	var (
		w  = c.world
		me = c.rank
	)
	for target, pkts := range out {
		if target < 0 || target >= w.size {
			return nil, nil, fmt.Errorf("comm.Exchange: target rank %d out of range", target)
		}
		if len(pkts) != 0 {
			w.mb.PostMessage(me, target, pkts...)
		}
	}
	w.mb.DeliverMyMessages(me)
	if err = c.Barrier(); err != nil {
		return
	}
	w.mb.ReceiveMyMessages(me)
	msgs, senders := w.mb.Received(me)
	// Order by sender so that sums over received packets are reproducible
	perm := make([]int, len(msgs))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(a, b int) bool { return senders[perm[a]] < senders[perm[b]] })
	in, from = make([]Packet, len(msgs)), make([]int, len(msgs))
	for i, p := range perm {
		in[i], from[i] = msgs[p], senders[p]
	}
	w.mb.ClearMyMessages(me)
	err = c.Barrier()
	return
}

// AllReduceSum returns the sum of v over all ranks.
func (c *Comm) AllReduceSum(v float64) (float64, error) {
	return c.allReduce(v, func(a, b float64) float64 { return a + b })
}

// AllReduceMax returns the maximum of v over all ranks.
func (c *Comm) AllReduceMax(v float64) (float64, error) {
	return c.allReduce(v, math.Max)
}

func (c *Comm) allReduce(v float64, op func(a, b float64) float64) (res float64, err error) {
	if c == nil || c.world.size == 1 {
		return v, nil
	}
	w := c.world
	w.reduce[c.rank] = v
	if err = c.Barrier(); err != nil {
		return
	}
	res = w.reduce[0]
	for r := 1; r < w.size; r++ {
		res = op(res, w.reduce[r])
	}
	// Nobody may overwrite its slot until all ranks have read.
	err = c.Barrier()
	return
}
