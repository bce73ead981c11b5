package utils

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPartitionMap(t *testing.T) {
	{ // Bucket sizes
		getHisto := func(K, Np int) (histo map[int]int) {
			pm := NewPartitionMap(Np, K)
			histo = make(map[int]int)
			for np := 0; np < pm.ParallelDegree; np++ {
				kMin, kMax := pm.GetBucketRange(np)
				histo[kMax-kMin]++
			}
			return
		}
		getTotal := func(histo map[int]int) (total int) {
			for key, count := range histo {
				total += key * count
			}
			return
		}
		assert.Equal(t, map[int]int{0: 30, 1: 2}, getHisto(2, 32))
		assert.Equal(t, map[int]int{1: 32}, getHisto(32, 32))
		assert.Equal(t, map[int]int{8: 32}, getHisto(256, 32))
		assert.Equal(t, map[int]int{8: 1, 9: 31}, getHisto(287, 32))
		assert.Equal(t, 287, getTotal(getHisto(287, 32)))
		for n := 64; n < 2000; n++ {
			var (
				keys   [2]float64
				keyNum int
			)
			histo := getHisto(n, 32)
			for key := range histo {
				keys[keyNum] = float64(key)
				keyNum++
			}
			if keyNum == 2 {
				assert.Equal(t, 1., math.Abs(keys[0]-keys[1])) // Maximum imbalance of 1
			}
			assert.Equal(t, n, getTotal(histo))
		}
	}
	{ // Bucket lookup, including empty buckets when there are more buckets than items
		for _, np := range []int{1, 5, 32} {
			for maxIndex := 1; maxIndex < 200; maxIndex++ {
				pm := NewPartitionMap(np, maxIndex)
				last := 0
				for k := 0; k < maxIndex; k++ {
					bn, min, max := pm.GetBucket(k)
					mmin, mmax := pm.GetBucketRange(bn)
					assert.True(t, k >= min && k < max && min == mmin && max == mmax, "k %d of %d in %d buckets", k, maxIndex, np)
					assert.GreaterOrEqual(t, bn, last)
					last = bn
				}
				bn, _, _ := pm.GetBucket(maxIndex)
				assert.Equal(t, -1, bn)
				bn, _, _ = pm.GetBucket(-1)
				assert.Equal(t, -1, bn)
			}
		}
	}
	{ // Empty ranges
		pm := NewPartitionMap(3, 0)
		bn, _, _ := pm.GetBucket(0)
		assert.Equal(t, -1, bn)
	}
}

func TestMailBox(t *testing.T) {
	const NP = 4
	var (
		mb       = NewMailBox[int](NP)
		wg       sync.WaitGroup
		start    sync.WaitGroup
		received = make([][]int, NP)
		senders  = make([][]int, NP)
	)
	start.Add(NP)
	wg.Add(NP)
	for me := 0; me < NP; me++ {
		go func(me int) {
			defer wg.Done()
			// Every worker sends its number to each higher-numbered worker
			for target := me + 1; target < NP; target++ {
				mb.PostMessage(me, target, 10*me+target)
			}
			mb.DeliverMyMessages(me)
			start.Done()
			start.Wait()
			mb.ReceiveMyMessages(me)
			msgs, from := mb.Received(me)
			received[me] = append([]int(nil), msgs...)
			senders[me] = append([]int(nil), from...)
		}(me)
	}
	wg.Wait()
	for me := 0; me < NP; me++ {
		assert.Len(t, received[me], me)
		for i, msg := range received[me] {
			assert.Equal(t, 10*senders[me][i]+me, msg)
		}
		mb.ClearMyMessages(me)
		msgs, from := mb.Received(me)
		assert.Empty(t, msgs)
		assert.Empty(t, from)
	}
	assert.Panics(t, func() { mb.PostMessage(0, NP, 1) })
}
