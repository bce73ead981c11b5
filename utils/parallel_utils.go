package utils

import (
	"fmt"
	"sort"
)

// DynBuffer is an append-only buffer that can be reset without releasing
// its storage.
type DynBuffer[T any] struct {
	cells []T
}

func NewDynBuffer[T any](capacity int) *DynBuffer[T] {
	return &DynBuffer[T]{cells: make([]T, 0, capacity)}
}

func (db *DynBuffer[T]) Add(items ...T) { db.cells = append(db.cells, items...) }
func (db *DynBuffer[T]) Cells() []T     { return db.cells }
func (db *DynBuffer[T]) Len() int       { return len(db.cells) }
func (db *DynBuffer[T]) Reset()         { db.cells = db.cells[:0] }

// MailBox moves messages between NP workers sharing one address space.
// The calling pattern for one round is:
//
//	for range messages {Post}; Deliver; barrier; Receive; barrier; Clear
//
// The second barrier is required because Receive resets the sender's
// outgoing buffer, which the sender may not refill until it is drained.
type MailBox[T any] struct {
	NP           int
	MessageChans []chan *envelope[T]     // One for each worker
	PostMsgQs    []map[int]*DynBuffer[T] // One for each worker, key is target worker
	ReceiveMsgQs []*DynBuffer[T]         // One for each worker
	FromQs       []*DynBuffer[int]       // Sender of each received message
	MailFlag     []bool                  // Worker has messages in its outbox
}

type envelope[T any] struct {
	from int
	buf  *DynBuffer[T]
}

func NewMailBox[T any](NP int) *MailBox[T] {
	mb := &MailBox[T]{
		NP:           NP,
		MessageChans: make([]chan *envelope[T], NP),
		PostMsgQs:    make([]map[int]*DynBuffer[T], NP),
		ReceiveMsgQs: make([]*DynBuffer[T], NP),
		FromQs:       make([]*DynBuffer[int], NP),
		MailFlag:     make([]bool, NP),
	}
	for n := 0; n < NP; n++ {
		mb.MessageChans[n] = make(chan *envelope[T], NP) // Worst case is all-to-all
		mb.PostMsgQs[n] = make(map[int]*DynBuffer[T])
		mb.ReceiveMsgQs[n] = NewDynBuffer[T](0)
		mb.FromQs[n] = NewDynBuffer[int](0)
	}
	return mb
}

func (mb *MailBox[T]) PostMessage(myWorker, targetWorker int, msg ...T) {
	if targetWorker < 0 || targetWorker > mb.NP-1 {
		panic(fmt.Sprintf("target worker %d out of bounds", targetWorker))
	}
	tgt, exists := mb.PostMsgQs[myWorker][targetWorker]
	if !exists {
		tgt = NewDynBuffer[T](len(msg))
		mb.PostMsgQs[myWorker][targetWorker] = tgt
	}
	tgt.Add(msg...)
	mb.MailFlag[myWorker] = true
}

func (mb *MailBox[T]) DeliverMyMessages(myWorker int) {
	if !mb.MailFlag[myWorker] {
		return
	}
	for targetWorker, msgBuffer := range mb.PostMsgQs[myWorker] {
		if msgBuffer.Len() == 0 {
			continue
		}
		mb.MessageChans[targetWorker] <- &envelope[T]{from: myWorker, buf: msgBuffer}
	}
	mb.MailFlag[myWorker] = false
}

// ReceiveMyMessages drains the inbox of myWorker. It must only be called
// after every worker has returned from DeliverMyMessages.
func (mb *MailBox[T]) ReceiveMyMessages(myWorker int) {
	for {
		select {
		case env := <-mb.MessageChans[myWorker]:
			for _, msg := range env.buf.Cells() {
				mb.ReceiveMsgQs[myWorker].Add(msg)
				mb.FromQs[myWorker].Add(env.from)
			}
			env.buf.Reset() // Reset the originating buffer
		default:
			return
		}
	}
}

// Received returns the messages received by myWorker and their senders.
func (mb *MailBox[T]) Received(myWorker int) (msgs []T, from []int) {
	return mb.ReceiveMsgQs[myWorker].Cells(), mb.FromQs[myWorker].Cells()
}

func (mb *MailBox[T]) ClearMyMessages(myWorker int) {
	mb.ReceiveMsgQs[myWorker].Reset()
	mb.FromQs[myWorker].Reset()
}

// PartitionMap splits [0, MaxIndex) into ParallelDegree contiguous buckets
// with a maximum imbalance of one item.
type PartitionMap struct {
	MaxIndex       int
	ParallelDegree int
	Partitions     [][2]int // Beginning and end index of partitions
}

func NewPartitionMap(ParallelDegree, maxIndex int) (pm *PartitionMap) {
	pm = &PartitionMap{
		MaxIndex:       maxIndex,
		ParallelDegree: ParallelDegree,
		Partitions:     make([][2]int, ParallelDegree),
	}
	for n := 0; n < ParallelDegree; n++ {
		pm.Partitions[n] = pm.Split1D(n)
	}
	return
}

// GetBucket returns the bucket holding index k and its [min, max) range, or
// bucket -1 when k is outside [0, MaxIndex).
func (pm *PartitionMap) GetBucket(k int) (bucketNum, min, max int) {
	if k < 0 || k >= pm.MaxIndex {
		return -1, 0, 0
	}
	// Buckets are contiguous and ascending, the first one ending past k holds it
	bucketNum = sort.Search(pm.ParallelDegree, func(bn int) bool { return pm.Partitions[bn][1] > k })
	min, max = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) GetBucketRange(bucketNum int) (kMin, kMax int) {
	kMin, kMax = pm.Partitions[bucketNum][0], pm.Partitions[bucketNum][1]
	return
}

func (pm *PartitionMap) Split1D(threadNum int) (bucket [2]int) {
	var (
		Npart            = pm.MaxIndex / (pm.ParallelDegree)
		startAdd, endAdd int
		remainder        int
	)
	remainder = pm.MaxIndex % pm.ParallelDegree
	if remainder != 0 { // spread the remainder over the first chunks evenly
		if threadNum+1 > remainder {
			startAdd = remainder
			endAdd = 0
		} else {
			startAdd = threadNum
			endAdd = 1
		}
	}
	bucket[0] = threadNum*Npart + startAdd
	bucket[1] = bucket[0] + Npart + endAdd
	return
}
