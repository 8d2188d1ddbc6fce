package kdevice

import "sync/atomic"

// AtomicBool is an int32 used as an atomic bool, the same representation
// the teacher's misc.go uses since booleans have no native atomic ops.
type AtomicBool struct {
	flag int32
}

const (
	atomicFalse = int32(iota)
	atomicTrue
)

func (a *AtomicBool) Get() bool {
	return atomic.LoadInt32(&a.flag) == atomicTrue
}

func (a *AtomicBool) Set(val bool) {
	flag := atomicFalse
	if val {
		flag = atomicTrue
	}
	atomic.StoreInt32(&a.flag, flag)
}
