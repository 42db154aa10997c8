package models

import "sync/atomic"

// UploadSlot admits at most one upload at a time server-wide. A second attempt is
// refused immediately, never queued.
type UploadSlot struct {
	busy atomic.Bool
}

func NewUploadSlot() *UploadSlot {
	return &UploadSlot{}
}

// TryAcquire takes the slot, returning false if an upload is already in progress.
func (s *UploadSlot) TryAcquire() bool {
	return s.busy.CompareAndSwap(false, true)
}

func (s *UploadSlot) Release() {
	s.busy.Store(false)
}

func (s *UploadSlot) InProgress() bool {
	return s.busy.Load()
}
