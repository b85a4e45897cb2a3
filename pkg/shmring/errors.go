package shmring

import "errors"

var (
	// ErrInvalidCapacity mirrors ringbuffer.ErrInvalidCapacity: capacity must
	// be a power of two greater than zero.
	ErrInvalidCapacity = errors.New("shmring: capacity must be a power of 2 and greater than 0")

	// ErrFileTooSmall is returned by Open when the backing file is smaller
	// than the fixed header.
	ErrFileTooSmall = errors.New("shmring: file too small for header")

	// ErrBadMagic is returned by Open when the file was not created by this
	// package (or is corrupt).
	ErrBadMagic = errors.New("shmring: bad magic number")

	// ErrVersionMismatch is returned by Open when the file's format version
	// does not match this build's.
	ErrVersionMismatch = errors.New("shmring: format version mismatch")

	// ErrSlotSizeMismatch is returned by Open when the caller's expected
	// slot size does not match the value stored in the file header.
	ErrSlotSizeMismatch = errors.New("shmring: slot size mismatch")

	// ErrPayloadTooLarge is returned by WriteSlot when data exceeds the
	// ring's fixed slot size.
	ErrPayloadTooLarge = errors.New("shmring: payload exceeds slot size")

	// ErrWouldBlock is returned by TrySend when the producer has outrun the
	// consumer by a full capacity's worth of unconsumed slots (TryClaim
	// reports the same condition as ok=false).
	ErrWouldBlock = errors.New("shmring: would block")

	// ErrNotProducer guards the producer-exclusive half of the API against
	// a consumer handle.
	ErrNotProducer = errors.New("shmring: operation requires the producer handle")
)
