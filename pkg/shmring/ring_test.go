package shmring

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOpen_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring")

	producer, err := Create(path, 1024, 8)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := Open(path, 8)
	require.NoError(t, err)
	defer consumer.mm.Unmap()
	defer consumer.file.Close()

	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 42)
	_, err = producer.TrySend(buf)
	require.NoError(t, err)

	received := false
	n := consumer.Receive(func(slot []byte) {
		assert.Equal(t, uint64(42), binary.LittleEndian.Uint64(slot))
		received = true
	})
	assert.Equal(t, 1, n)
	assert.True(t, received)
}

func TestReceive_BatchSum(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring-batch")

	producer, err := Create(path, 1024, 8)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := Open(path, 8)
	require.NoError(t, err)
	defer consumer.mm.Unmap()
	defer consumer.file.Close()

	for i := uint64(0); i < 100; i++ {
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, i)
		_, err := producer.TrySend(buf)
		require.NoError(t, err)
	}

	var sum uint64
	count := consumer.Receive(func(slot []byte) {
		sum += binary.LittleEndian.Uint64(slot)
	})
	assert.Equal(t, 100, count)
	assert.Equal(t, uint64(100*99/2), sum)
}

func TestOpen_RejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a-ring")
	require.NoError(t, writeGarbageFile(path, headerSize+64))

	_, err := Open(path, 8)
	assert.ErrorIs(t, err, ErrBadMagic)
}

func TestOpen_RejectsSlotSizeMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring-mismatch")

	producer, err := Create(path, 64, 8)
	require.NoError(t, err)
	defer producer.Close()

	_, err = Open(path, 16)
	assert.ErrorIs(t, err, ErrSlotSizeMismatch)
}

func TestCreate_RejectsNonPowerOfTwoCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring-bad-cap")
	_, err := Create(path, 3, 8)
	assert.ErrorIs(t, err, ErrInvalidCapacity)
}

func TestTryClaim_WouldBlockWithoutConsumer(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring-full")

	producer, err := Create(path, 4, 8)
	require.NoError(t, err)
	defer producer.Close()

	for i := 0; i < 4; i++ {
		_, err := producer.TrySend(make([]byte, 8))
		require.NoError(t, err)
	}
	_, err = producer.TrySend(make([]byte, 8))
	assert.ErrorIs(t, err, ErrWouldBlock)
}

func TestTrySend_RejectsConsumerHandle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ring-consumer")

	producer, err := Create(path, 4, 8)
	require.NoError(t, err)
	defer producer.Close()

	consumer, err := Open(path, 8)
	require.NoError(t, err)
	defer consumer.mm.Unmap()
	defer consumer.file.Close()

	_, err = consumer.TrySend(make([]byte, 8))
	assert.ErrorIs(t, err, ErrNotProducer)
}

func writeGarbageFile(path string, size int) error {
	b := make([]byte, size)
	return os.WriteFile(path, b, 0o644)
}
