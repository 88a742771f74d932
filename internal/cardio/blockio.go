// Package cardio implements the Block I/O Engine: chunked reads and
// writes across MIFARE-style block boundaries, fanned out concurrently
// and reassembled in request order.
package cardio

import (
	"sync"

	"github.com/cardkit/nfc-agent/internal/apdu"
	"github.com/cardkit/nfc-agent/internal/cardcore"
)

// Defaults shaped for MIFARE Classic; other tags may require different
// values, so every function below takes them as parameters rather than
// hardcoding these constants internally.
const (
	DefaultBlockSize  = 4
	DefaultPacketSize = 16
	DefaultReadClass  = 0xFF
)

// Transmitter is the minimal capability Read/Write need from a Reader
// Session: issue an APDU and get back the raw response bytes.
type Transmitter interface {
	Transmit(cmd []byte) ([]byte, error)
}

type subReadResult struct {
	data []byte
	err  error
}

// Read performs a (possibly paged) Read Binary starting at block, for a
// total of length bytes, per spec §4.3.
func Read(t Transmitter, block uint16, length int, blockSize, packetSize int, readClass byte) ([]byte, error) {
	if length <= packetSize {
		return readOne(t, block, length, readClass)
	}

	n := (length + packetSize - 1) / packetSize
	results := make([]subReadResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			startBlock := block + uint16(i*packetSize/blockSize)
			remaining := length - i*packetSize
			subLen := packetSize
			if remaining < subLen {
				subLen = remaining
			}
			data, err := readOne(t, startBlock, subLen, readClass)
			results[i] = subReadResult{data: data, err: err}
		}()
	}
	wg.Wait()

	out := make([]byte, 0, length)
	for _, r := range results {
		if r.err != nil {
			return nil, r.err
		}
	}
	for _, r := range results {
		out = append(out, r.data...)
	}
	return out, nil
}

func readOne(t Transmitter, block uint16, length int, readClass byte) ([]byte, error) {
	cmd := apdu.ReadBinary(readClass, block, byte(length))
	raw, err := t.Transmit(cmd)
	if err != nil {
		return nil, cardcore.NewReadError(cardcore.CodeFailure, "transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return nil, err
	}
	if !resp.Success() {
		return nil, cardcore.NewReadError(cardcore.CodeOperationFailed, cardcore.StatusWordMessage(resp.Status), nil)
	}
	return resp.Data, nil
}

type subWriteResult struct {
	err error
}

// Write performs a (possibly paged) Update Binary starting at block, per
// spec §4.3. data's length must be a positive multiple of blockSize.
func Write(t Transmitter, block uint16, data []byte, blockSize int) (bool, error) {
	if len(data) < blockSize || len(data)%blockSize != 0 {
		return false, cardcore.NewWriteError(cardcore.CodeInvalidDataLength, "data length must be a positive multiple of block size", nil)
	}

	if len(data) == blockSize {
		return writeOne(t, block, data)
	}

	n := len(data) / blockSize
	results := make([]subWriteResult, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunk := data[i*blockSize : (i+1)*blockSize]
			_, err := writeOne(t, block+uint16(i), chunk)
			results[i] = subWriteResult{err: err}
		}()
	}
	wg.Wait()

	for _, r := range results {
		if r.err != nil {
			return false, r.err
		}
	}
	return true, nil
}

func writeOne(t Transmitter, block uint16, data []byte) (bool, error) {
	cmd := apdu.UpdateBinary(byte(block), data)
	raw, err := t.Transmit(cmd)
	if err != nil {
		return false, cardcore.NewWriteError(cardcore.CodeFailure, "transmit failed", err)
	}
	resp, err := apdu.Parse(raw)
	if err != nil {
		return false, err
	}
	if !resp.Success() {
		return false, cardcore.NewWriteError(cardcore.CodeOperationFailed, cardcore.StatusWordMessage(resp.Status), nil)
	}
	return true, nil
}
