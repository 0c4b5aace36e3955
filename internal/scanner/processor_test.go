// File: internal/scanner/processor_test.go
package scanner

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/config"
)

func transferData(lamports uint64) solana.Base58 {
	data := make([]byte, systemTransferDataLen)
	binary.LittleEndian.PutUint32(data[:4], systemTransferIndex)
	binary.LittleEndian.PutUint64(data[4:], lamports)
	return solana.Base58(data)
}

func TestDecodeLamportTransfer(t *testing.T) {
	from := newKey()
	to := newKey()
	keys := []solana.PublicKey{from, to, solana.SystemProgramID}

	transfer, ok, err := decodeLamportTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{0, 1},
		Data:           transferData(500_000_000),
	}, keys)

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, from, transfer.From)
	assert.Equal(t, to, transfer.To)
	assert.Equal(t, uint64(500_000_000), transfer.Lamports)
}

func TestDecodeLamportTransferIgnoresOtherPrograms(t *testing.T) {
	keys := []solana.PublicKey{newKey(), newKey(), newKey()}

	_, ok, err := decodeLamportTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{0, 1},
		Data:           transferData(1),
	}, keys)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeLamportTransferIgnoresOtherSystemInstructions(t *testing.T) {
	keys := []solana.PublicKey{newKey(), newKey(), solana.SystemProgramID}

	// CreateAccount has discriminator 0 and a longer payload
	data := make([]byte, 52)
	binary.LittleEndian.PutUint32(data[:4], 0)

	_, ok, err := decodeLamportTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{0, 1},
		Data:           solana.Base58(data),
	}, keys)

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDecodeLamportTransferRejectsBadIndices(t *testing.T) {
	keys := []solana.PublicKey{newKey(), solana.SystemProgramID}

	_, _, err := decodeLamportTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 1,
		Accounts:       []uint16{0, 9},
		Data:           transferData(1),
	}, keys)
	assert.Error(t, err)

	_, _, err = decodeLamportTransfer(solana.CompiledInstruction{
		ProgramIDIndex: 9,
		Accounts:       []uint16{0, 1},
		Data:           transferData(1),
	}, keys)
	assert.Error(t, err)
}

func TestResolveInstruction(t *testing.T) {
	program := newKey()
	a := newKey()
	b := newKey()
	keys := []solana.PublicKey{a, b, program}

	view, err := resolveInstruction(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{1, 0},
	}, keys)

	require.NoError(t, err)
	assert.Equal(t, program, view.ProgramID)
	require.Len(t, view.Accounts, 2)
	assert.Equal(t, b, view.Accounts[0])
	assert.Equal(t, a, view.Accounts[1])

	_, err = resolveInstruction(solana.CompiledInstruction{
		ProgramIDIndex: 2,
		Accounts:       []uint16{7},
	}, keys)
	assert.Error(t, err)
}

func TestProcessTreatsSkippedSlotAsEmpty(t *testing.T) {
	cfg := testScannerConfig()
	processor, err := NewProcessor(&fakeReader{}, cfg, &config.SolanaConfig{
		ProgramID: newKey().String(),
	})
	require.NoError(t, err)

	// fakeReader.GetBlock returns ErrSlotSkipped for every slot
	events, err := processor.Process(context.Background(), 42)
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestNewProcessorRejectsBadProgramID(t *testing.T) {
	_, err := NewProcessor(&fakeReader{}, testScannerConfig(), &config.SolanaConfig{
		ProgramID: "not-a-pubkey",
	})
	assert.Error(t, err)
}
