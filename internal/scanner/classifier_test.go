// File: internal/scanner/classifier_test.go
package scanner

import (
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
)

func testScannerConfig() *config.ScannerConfig {
	return &config.ScannerConfig{
		Name:              "test",
		WindowSize:        8,
		EntityIndex:       0,
		TransferFromIndex: 1,
		TransferToIndex:   2,
	}
}

func newKey() solana.PublicKey {
	return solana.NewWallet().PublicKey()
}

func TestClassifyKind(t *testing.T) {
	tests := []struct {
		name string
		logs []string
		want models.OperationKind
	}{
		{
			name: "create marker",
			logs: []string{"Program log: Instruction: Create"},
			want: models.KindCreate,
		},
		{
			name: "steal marker",
			logs: []string{"Program xyz invoke [1]", "Program log: Instruction: Steal"},
			want: models.KindSteal,
		},
		{
			name: "transfer marker",
			logs: []string{"Program log: Instruction: Transfer"},
			want: models.KindTransfer,
		},
		{
			name: "no marker",
			logs: []string{"Program log: Instruction: Swap", "Program consumed 1200 compute units"},
			want: models.KindUnknown,
		},
		{
			name: "empty logs",
			logs: nil,
			want: models.KindUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyKind(tt.logs))
		})
	}
}

func TestClassifyCreate(t *testing.T) {
	c := NewClassifier(testScannerConfig())

	entity := newKey()
	minter := newKey()

	op := c.Classify(&TxView{
		Signature:   "sig1",
		LogMessages: []string{"Program log: Instruction: Create"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{entity, minter}},
		},
		InnerTransfers: [][]LamportTransfer{
			{{From: minter, To: entity, Lamports: 2_039_280}},
		},
	})

	require.NotNil(t, op)
	create, ok := op.(*CreateOp)
	require.True(t, ok)
	assert.Equal(t, models.KindCreate, op.Kind())
	assert.Equal(t, entity.String(), create.EntityID)
	assert.Equal(t, minter.String(), create.Minter)

	from, to := op.Participants()
	assert.Equal(t, SystemSource, from)
	assert.Equal(t, minter.String(), to)
	assert.Nil(t, op.Lamports())
}

func TestClassifyStealSumsAllInnerTransfers(t *testing.T) {
	c := NewClassifier(testScannerConfig())

	entity := newKey()
	thief := newKey()
	victim := newKey()
	fee := newKey()
	royalty := newKey()

	// 0.5 SOL to the previous holder, 0.05 fee, 0.01 royalty: the gross
	// steal amount is 0.56 SOL even though the transfers span groups.
	op := c.Classify(&TxView{
		Signature:   "sig2",
		LogMessages: []string{"Program log: Instruction: Steal"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{entity, thief, victim}},
		},
		InnerTransfers: [][]LamportTransfer{
			{
				{From: thief, To: victim, Lamports: 500_000_000},
				{From: thief, To: fee, Lamports: 50_000_000},
			},
			{
				{From: thief, To: royalty, Lamports: 10_000_000},
			},
		},
	})

	require.NotNil(t, op)
	steal, ok := op.(*StealOp)
	require.True(t, ok)
	assert.Equal(t, entity.String(), steal.EntityID)
	assert.Equal(t, thief.String(), steal.FromAddr)
	assert.Equal(t, victim.String(), steal.ToAddr)
	require.NotNil(t, op.Lamports())
	assert.Equal(t, uint64(560_000_000), *op.Lamports())
}

func TestClassifyTransferUsesConfiguredIndices(t *testing.T) {
	cfg := testScannerConfig()
	c := NewClassifier(cfg)

	entity := newKey()
	from := newKey()
	to := newKey()

	op := c.Classify(&TxView{
		Signature:   "sig3",
		LogMessages: []string{"Program log: Instruction: Transfer"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{entity, from, to}},
		},
	})

	require.NotNil(t, op)
	transfer, ok := op.(*TransferOp)
	require.True(t, ok)
	assert.Equal(t, entity.String(), transfer.EntityID)
	assert.Equal(t, from.String(), transfer.FromAddr)
	assert.Equal(t, to.String(), transfer.ToAddr)
	assert.Nil(t, op.Lamports())
}

func TestClassifyTransferNonDefaultIndices(t *testing.T) {
	cfg := testScannerConfig()
	cfg.EntityIndex = 1
	cfg.TransferFromIndex = 0
	cfg.TransferToIndex = 3
	c := NewClassifier(cfg)

	from := newKey()
	entity := newKey()
	authority := newKey()
	to := newKey()

	op := c.Classify(&TxView{
		Signature:   "sig4",
		LogMessages: []string{"Program log: Instruction: Transfer"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{from, entity, authority, to}},
		},
	})

	require.NotNil(t, op)
	transfer := op.(*TransferOp)
	assert.Equal(t, entity.String(), transfer.EntityID)
	assert.Equal(t, from.String(), transfer.FromAddr)
	assert.Equal(t, to.String(), transfer.ToAddr)
}

func TestClassifyRejectsUnparseable(t *testing.T) {
	c := NewClassifier(testScannerConfig())

	// UNKNOWN transactions are dropped
	assert.Nil(t, c.Classify(&TxView{
		Signature:   "sig5",
		LogMessages: []string{"Program log: something else"},
	}))

	// CREATE without an inner transfer cannot name the minter
	assert.Nil(t, c.Classify(&TxView{
		Signature:   "sig6",
		LogMessages: []string{"Program log: Instruction: Create"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{newKey(), newKey()}},
		},
	}))

	// STEAL with no program instruction has no entity account
	assert.Nil(t, c.Classify(&TxView{
		Signature:   "sig7",
		LogMessages: []string{"Program log: Instruction: Steal"},
		InnerTransfers: [][]LamportTransfer{
			{{From: newKey(), To: newKey(), Lamports: 1}},
		},
	}))

	// TRANSFER with too few accounts for the configured indices
	assert.Nil(t, c.Classify(&TxView{
		Signature:   "sig8",
		LogMessages: []string{"Program log: Instruction: Transfer"},
		Instructions: []InstructionView{
			{Accounts: []solana.PublicKey{newKey(), newKey()}},
		},
	}))
}
