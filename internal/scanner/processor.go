// File: internal/scanner/processor.go
package scanner

import (
	"context"
	"encoding/binary"
	"errors"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/chain"
	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// System-program transfer instruction: u32 LE discriminator 2, then u64 LE
// lamports.
const (
	systemTransferIndex   = 2
	systemTransferDataLen = 12
)

// BlockProcessor turns one block into ingestion events
type BlockProcessor interface {
	Process(ctx context.Context, slot uint64) ([]models.IngestionEvent, error)
}

// Processor implements BlockProcessor. It holds only read-only configuration,
// so concurrent calls for different slots are safe.
type Processor struct {
	reader     chain.Reader
	classifier *Classifier
	programID  solana.PublicKey
	logger     *logrus.Entry
}

// NewProcessor creates a new block processor
func NewProcessor(reader chain.Reader, scannerCfg *config.ScannerConfig, solanaCfg *config.SolanaConfig) (*Processor, error) {
	programID, err := solana.PublicKeyFromBase58(solanaCfg.ProgramID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Invalid program ID", err.Error())
	}

	return &Processor{
		reader:     reader,
		classifier: NewClassifier(scannerCfg),
		programID:  programID,
		logger:     utils.ComponentLogger("processor"),
	}, nil
}

// Process fetches one block and returns an ingestion event per successful
// transaction that touches the program. A ledger-skipped slot yields no
// events and no error.
func (p *Processor) Process(ctx context.Context, slot uint64) ([]models.IngestionEvent, error) {
	block, err := p.reader.GetBlock(ctx, slot)
	if err != nil {
		if errors.Is(err, chain.ErrSlotSkipped) {
			p.logger.WithField("slot", slot).Debug("Slot skipped by ledger, treating as empty")
			return nil, nil
		}
		return nil, err
	}

	var events []models.IngestionEvent
	for i := range block.Transactions {
		tx := &block.Transactions[i]

		// The program's log lines are only authoritative when the
		// transaction itself succeeded.
		if tx.Meta == nil || tx.Meta.Err != nil {
			continue
		}

		view, err := p.buildView(tx, slot)
		if err != nil {
			p.logger.WithField("slot", slot).WithError(err).Warn("Dropping undecodable transaction")
			continue
		}
		if view == nil {
			// Transaction does not touch the program
			continue
		}

		op := p.classifier.Classify(view)
		if op == nil {
			continue
		}

		event, err := p.buildEvent(ctx, op, view)
		if err != nil {
			return nil, err
		}
		events = append(events, *event)
	}

	return events, nil
}

// buildView normalizes a transaction into a TxView, or returns nil when the
// transaction's static account list does not include the program.
func (p *Processor) buildView(tx *rpc.TransactionWithMeta, slot uint64) (*TxView, error) {
	parsed, err := tx.GetTransaction()
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeParse, "Failed to decode transaction", err.Error())
	}
	if len(parsed.Signatures) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeParse, "Transaction has no signature", "")
	}

	accountKeys := parsed.Message.AccountKeys
	if tx.Meta != nil {
		accountKeys = append(accountKeys, tx.Meta.LoadedAddresses.Writable...)
		accountKeys = append(accountKeys, tx.Meta.LoadedAddresses.ReadOnly...)
	}

	touchesProgram := false
	for _, key := range parsed.Message.AccountKeys {
		if key.Equals(p.programID) {
			touchesProgram = true
			break
		}
	}
	if !touchesProgram {
		return nil, nil
	}

	view := &TxView{
		Signature:   parsed.Signatures[0].String(),
		Slot:        slot,
		AccountKeys: accountKeys,
		LogMessages: tx.Meta.LogMessages,
	}

	for _, instruction := range parsed.Message.Instructions {
		resolved, err := resolveInstruction(instruction, accountKeys)
		if err != nil {
			return nil, err
		}
		if resolved.ProgramID.Equals(p.programID) {
			view.Instructions = append(view.Instructions, *resolved)
		}
	}

	for _, group := range tx.Meta.InnerInstructions {
		var transfers []LamportTransfer
		for _, instruction := range group.Instructions {
			transfer, ok, err := decodeLamportTransfer(instruction, accountKeys)
			if err != nil {
				return nil, err
			}
			if ok {
				transfers = append(transfers, *transfer)
			}
		}
		if len(transfers) > 0 {
			view.InnerTransfers = append(view.InnerTransfers, transfers)
		}
	}

	return view, nil
}

// buildEvent materializes the ingestion event, fetching a fresh entity
// snapshot for kinds that need one.
func (p *Processor) buildEvent(ctx context.Context, op Operation, view *TxView) (*models.IngestionEvent, error) {
	from, to := op.Participants()
	event := &models.IngestionEvent{
		ID:          view.Signature,
		EntityID:    op.Entity(),
		Kind:        op.Kind(),
		From:        from,
		To:          to,
		Amount:      op.Lamports(),
		BlockHeight: int64(view.Slot),
		Success:     true,
		ObservedAt:  time.Now().UTC(),
	}

	// CREATE and STEAL change fields only readable from account state, so
	// the event carries its own snapshot, fetched fresh and never cached.
	if op.Kind() == models.KindCreate || op.Kind() == models.KindSteal {
		snapshot, err := p.fetchSnapshot(ctx, op.Entity())
		if err != nil {
			return nil, err
		}
		event.EntitySnapshot = snapshot
	}

	return event, nil
}

func (p *Processor) fetchSnapshot(ctx context.Context, entityID string) (*models.Entity, error) {
	pubkey, err := solana.PublicKeyFromBase58(entityID)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeParse, "Invalid entity account", err.Error())
	}

	data, err := p.reader.GetAccountData(ctx, pubkey)
	if err != nil {
		return nil, err
	}

	entity, err := chain.DecodeEntityAccount(data)
	if err != nil {
		return nil, err
	}
	entity.ID = entityID
	return entity, nil
}

func resolveInstruction(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*InstructionView, error) {
	if int(instruction.ProgramIDIndex) >= len(accountKeys) {
		return nil, utils.NewAppError(utils.ErrCodeParse, "Program index out of range", "")
	}
	view := &InstructionView{
		ProgramID: accountKeys[instruction.ProgramIDIndex],
		Accounts:  make([]solana.PublicKey, 0, len(instruction.Accounts)),
	}
	for _, index := range instruction.Accounts {
		if int(index) >= len(accountKeys) {
			return nil, utils.NewAppError(utils.ErrCodeParse, "Account index out of range", "")
		}
		view.Accounts = append(view.Accounts, accountKeys[index])
	}
	return view, nil
}

// decodeLamportTransfer decodes a system-program transfer inner instruction.
// Non-transfer instructions return ok=false; malformed account references
// return an error.
func decodeLamportTransfer(instruction solana.CompiledInstruction, accountKeys []solana.PublicKey) (*LamportTransfer, bool, error) {
	if int(instruction.ProgramIDIndex) >= len(accountKeys) {
		return nil, false, utils.NewAppError(utils.ErrCodeParse, "Program index out of range", "")
	}
	if !accountKeys[instruction.ProgramIDIndex].Equals(solana.SystemProgramID) {
		return nil, false, nil
	}

	data := []byte(instruction.Data)
	if len(data) != systemTransferDataLen || binary.LittleEndian.Uint32(data[:4]) != systemTransferIndex {
		return nil, false, nil
	}
	if len(instruction.Accounts) < 2 {
		return nil, false, utils.NewAppError(utils.ErrCodeParse, "Transfer instruction missing accounts", "")
	}
	fromIndex, toIndex := instruction.Accounts[0], instruction.Accounts[1]
	if int(fromIndex) >= len(accountKeys) || int(toIndex) >= len(accountKeys) {
		return nil, false, utils.NewAppError(utils.ErrCodeParse, "Transfer account index out of range", "")
	}

	return &LamportTransfer{
		From:     accountKeys[fromIndex],
		To:       accountKeys[toIndex],
		Lamports: binary.LittleEndian.Uint64(data[4:]),
	}, true, nil
}
