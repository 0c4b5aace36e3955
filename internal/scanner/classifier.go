// File: internal/scanner/classifier.go
package scanner

import (
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"github.com/mintheist/steal-indexer/internal/config"
	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// SystemSource is the from-address reported for CREATE operations: the
// entity is minted out of nothing, so no wallet is the sender.
const SystemSource = "System"

// Per-instruction log markers emitted by the program. Each instruction logs
// a distinct marker, so substring presence decides the kind.
const (
	markerCreate   = "Instruction: Create"
	markerSteal    = "Instruction: Steal"
	markerTransfer = "Instruction: Transfer"
)

// TxView is a normalized, self-contained view of one confirmed transaction:
// everything the classifier needs, nothing it has to fetch.
type TxView struct {
	Signature   string
	Slot        uint64
	AccountKeys []solana.PublicKey
	LogMessages []string
	// Program instructions from the outer message, account indices already
	// resolved to pubkeys in instruction order.
	Instructions []InstructionView
	// Inner lamport transfers grouped per outer instruction, in execution
	// order within each group.
	InnerTransfers [][]LamportTransfer
}

// InstructionView is one outer instruction invoking the target program
type InstructionView struct {
	ProgramID solana.PublicKey
	Accounts  []solana.PublicKey
}

// LamportTransfer is a decoded system-program transfer executed as an
// inner instruction.
type LamportTransfer struct {
	From     solana.PublicKey
	To       solana.PublicKey
	Lamports uint64
}

// Operation is the tagged variant over the three instruction shapes. Each
// kind carries its own typed fields instead of an any-typed property bag.
type Operation interface {
	Kind() models.OperationKind
	Entity() string
	Participants() (from, to string)
	Lamports() *uint64
}

// CreateOp is a mint of a new entity
type CreateOp struct {
	EntityID string
	Minter   string
}

func (op *CreateOp) Kind() models.OperationKind     { return models.KindCreate }
func (op *CreateOp) Entity() string                 { return op.EntityID }
func (op *CreateOp) Participants() (string, string) { return SystemSource, op.Minter }
func (op *CreateOp) Lamports() *uint64              { return nil }

// StealOp is a forced purchase at the current price
type StealOp struct {
	EntityID string
	FromAddr string
	ToAddr   string
	Amount   uint64
}

func (op *StealOp) Kind() models.OperationKind     { return models.KindSteal }
func (op *StealOp) Entity() string                 { return op.EntityID }
func (op *StealOp) Participants() (string, string) { return op.FromAddr, op.ToAddr }
func (op *StealOp) Lamports() *uint64              { return &op.Amount }

// TransferOp is a plain ownership transfer
type TransferOp struct {
	EntityID string
	FromAddr string
	ToAddr   string
}

func (op *TransferOp) Kind() models.OperationKind     { return models.KindTransfer }
func (op *TransferOp) Entity() string                 { return op.EntityID }
func (op *TransferOp) Participants() (string, string) { return op.FromAddr, op.ToAddr }
func (op *TransferOp) Lamports() *uint64              { return nil }

// Classifier maps a transaction view to an operation
type Classifier struct {
	config *config.ScannerConfig
	logger *logrus.Entry
}

// NewClassifier creates a new transaction classifier
func NewClassifier(cfg *config.ScannerConfig) *Classifier {
	return &Classifier{
		config: cfg,
		logger: utils.ComponentLogger("classifier"),
	}
}

// ClassifyKind returns the operation kind signaled by the transaction logs.
// Absent markers mean UNKNOWN and the transaction is not queued.
func ClassifyKind(logs []string) models.OperationKind {
	for _, line := range logs {
		switch {
		case strings.Contains(line, markerCreate):
			return models.KindCreate
		case strings.Contains(line, markerSteal):
			return models.KindSteal
		case strings.Contains(line, markerTransfer):
			return models.KindTransfer
		}
	}
	return models.KindUnknown
}

// Classify returns the typed operation for a transaction, or nil when the
// transaction is not a recognized program operation. Any extraction failure
// downgrades the transaction to UNKNOWN; it never halts the scan.
func (c *Classifier) Classify(tx *TxView) Operation {
	kind := ClassifyKind(tx.LogMessages)
	if kind == models.KindUnknown {
		return nil
	}

	op, err := c.extract(kind, tx)
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"signature": tx.Signature,
			"kind":      string(kind),
		}).WithError(err).Warn("Dropping unparseable transaction")
		return nil
	}
	return op
}

func (c *Classifier) extract(kind models.OperationKind, tx *TxView) (Operation, error) {
	entityID, err := c.entityAccount(tx)
	if err != nil {
		return nil, err
	}

	switch kind {
	case models.KindCreate:
		// The minting account is the source of the first inner transfer:
		// the minter funds the new account's rent.
		first, err := firstInnerTransfer(tx)
		if err != nil {
			return nil, err
		}
		return &CreateOp{
			EntityID: entityID,
			Minter:   first.From.String(),
		}, nil

	case models.KindSteal:
		// The program fans one steal into several transfers (payment to the
		// previous holder, protocol fee, minter royalty). The first transfer
		// names the payer and the previous holder; the gross amount is the
		// sum over every group.
		first, err := firstInnerTransfer(tx)
		if err != nil {
			return nil, err
		}
		var total uint64
		for _, group := range tx.InnerTransfers {
			for _, transfer := range group {
				total += transfer.Lamports
			}
		}
		return &StealOp{
			EntityID: entityID,
			FromAddr: first.From.String(),
			ToAddr:   first.To.String(),
			Amount:   total,
		}, nil

	case models.KindTransfer:
		// A plain ownership transfer has no inner instructions; participants
		// sit at fixed positions in the outer instruction's account list.
		instruction, err := programInstruction(tx)
		if err != nil {
			return nil, err
		}
		from, err := accountAt(instruction, c.config.TransferFromIndex)
		if err != nil {
			return nil, err
		}
		to, err := accountAt(instruction, c.config.TransferToIndex)
		if err != nil {
			return nil, err
		}
		return &TransferOp{
			EntityID: entityID,
			FromAddr: from.String(),
			ToAddr:   to.String(),
		}, nil
	}

	return nil, utils.NewAppError(utils.ErrCodeParse, "Unsupported operation kind", string(kind))
}

func (c *Classifier) entityAccount(tx *TxView) (string, error) {
	instruction, err := programInstruction(tx)
	if err != nil {
		return "", err
	}
	key, err := accountAt(instruction, c.config.EntityIndex)
	if err != nil {
		return "", err
	}
	return key.String(), nil
}

func programInstruction(tx *TxView) (*InstructionView, error) {
	if len(tx.Instructions) == 0 {
		return nil, utils.NewAppError(utils.ErrCodeParse, "No program instruction in transaction", tx.Signature)
	}
	return &tx.Instructions[0], nil
}

func firstInnerTransfer(tx *TxView) (*LamportTransfer, error) {
	for _, group := range tx.InnerTransfers {
		if len(group) > 0 {
			return &group[0], nil
		}
	}
	return nil, utils.NewAppError(utils.ErrCodeParse, "No inner lamport transfers in transaction", tx.Signature)
}

func accountAt(instruction *InstructionView, index int) (solana.PublicKey, error) {
	if index < 0 || index >= len(instruction.Accounts) {
		return solana.PublicKey{}, utils.NewAppError(utils.ErrCodeParse,
			"Instruction account index out of range", "")
	}
	return instruction.Accounts[index], nil
}
