// File: internal/chain/account.go
package chain

import (
	"bytes"
	"encoding/binary"

	"github.com/gagliardetto/solana-go"

	"github.com/mintheist/steal-indexer/internal/models"
	"github.com/mintheist/steal-indexer/pkg/utils"
)

// Entity account layout:
//
//	[8]  discriminator
//	[4+n] name (u32 LE length prefix, UTF-8)
//	[4+n] symbol
//	[4+n] description
//	[4+n] image URL
//	[32] holder pubkey
//	[32] minter pubkey
//	[32] fee-recipient pubkey
//	[8]  current price, u64 LE lamports
//	[8]  next price, u64 LE lamports
const (
	discriminatorLen = 8
	pubkeyLen        = 32

	MaxNameLen        = 32
	MaxSymbolLen      = 8
	MaxDescriptionLen = 200
)

// entityDiscriminator is the 8-byte account tag the program writes ahead of
// the entity fields.
var entityDiscriminator = [discriminatorLen]byte{0x9a, 0x3f, 0x07, 0xc1, 0x55, 0x2e, 0xb8, 0x64}

type accountReader struct {
	data []byte
	pos  int
	err  error
}

func (r *accountReader) expectDiscriminator(tag [discriminatorLen]byte) {
	if r.err != nil {
		return
	}
	if r.pos+discriminatorLen > len(r.data) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Account data truncated", "missing discriminator")
		return
	}
	if !bytes.Equal(r.data[r.pos:r.pos+discriminatorLen], tag[:]) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Not an entity account", "discriminator mismatch")
		return
	}
	r.pos += discriminatorLen
}

func (r *accountReader) readString(maxLen int) string {
	if r.err != nil {
		return ""
	}
	if r.pos+4 > len(r.data) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Account data truncated", "missing length prefix")
		return ""
	}
	n := int(binary.LittleEndian.Uint32(r.data[r.pos:]))
	r.pos += 4

	if maxLen > 0 && n > maxLen {
		r.err = utils.NewAppError(utils.ErrCodeParse, "String field exceeds length limit", "")
		return ""
	}
	if r.pos+n > len(r.data) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Account data truncated", "length prefix past buffer end")
		return ""
	}
	s := string(r.data[r.pos : r.pos+n])
	r.pos += n
	return s
}

func (r *accountReader) readPubkey() solana.PublicKey {
	if r.err != nil {
		return solana.PublicKey{}
	}
	if r.pos+pubkeyLen > len(r.data) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Account data truncated", "missing pubkey")
		return solana.PublicKey{}
	}
	var key solana.PublicKey
	copy(key[:], r.data[r.pos:r.pos+pubkeyLen])
	r.pos += pubkeyLen
	return key
}

func (r *accountReader) readUint64() uint64 {
	if r.err != nil {
		return 0
	}
	if r.pos+8 > len(r.data) {
		r.err = utils.NewAppError(utils.ErrCodeParse, "Account data truncated", "missing u64")
		return 0
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos:])
	r.pos += 8
	return v
}

// DecodeEntityAccount decodes the raw entity account data into an Entity
// snapshot. The entity ID is the account pubkey, not part of the data, so
// the caller fills it in.
func DecodeEntityAccount(data []byte) (*models.Entity, error) {
	r := &accountReader{data: data}

	r.expectDiscriminator(entityDiscriminator)
	entity := &models.Entity{
		Name:        r.readString(MaxNameLen),
		Symbol:      r.readString(MaxSymbolLen),
		Description: r.readString(MaxDescriptionLen),
		Image:       r.readString(0),
	}
	holder := r.readPubkey()
	minter := r.readPubkey()
	feeRecipient := r.readPubkey()
	entity.CurrentPrice = r.readUint64()
	entity.NextPrice = r.readUint64()

	if r.err != nil {
		return nil, r.err
	}

	entity.Holder = holder.String()
	entity.Minter = minter.String()
	entity.FeeRecipient = feeRecipient.String()
	return entity, nil
}

// EncodeEntityAccount encodes an Entity back into the account layout.
// Used by tests and fixtures; the indexer itself only decodes.
func EncodeEntityAccount(entity *models.Entity) ([]byte, error) {
	if len(entity.Name) > MaxNameLen {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Name exceeds length limit", "")
	}
	if len(entity.Symbol) > MaxSymbolLen {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Symbol exceeds length limit", "")
	}
	if len(entity.Description) > MaxDescriptionLen {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Description exceeds length limit", "")
	}

	holder, err := solana.PublicKeyFromBase58(entity.Holder)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid holder pubkey", err.Error())
	}
	minter, err := solana.PublicKeyFromBase58(entity.Minter)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid minter pubkey", err.Error())
	}
	feeRecipient, err := solana.PublicKeyFromBase58(entity.FeeRecipient)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeValidation, "Invalid fee-recipient pubkey", err.Error())
	}

	buf := make([]byte, 0, discriminatorLen+16+len(entity.Name)+len(entity.Symbol)+
		len(entity.Description)+len(entity.Image)+3*pubkeyLen+16)
	buf = append(buf, entityDiscriminator[:]...)
	buf = appendString(buf, entity.Name)
	buf = appendString(buf, entity.Symbol)
	buf = appendString(buf, entity.Description)
	buf = appendString(buf, entity.Image)
	buf = append(buf, holder[:]...)
	buf = append(buf, minter[:]...)
	buf = append(buf, feeRecipient[:]...)
	buf = binary.LittleEndian.AppendUint64(buf, entity.CurrentPrice)
	buf = binary.LittleEndian.AppendUint64(buf, entity.NextPrice)
	return buf, nil
}

func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(s)))
	return append(buf, s...)
}
