// Package chain builds and audits the linkage between blocks. Blocks carry no
// proof of work: the nonce is derived from the header fields.
package chain

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/bardlex/promine/internal/models"
	"github.com/bardlex/promine/pkg/errors"
)

// GenesisPrevHash is the previous hash recorded by the first block
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// nonceModulus bounds derived nonces to [0, 1e6)
const nonceModulus = 1000000

// DiscoveryLeaf is the merkle leaf committing to a discovery
func DiscoveryLeaf(d *models.Discovery) chainhash.Hash {
	return chainhash.DoubleHashH(fmt.Appendf(nil, "%d:%s:%s:%s",
		d.ID, d.WorkType, d.Signature, d.VerificationData.Hash))
}

// MerkleRoot computes a double-SHA256 merkle root, duplicating the last
// hash of odd levels.
func MerkleRoot(leaves []chainhash.Hash) chainhash.Hash {
	if len(leaves) == 0 {
		return chainhash.Hash{}
	}

	level := append([]chainhash.Hash(nil), leaves...)
	for len(level) > 1 {
		next := make([]chainhash.Hash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			left := level[i]
			right := left
			if i+1 < len(level) {
				right = level[i+1]
			}

			var concat [chainhash.HashSize * 2]byte
			copy(concat[:chainhash.HashSize], left[:])
			copy(concat[chainhash.HashSize:], right[:])
			next = append(next, chainhash.DoubleHashH(concat[:]))
		}
		level = next
	}
	return level[0]
}

// DeriveNonce maps the header fields to a nonce in [0, 1e6)
func DeriveNonce(index int64, previousHash, merkleRoot string) int64 {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d%s%s", index, previousHash, merkleRoot))
	return int64(binary.BigEndian.Uint64(sum[:8]) % nonceModulus)
}

// BlockHash is the hex SHA-256 of index, previous hash, merkle root and nonce
func BlockHash(index int64, previousHash, merkleRoot string, nonce int64) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%d%s%s%d", index, previousHash, merkleRoot, nonce))
	return hex.EncodeToString(sum[:])
}

// Next builds the block that follows prev (nil for the first block) and
// commits to discoveries.
func Next(prev *models.Block, discoveries []*models.Discovery, minerID string, difficulty int, at time.Time) *models.Block {
	index := int64(0)
	prevHash := GenesisPrevHash
	if prev != nil {
		index = prev.Index + 1
		prevHash = prev.BlockHash
	}

	leaves := make([]chainhash.Hash, 0, len(discoveries))
	var value, energy float64
	for _, d := range discoveries {
		leaves = append(leaves, DiscoveryLeaf(d))
		value += d.ScientificValue
		energy += d.EnergyConsumed()
	}
	root := MerkleRoot(leaves).String()
	nonce := DeriveNonce(index, prevHash, root)

	return &models.Block{
		Index:                index,
		Timestamp:            at.UTC(),
		PreviousHash:         prevHash,
		MerkleRoot:           root,
		BlockHash:            BlockHash(index, prevHash, root, nonce),
		Difficulty:           difficulty,
		Nonce:                nonce,
		MinerID:              minerID,
		TotalScientificValue: value,
		EnergyConsumed:       energy,
		KnowledgeCreated:     len(discoveries),
	}
}

// VerifyLink checks that b correctly follows prev (nil for the first block)
// and that its nonce and hash match its header.
func VerifyLink(prev, b *models.Block) error {
	wantIndex, wantPrev := int64(0), GenesisPrevHash
	if prev != nil {
		wantIndex, wantPrev = prev.Index+1, prev.BlockHash
	}

	switch {
	case b.Index != wantIndex:
		return linkError(b, "unexpected block index").WithContext("expected_index", wantIndex)
	case b.PreviousHash != wantPrev:
		return linkError(b, "previous hash does not match").WithContext("expected_previous_hash", wantPrev)
	case b.Nonce != DeriveNonce(b.Index, b.PreviousHash, b.MerkleRoot):
		return linkError(b, "nonce does not match header")
	case b.BlockHash != BlockHash(b.Index, b.PreviousHash, b.MerkleRoot, b.Nonce):
		return linkError(b, "block hash does not match header")
	}
	return nil
}

// Verify audits a chain given in ascending index order starting at genesis
func Verify(blocks []*models.Block) error {
	var prev *models.Block
	for _, b := range blocks {
		if err := VerifyLink(prev, b); err != nil {
			return err
		}
		prev = b
	}
	return nil
}

// BlockSource pages through stored blocks in ascending index order
type BlockSource interface {
	GetBlocksFrom(ctx context.Context, from int64, limit int) ([]*models.Block, error)
}

// Audit verifies the stored chain page by page and returns its length
func Audit(ctx context.Context, src BlockSource, pageSize int) (int64, error) {
	var (
		prev   *models.Block
		length int64
	)
	for {
		page, err := src.GetBlocksFrom(ctx, length, pageSize)
		if err != nil {
			return length, errors.Wrap(err, errors.ErrorTypeChain, "audit_chain", "failed to read blocks").
				WithContext("from_index", length)
		}
		for _, b := range page {
			if err := VerifyLink(prev, b); err != nil {
				return length, err
			}
			prev = b
			length++
		}
		if len(page) < pageSize {
			return length, nil
		}
	}
}

// IsBrokenLink reports whether err is a linkage failure found by VerifyLink,
// as opposed to a failure to read the chain
func IsBrokenLink(err error) bool {
	var se *errors.ServiceError
	return stderrors.As(err, &se) && se.Operation == verifyOperation
}

const verifyOperation = "verify_chain"

func linkError(b *models.Block, msg string) *errors.ServiceError {
	return errors.New(errors.ErrorTypeChain, verifyOperation, msg).
		WithContext("index", b.Index).
		WithContext("block_hash", b.BlockHash)
}
