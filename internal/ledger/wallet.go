package ledger

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
)

var (
	// ErrNoWallet is returned when a signing capability is required but the
	// caller has none.
	ErrNoWallet = errors.New("no wallet available")

	// ErrTransferMismatch is returned when a signed transaction does not
	// encode the transfer the workflow asked for.
	ErrTransferMismatch = errors.New("signed transaction does not match requested transfer")
)

// SignedTransfer is an authorized transaction ready for submission,
// together with the blockhash it is pinned to and that blockhash's expiry
// height, which bounds how long confirmation can be awaited.
type SignedTransfer struct {
	Raw                  []byte
	Blockhash            string
	LastValidBlockHeight uint64
}

// Wallet is the external signing capability settlement depends on.
// Signing may suspend indefinitely (a human approving a prompt), so it
// takes a context; a declined prompt surfaces as an ordinary error.
// Implementations must guarantee the returned bytes encode exactly the
// requested transfer (source, recipient, lamports).
type Wallet interface {
	// Address returns the wallet's base58 ledger address.
	Address() string

	// SignTransfer authorizes the transfer and returns the signed
	// transaction in wire form, ready for submission.
	SignTransfer(ctx context.Context, t *Transfer) (*SignedTransfer, error)
}

// BlockhashSource supplies the recent blockhash a local signer pins its
// transactions to. *Client implements it.
type BlockhashSource interface {
	LatestBlockhash(ctx context.Context) (*Blockhash, error)
}

// Keypair is a local ed25519 wallet. It backs tests and tooling; the
// production path wraps transactions signed in the user's browser.
type Keypair struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
	src  BlockhashSource
}

var _ Wallet = (*Keypair)(nil)

// NewKeypair generates a fresh random wallet.
func NewKeypair() (*Keypair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{pub: pub, priv: priv}, nil
}

// KeypairFromSecret restores a wallet from a base58-encoded 64-byte
// private key (the format wallet apps export).
func KeypairFromSecret(secret string) (*Keypair, error) {
	raw, err := base58.Decode(secret)
	if err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid secret: got %d bytes, want %d", len(raw), ed25519.PrivateKeySize)
	}
	priv := ed25519.PrivateKey(raw)
	return &Keypair{pub: priv.Public().(ed25519.PublicKey), priv: priv}, nil
}

// WithSource sets where the wallet fetches a recent blockhash when the
// transfer does not carry one, and returns the wallet.
func (k *Keypair) WithSource(src BlockhashSource) *Keypair {
	k.src = src
	return k
}

// Address returns the base58-encoded public key.
func (k *Keypair) Address() string {
	return base58.Encode(k.pub)
}

// SignTransfer pins the transfer to a recent blockhash, encodes it, signs
// it, and returns the wire-form transaction. When the transfer already
// names a blockhash it is used as-is and the expiry height is unknown to
// this wallet (zero).
func (k *Keypair) SignTransfer(ctx context.Context, t *Transfer) (*SignedTransfer, error) {
	if t.From != k.Address() {
		return nil, fmt.Errorf("transfer source %s is not this wallet", t.From)
	}

	pinned := *t
	var lastValid uint64
	if pinned.Blockhash == "" {
		if k.src == nil {
			return nil, fmt.Errorf("no blockhash on transfer and no blockhash source")
		}
		bh, err := k.src.LatestBlockhash(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetch blockhash: %w", err)
		}
		pinned.Blockhash = bh.Blockhash
		lastValid = bh.LastValidBlockHeight
	}

	msg, err := EncodeTransferMessage(&pinned)
	if err != nil {
		return nil, err
	}
	sig := ed25519.Sign(k.priv, msg)
	return &SignedTransfer{
		Raw:                  WrapSignedMessage(sig, msg),
		Blockhash:            pinned.Blockhash,
		LastValidBlockHeight: lastValid,
	}, nil
}

// Presigned wraps a transaction that was already authorized out of
// process (the browser wallet signed it). This is how the HTTP settle
// endpoint reuses the settlement workflow without holding keys: the
// client submits its signed bytes and the expiry height of the blockhash
// it used.
type Presigned struct {
	address              string
	raw                  []byte
	lastValidBlockHeight uint64
}

var _ Wallet = (*Presigned)(nil)

// NewPresigned builds a wallet around an externally signed transaction.
func NewPresigned(address string, raw []byte, lastValidBlockHeight uint64) *Presigned {
	return &Presigned{address: address, raw: raw, lastValidBlockHeight: lastValidBlockHeight}
}

// Address returns the signer's base58 address as reported by the client.
func (p *Presigned) Address() string {
	return p.address
}

// SignTransfer checks that the pre-authorized bytes encode the requested
// transfer and returns them. The client chose the blockhash; the decoded
// transaction is the source of truth for source, recipient, and amount,
// so arbitrary signed bytes cannot be credited as a split payment.
func (p *Presigned) SignTransfer(_ context.Context, t *Transfer) (*SignedTransfer, error) {
	if len(p.raw) == 0 {
		return nil, ErrNoWallet
	}
	decoded, err := DecodeTransfer(p.raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferMismatch, err)
	}
	if decoded.From != t.From || decoded.To != t.To || decoded.Lamports != t.Lamports {
		return nil, fmt.Errorf("%w: encodes %s -> %s for %d lamports",
			ErrTransferMismatch, decoded.From, decoded.To, decoded.Lamports)
	}
	return &SignedTransfer{
		Raw:                  p.raw,
		Blockhash:            decoded.Blockhash,
		LastValidBlockHeight: p.lastValidBlockHeight,
	}, nil
}
