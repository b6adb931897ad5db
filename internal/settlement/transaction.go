package settlement

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// Transaction is an atomic list of operations submitted by Source.
type Transaction struct {
	Source     string
	Sequence   int64
	Operations []Operation
	MaxTime    time.Time
	Memo       string
}

type wireOperation struct {
	Type string          `json:"type"`
	Body json.RawMessage `json:"body"`
}

type wireTransaction struct {
	Source     string          `json:"source"`
	Sequence   int64           `json:"sequence"`
	Operations []wireOperation `json:"operations"`
	MaxTime    int64           `json:"max_time"`
	Memo       string          `json:"memo,omitempty"`
}

var operationFactories = map[string]func() Operation{
	"create_account":              func() Operation { return &CreateAccount{} },
	"change_trust":                func() Operation { return &ChangeTrust{} },
	"set_trust_line_flags":        func() Operation { return &SetTrustLineFlags{} },
	"set_options":                 func() Operation { return &SetOptions{} },
	"payment":                     func() Operation { return &Payment{} },
	"path_payment_strict_receive": func() Operation { return &PathPaymentStrictReceive{} },
	"manage_sell_offer":           func() Operation { return &ManageSellOffer{} },
	"account_merge":               func() Operation { return &AccountMerge{} },
}

func (t *Transaction) MarshalJSON() ([]byte, error) {
	w := wireTransaction{
		Source:     t.Source,
		Sequence:   t.Sequence,
		Operations: make([]wireOperation, 0, len(t.Operations)),
		Memo:       t.Memo,
	}
	if !t.MaxTime.IsZero() {
		w.MaxTime = t.MaxTime.Unix()
	}
	for _, op := range t.Operations {
		body, err := json.Marshal(op)
		if err != nil {
			return nil, fmt.Errorf("failed to encode %s operation: %w", op.OperationType(), err)
		}
		w.Operations = append(w.Operations, wireOperation{Type: op.OperationType(), Body: body})
	}
	return json.Marshal(w)
}

func (t *Transaction) UnmarshalJSON(data []byte) error {
	var w wireTransaction
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.Source = w.Source
	t.Sequence = w.Sequence
	t.Memo = w.Memo
	t.MaxTime = time.Time{}
	if w.MaxTime != 0 {
		t.MaxTime = time.Unix(w.MaxTime, 0).UTC()
	}
	t.Operations = make([]Operation, 0, len(w.Operations))
	for _, wop := range w.Operations {
		factory, ok := operationFactories[wop.Type]
		if !ok {
			return fmt.Errorf("unknown operation type %q", wop.Type)
		}
		op := factory()
		if err := json.Unmarshal(wop.Body, op); err != nil {
			return fmt.Errorf("failed to decode %s operation: %w", wop.Type, err)
		}
		t.Operations = append(t.Operations, op)
	}
	return nil
}

// Hash identifies the transaction on the given network. It is also the
// message every signer signs.
func (t *Transaction) Hash(passphrase string) ([]byte, error) {
	body, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	h := sha256.New()
	h.Write([]byte(passphrase))
	h.Write(body)
	return h.Sum(nil), nil
}

// DecoratedSignature is a signature together with the address that made it.
type DecoratedSignature struct {
	Signer    string `json:"signer"`
	Signature []byte `json:"signature"`
}

// Envelope is a signed transaction ready for submission, optionally wrapped in
// a fee bump paid by FeeSource.
type Envelope struct {
	Tx            *Transaction         `json:"tx"`
	Signatures    []DecoratedSignature `json:"signatures"`
	FeeSource     string               `json:"fee_source,omitempty"`
	FeeSignatures []DecoratedSignature `json:"fee_signatures,omitempty"`

	hash []byte
}

// NewEnvelope fixes the transaction hash for the network.
func NewEnvelope(passphrase string, tx *Transaction) (*Envelope, error) {
	hash, err := tx.Hash(passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to hash transaction: %w", err)
	}
	return &Envelope{Tx: tx, hash: hash}, nil
}

// Hash returns the hex encoded inner transaction hash.
func (e *Envelope) Hash() string {
	return hex.EncodeToString(e.hash)
}

func (e *Envelope) HashBytes() []byte {
	return e.hash
}

func (e *Envelope) Sign(signers ...*Keypair) error {
	for _, kp := range signers {
		if kp == nil || e.signedBy(kp.Address()) {
			continue
		}
		sig, err := kp.Sign(e.hash)
		if err != nil {
			return err
		}
		e.Signatures = append(e.Signatures, DecoratedSignature{Signer: kp.Address(), Signature: sig})
	}
	return nil
}

func (e *Envelope) signedBy(address string) bool {
	for _, s := range e.Signatures {
		if s.Signer == address {
			return true
		}
	}
	return false
}

// FeeBumpHash is the message the fee source signs.
func (e *Envelope) FeeBumpHash() []byte {
	h := sha256.New()
	h.Write([]byte("fee_bump:"))
	h.Write([]byte(e.FeeSource))
	h.Write(e.hash)
	return h.Sum(nil)
}

// FeeBump makes sponsor pay the fees of the transaction.
func (e *Envelope) FeeBump(sponsor *Keypair) error {
	e.FeeSource = sponsor.Address()
	e.FeeSignatures = nil
	sig, err := sponsor.Sign(e.FeeBumpHash())
	if err != nil {
		return fmt.Errorf("failed to sign fee bump: %w", err)
	}
	e.FeeSignatures = append(e.FeeSignatures, DecoratedSignature{Signer: sponsor.Address(), Signature: sig})
	return nil
}

// RestoreHash recomputes the hash after decoding an envelope.
func (e *Envelope) RestoreHash(passphrase string) error {
	hash, err := e.Tx.Hash(passphrase)
	if err != nil {
		return err
	}
	e.hash = hash
	return nil
}
