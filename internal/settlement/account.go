package settlement

import (
	"context"

	"github.com/shopspring/decimal"
)

const (
	adminSignerWeight = 2
	masterKeyWeight   = 1
)

// AccountOptions are the ledger parameters of a new account. A nil
// MaximumBalance means unbounded.
type AccountOptions struct {
	InitialCredit  decimal.Decimal
	MaximumBalance *decimal.Decimal
}

// AccountKeys signs account creation. Credit is required exactly when the
// account starts with credit.
type AccountKeys struct {
	Sponsor *Keypair
	Issuer  *Keypair
	Credit  *Keypair
}

// CreateAccount opens an authorized account in the currency, co-signed by the
// currency admin, and funds it with its initial credit.
func (c *Client) CreateAccount(ctx context.Context, cur Currency, opts AccountOptions, keys AccountKeys) (*Keypair, error) {
	if keys.Credit != nil && !opts.InitialCredit.IsPositive() {
		return nil, settlementErrorf(nil, "credit key not allowed when the initial credit is zero")
	}
	if keys.Credit == nil && opts.InitialCredit.IsPositive() {
		return nil, settlementErrorf(nil, "credit key required when the initial credit is positive")
	}
	kp, err := RandomKeypair()
	if err != nil {
		return nil, err
	}

	signers := []*Keypair{keys.Issuer, kp, keys.Sponsor}
	if keys.Credit != nil {
		signers = append(signers, keys.Credit)
	}
	_, err = c.submit(ctx, cur.IssuerKey, func(*AccountEntry) ([]Operation, error) {
		return c.createAccountOps(cur, kp.Address(), opts, keys.Sponsor.Address()), nil
	}, signers, keys.Sponsor)
	if err != nil {
		return nil, ledgerError(err, false)
	}
	c.logger.Info("Ledger account created", "currency", cur.Code, "account", kp.Address())
	return kp, nil
}

func (c *Client) createAccountOps(cur Currency, address string, opts AccountOptions, sponsor string) []Operation {
	asset := cur.Asset()
	low, med, high := 1, 1, adminSignerWeight
	master := masterKeyWeight
	ops := []Operation{
		&CreateAccount{Source: sponsor, Destination: address},
		&ChangeTrust{Source: address, Asset: asset, Limit: opts.MaximumBalance},
		&SetTrustLineFlags{Trustor: address, Asset: asset, Authorized: true},
		&SetOptions{Source: address, Signer: &Signer{Key: cur.AdminKey, Weight: adminSignerWeight}},
		&SetOptions{Source: address, MasterWeight: &master, LowThreshold: &low, MedThreshold: &med, HighThreshold: &high},
	}
	if opts.InitialCredit.IsPositive() {
		ops = append(ops, &Payment{Source: cur.CreditKey, Destination: address, Asset: asset, Amount: opts.InitialCredit})
	}
	return ops
}

// PaymentKeys signs a payment. Account is the account key or the currency
// admin key.
type PaymentKeys struct {
	Account *Keypair
	Sponsor *Keypair
}

type PayInput struct {
	Payee  string
	Amount decimal.Decimal
}

// Transfer is a settled payment.
type Transfer struct {
	Hash         string
	Payer        string
	Payee        string
	Asset        Asset
	Amount       decimal.Decimal
	SourceAsset  Asset
	SourceAmount decimal.Decimal
}

// Pay moves amount of the local asset from source to in.Payee. The balance is
// checked against the freshest ledger state before building the transaction.
func (c *Client) Pay(ctx context.Context, cur Currency, source string, in PayInput, keys PaymentKeys) (*Transfer, error) {
	if !in.Amount.IsPositive() {
		return nil, settlementErrorf(nil, "payment amount must be positive")
	}
	asset := cur.Asset()
	res, err := c.submitPayment(ctx, source, func(entry *AccountEntry, opSource string) ([]Operation, error) {
		if err := checkBalance(entry, asset, in.Amount); err != nil {
			return nil, err
		}
		return []Operation{&Payment{Source: opSource, Destination: in.Payee, Asset: asset, Amount: in.Amount}}, nil
	}, []*Keypair{keys.Account}, keys.Sponsor)
	if err != nil {
		return nil, ledgerError(err, false)
	}
	c.logger.Info("Payment settled", "hash", res.Hash, "payer", source, "payee", in.Payee, "amount", in.Amount.String())
	return &Transfer{
		Hash:         res.Hash,
		Payer:        source,
		Payee:        in.Payee,
		Asset:        asset,
		Amount:       in.Amount,
		SourceAsset:  asset,
		SourceAmount: in.Amount,
	}, nil
}

type ExternalPayInput struct {
	Payee  string
	Amount decimal.Decimal
	Path   PathQuote
}

// ExternalPay delivers exactly in.Amount of the destination asset through the
// quoted path, spending at most the quoted source amount.
func (c *Client) ExternalPay(ctx context.Context, cur Currency, source string, in ExternalPayInput, keys PaymentKeys) (*Transfer, error) {
	if in.Path.SourceAsset != cur.Asset() {
		return nil, settlementErrorf(nil, "path does not start at %s", cur.Asset())
	}
	res, err := c.submitPayment(ctx, source, func(entry *AccountEntry, opSource string) ([]Operation, error) {
		if err := checkBalance(entry, in.Path.SourceAsset, in.Path.SourceAmount); err != nil {
			return nil, err
		}
		return []Operation{&PathPaymentStrictReceive{
			Source:      opSource,
			SendAsset:   in.Path.SourceAsset,
			SendMax:     in.Path.SourceAmount,
			Destination: in.Payee,
			DestAsset:   in.Path.DestAsset,
			DestAmount:  in.Amount,
			Path:        in.Path.Path,
		}}, nil
	}, []*Keypair{keys.Account}, keys.Sponsor)
	if err != nil {
		return nil, ledgerError(err, true)
	}
	c.logger.Info("External payment settled", "hash", res.Hash, "payer", source, "payee", in.Payee,
		"amount", in.Amount.String(), "asset", in.Path.DestAsset.String())
	return &Transfer{
		Hash:         res.Hash,
		Payer:        source,
		Payee:        in.Payee,
		Asset:        in.Path.DestAsset,
		Amount:       in.Amount,
		SourceAsset:  in.Path.SourceAsset,
		SourceAmount: in.Path.SourceAmount,
	}, nil
}

func checkBalance(entry *AccountEntry, asset Asset, amount decimal.Decimal) error {
	balance, _ := entry.BalanceOf(asset)
	if balance.LessThan(amount) {
		return ErrInsufficientBalance{Account: entry.Address, Balance: balance, Amount: amount}
	}
	return nil
}

type AdminKeys struct {
	Admin   *Keypair
	Sponsor *Keypair
}

// DeleteAccount returns the residual balance to the credit account, removes
// the trustline and merges the account into the sponsor, atomically.
func (c *Client) DeleteAccount(ctx context.Context, cur Currency, address string, keys AdminKeys) error {
	asset := cur.Asset()
	_, err := c.submit(ctx, address, func(entry *AccountEntry) ([]Operation, error) {
		var ops []Operation
		if balance, _ := entry.BalanceOf(asset); balance.IsPositive() {
			ops = append(ops, &Payment{Destination: cur.CreditKey, Asset: asset, Amount: balance})
		}
		remove := decimal.Zero
		ops = append(ops,
			&ChangeTrust{Asset: asset, Limit: &remove},
			&AccountMerge{Destination: keys.Sponsor.Address()},
		)
		return ops, nil
	}, []*Keypair{keys.Admin}, keys.Sponsor)
	if err != nil {
		return ledgerError(err, false)
	}
	c.logger.Info("Ledger account deleted", "currency", cur.Code, "account", address)
	return nil
}

// CreditKeys signs a credit change. Credit is needed to raise the credit and
// Account (account or admin key) to lower it.
type CreditKeys struct {
	Sponsor *Keypair
	Credit  *Keypair
	Account *Keypair
}

// UpdateCredit moves the difference between the old and the new credit
// between the credit account and the account. It returns nil when both match.
func (c *Client) UpdateCredit(ctx context.Context, cur Currency, address string, from, to decimal.Decimal, keys CreditKeys) (*Transfer, error) {
	diff := to.Sub(from)
	switch {
	case diff.IsZero():
		return nil, nil
	case diff.IsPositive():
		if keys.Credit == nil {
			return nil, settlementErrorf(nil, "credit key required to raise the credit")
		}
		t, err := c.Pay(ctx, cur, cur.CreditKey, PayInput{Payee: address, Amount: diff}, PaymentKeys{Account: keys.Credit, Sponsor: keys.Sponsor})
		if err != nil {
			return nil, err
		}
		return t, nil
	default:
		if keys.Account == nil {
			return nil, settlementErrorf(nil, "account key required to lower the credit")
		}
		return c.Pay(ctx, cur, address, PayInput{Payee: cur.CreditKey, Amount: diff.Neg()}, PaymentKeys{Account: keys.Account, Sponsor: keys.Sponsor})
	}
}
