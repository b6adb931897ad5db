package accounting

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/komunitin/komunitin-sub000/internal/domain/shared"
	"github.com/komunitin/komunitin-sub000/internal/domain/trustline"
	"github.com/komunitin/komunitin-sub000/internal/federation"
	"github.com/komunitin/komunitin-sub000/internal/settlement"
)

// TrustlineInput opens a trustline to the currency identified by Trusted,
// which must carry the href of the remote currency.
type TrustlineInput struct {
	Trusted federation.Identifier
	Limit   int64
}

// CreateTrustline lets payments from another currency reach this one, up
// to limit local units.
func (s *Service) CreateTrustline(ctx context.Context, actor shared.Actor, code string, in TrustlineInput) (*trustline.Trustline, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAdmin(actor); err != nil {
		return nil, err
	}
	if err := sc.requireActive(); err != nil {
		return nil, err
	}
	if !in.Trusted.IsExternal() {
		return nil, shared.BadRequest("trusted currency must be an external resource")
	}
	remote, err := sc.resolver.Currency(ctx, in.Trusted)
	if err != nil {
		return nil, err
	}
	if remote.Attributes.Keys.ExternalIssuer == "" {
		return nil, shared.BadRequest("currency %s does not accept external trade", remote.Attributes.Code)
	}
	line, err := trustline.NewTrustline(remote.ID, in.Limit)
	if err != nil {
		return nil, badInput(err)
	}
	if _, err := sc.repos.Trustlines.GetByTrusted(ctx, line.TrustedID); err == nil {
		return nil, trustline.ErrDuplicateTrustline{TrustedID: line.TrustedID}
	} else if !errors.Is(err, trustline.ErrTrustlineNotFound{}) {
		return nil, err
	}

	if err := s.trust(ctx, sc, remote.Attributes.Keys.ExternalIssuer, in.Limit); err != nil {
		return nil, err
	}
	if err := sc.repos.Trustlines.Create(ctx, line); err != nil {
		return nil, err
	}
	sc.logger.Info("Trustline created", "trusted", remote.Attributes.Code, "limit", in.Limit)
	return line, nil
}

// UpdateTrustline changes the limit of a trustline on the ledger.
func (s *Service) UpdateTrustline(ctx context.Context, actor shared.Actor, code string, id uuid.UUID, limit int64) (*trustline.Trustline, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	if err := sc.requireAdmin(actor); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, badInput(trustline.ErrInvalidLimit)
	}
	line, err := sc.repos.Trustlines.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	ident, err := sc.resolver.Lookup(ctx, line.TrustedID, federation.TypeCurrencies)
	if err != nil {
		return nil, err
	}
	remote, err := sc.resolver.Currency(ctx, ident)
	if err != nil {
		return nil, err
	}
	if err := s.trust(ctx, sc, remote.Attributes.Keys.ExternalIssuer, limit); err != nil {
		return nil, err
	}
	line.Limit = limit
	line.UpdatedAt = s.now()
	if err := sc.repos.Trustlines.Update(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// GetTrustline returns one trustline of the currency.
func (s *Service) GetTrustline(ctx context.Context, code string, id uuid.UUID) (*trustline.Trustline, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	return sc.repos.Trustlines.GetByID(ctx, id)
}

// ListTrustlines returns every trustline of the currency.
func (s *Service) ListTrustlines(ctx context.Context, code string) ([]*trustline.Trustline, error) {
	sc, err := s.open(ctx, code)
	if err != nil {
		return nil, err
	}
	return sc.repos.Trustlines.List(ctx)
}

func (s *Service) trust(ctx context.Context, sc *scope, trustedIssuer string, limit int64) error {
	sponsor, err := s.sponsor()
	if err != nil {
		return err
	}
	trader, err := sc.roleKey(ctx, externalTraderKey)
	if err != nil {
		return err
	}
	issuer, err := sc.roleKey(ctx, externalIssuerKey)
	if err != nil {
		return err
	}
	err = s.ledger.TrustCurrency(ctx, sc.ledgerCurrency(), settlement.TrustLine{
		TrustedIssuer: trustedIssuer,
		Limit:         sc.cur.AmountToLedger(limit),
	}, settlement.TrustKeys{Sponsor: sponsor, ExternalTrader: trader, ExternalIssuer: issuer})
	if err != nil {
		sc.logger.Error("Failed to trust currency", "trusted_issuer", trustedIssuer, "error", err)
		return err
	}
	return nil
}
