// Package services – WalletService
//
// WalletService registers payout wallets. Addresses are validated before they
// are stored; the sentinel "DELETE" removes the stored address.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport"
)

const walletDeleteSentinel = "DELETE"

// WalletService manages user wallet addresses.
type WalletService struct {
	DB           *gorm.DB
	T            transport.Transport
	ModalTimeout time.Duration
}

// Register stores, replaces or deletes the actor's wallet. Without an
// "address" parameter an interactive request gets a form prefilled with the
// current address.
func (s *WalletService) Register(ctx context.Context, req Request) (*Result, error) {
	tr := otel.Tracer("services/WalletService")
	ctx, span := tr.Start(ctx, "Register",
		trace.WithAttributes(attribute.String("user.id", req.Actor.ID)),
	)
	defer span.End()

	addr := req.Param("address")
	if addr == "" {
		if !req.interactive() {
			return nil, validationf("Please provide a wallet address, or DELETE to remove the one on file.")
		}
		current, err := s.current(ctx, req.Actor.ID)
		if err != nil {
			return nil, err
		}
		vals, err := promptModal(ctx, s.T, s.ModalTimeout, req.Interaction, walletModal(current))
		if err != nil {
			return nil, err
		}
		addr = trimmed(vals["address"])
	}
	msg, err := s.store(ctx, req.Actor.ID, addr)
	if err != nil {
		return nil, err
	}
	return &Result{Message: msg}, nil
}

func walletModal(current string) transport.Modal {
	return transport.Modal{
		Title: "Register Wallet",
		Inputs: []transport.Input{{
			ID:          "address",
			Label:       "Ethereum Wallet Address",
			Placeholder: "0x...",
			Value:       current,
			MaxLength:   42,
		}},
	}
}

func (s *WalletService) current(ctx context.Context, userID string) (string, error) {
	u, err := repo.GetUser(ctx, s.DB, userID)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return "", nil
	case err != nil:
		return "", runtimeErr("load user", err)
	case u.WalletAddress == nil:
		return "", nil
	}
	return *u.WalletAddress, nil
}

// store validates addr and upserts it. "DELETE" clears the address.
func (s *WalletService) store(ctx context.Context, userID, addr string) (string, error) {
	addr = trimmed(addr)
	if strings.EqualFold(addr, walletDeleteSentinel) {
		if err := repo.UpsertWallet(ctx, s.DB, userID, nil); err != nil {
			return "", runtimeErr("delete wallet", err)
		}
		log.Info().Str("user_id", userID).Msg("wallet deleted")
		return "Your wallet address has been deleted.", nil
	}
	if !ValidWallet(addr) {
		return "", validationf("Please enter a valid Ethereum wallet address (0x followed by 40 hexadecimal characters).")
	}
	if err := repo.UpsertWallet(ctx, s.DB, userID, &addr); err != nil {
		return "", runtimeErr("store wallet", err)
	}
	log.Info().Str("user_id", userID).Msg("wallet registered")
	return "<@" + userID + ">, your wallet address has been registered as " + addr + ".\n" +
		"You can change it by using the /register-wallet command.", nil
}

// ensure makes sure the actor has a wallet before a claim. Interactive
// requests are asked for one; others fail with a ValidationError.
func (s *WalletService) ensure(ctx context.Context, req Request) error {
	current, err := s.current(ctx, req.Actor.ID)
	if err != nil || current != "" {
		return err
	}
	if !req.interactive() {
		return validationf("You must register a wallet address to claim a bounty.\n" +
			"Please enter your wallet address with the command `/register-wallet` and then try claiming the bounty again.")
	}
	vals, err := promptModal(ctx, s.T, s.ModalTimeout, req.Interaction, walletModal(""))
	if err != nil {
		return err
	}
	if _, err := s.store(ctx, req.Actor.ID, vals["address"]); err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			return validationf("Unable to complete this operation.\n" +
				"Please try entering your wallet address with the command `/register-wallet` and then try claiming the bounty again.")
		}
		return err
	}
	if current, err = s.current(ctx, req.Actor.ID); err != nil {
		return err
	}
	if current == "" {
		return validationf("You must enter a wallet address to claim a bounty.\n" +
			"Please try entering your wallet address with the command `/register-wallet` and then try claiming the bounty again.")
	}
	return nil
}

// lookupIdentity returns a snapshot of userID, falling back to the bare id.
func lookupIdentity(ctx context.Context, t transport.Transport, workspaceID, userID string) domain.Identity {
	id, err := t.LookupUser(ctx, workspaceID, userID)
	if err != nil || id.ID == "" {
		return domain.Identity{ID: userID, Handle: userID}
	}
	return id
}
