package services

import (
	"errors"
	"strings"
	"testing"

	"github.com/tbourn/go-bounty-bot/internal/domain"
	"github.com/tbourn/go-bounty-bot/internal/repo"
	"github.com/tbourn/go-bounty-bot/internal/transport"
	"github.com/tbourn/go-bounty-bot/internal/transport/memory"
)

func TestRegisterWallet_StoreAndDelete(t *testing.T) {
	e := newTestEnv(t)
	res, err := e.svc.Wallets.Register(e.ctx, e.command(domain.ActivityWallet, "u2", "", map[string]string{"address": testWallet}))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if !strings.Contains(res.Message, testWallet) {
		t.Fatalf("confirmation should echo the address: %q", res.Message)
	}
	u, err := repo.GetUser(e.ctx, e.db, "u2")
	if err != nil || u.WalletAddress == nil || *u.WalletAddress != testWallet {
		t.Fatalf("wallet not stored: %+v err=%v", u, err)
	}

	if _, err := e.svc.Wallets.Register(e.ctx, e.command(domain.ActivityWallet, "u2", "", map[string]string{"address": "delete"})); err != nil {
		t.Fatalf("Register DELETE: %v", err)
	}
	u, err = repo.GetUser(e.ctx, e.db, "u2")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.WalletAddress != nil {
		t.Fatalf("wallet should be cleared, got %q", *u.WalletAddress)
	}
}

func TestRegisterWallet_Invalid(t *testing.T) {
	e := newTestEnv(t)
	for _, addr := range []string{"0x123", "1111111111111111111111111111111111111111", "0xZZ11111111111111111111111111111111111111"} {
		_, err := e.svc.Wallets.Register(e.ctx, e.command(domain.ActivityWallet, "u2", "", map[string]string{"address": addr}))
		var ve *ValidationError
		if !errors.As(err, &ve) {
			t.Fatalf("address %q: expected ValidationError, got %v", addr, err)
		}
	}
	if _, err := repo.GetUser(e.ctx, e.db, "u2"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("invalid addresses must not be stored, got %v", err)
	}
}

func TestRegisterWallet_ModalPrefillAndCancel(t *testing.T) {
	e := newTestEnv(t)
	e.registerWallet(t, "u2")
	e.tr.QueueModal(memory.ModalReply{Err: transport.ErrCancelled})

	req := e.command(domain.ActivityWallet, "u2", "", nil)
	req.Interaction = &transport.Interaction{UserID: "u2"}
	if _, err := e.svc.Wallets.Register(e.ctx, req); !errors.Is(err, ErrCancelled) {
		t.Fatalf("expected ErrCancelled, got %v", err)
	}
	prompts := e.tr.Prompts()
	if len(prompts) != 1 || prompts[0].Inputs[0].Value != testWallet {
		t.Fatalf("modal should be prefilled with the current address: %+v", prompts)
	}
}

func TestRegisterWallet_ModalTimeout(t *testing.T) {
	e := newTestEnv(t)
	req := e.command(domain.ActivityWallet, "u2", "", nil)
	req.Interaction = &transport.Interaction{UserID: "u2"}
	_, err := e.svc.Wallets.Register(e.ctx, req)
	var te *TimeoutError
	if !errors.As(err, &te) || !te.Modal {
		t.Fatalf("expected modal TimeoutError, got %v", err)
	}
	if UserMessage(err) == "" {
		t.Fatalf("timeouts need a user-facing message")
	}
}

func TestClaim_WalletModalRegistersThenClaims(t *testing.T) {
	e := newTestEnv(t)
	b := e.publish(t, "u1", nil)
	e.tr.QueueModal(memory.ModalReply{Values: map[string]string{"address": testWallet}})

	req := e.command(domain.ActivityClaim, "u2", b.ID, nil)
	req.Interaction = &transport.Interaction{UserID: "u2"}
	if _, err := e.svc.Lifecycle.Claim(e.ctx, req); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if got := e.reload(t, b.ID).Status; got != domain.StatusInProgress {
		t.Fatalf("status = %q, want in_progress", got)
	}
}
