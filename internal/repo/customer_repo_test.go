package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/tbourn/go-bounty-bot/internal/domain"
)

func TestUpsertCustomer_InsertThenUpdate(t *testing.T) {
	db := newTestDB(t, &domain.Customer{})
	ctx := context.Background()

	if err := UpsertCustomer(ctx, db, &domain.Customer{CustomerID: "w1", Name: "Guild", BountyChannel: "c1"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := UpsertCustomer(ctx, db, &domain.Customer{CustomerID: "w1", Name: "Guild", BountyChannel: "c2", FallbackChannel: "fb"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	c, err := GetCustomer(ctx, db, "w1")
	if err != nil {
		t.Fatalf("GetCustomer: %v", err)
	}
	if c.BountyChannel != "c2" || c.FallbackChannel != "fb" {
		t.Fatalf("unexpected customer: %+v", c)
	}
}

func TestSetLastListMessage(t *testing.T) {
	db := newTestDB(t, &domain.Customer{})
	ctx := context.Background()

	if err := SetLastListMessage(ctx, db, "missing", nil, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown customer, got %v", err)
	}
	if err := UpsertCustomer(ctx, db, &domain.Customer{CustomerID: "w1", BountyChannel: "c1"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ptr := &domain.MessagePointer{ChannelID: "c1", MessageID: "m1"}
	if err := SetLastListMessage(ctx, db, "w1", ptr, "https://chat/m1"); err != nil {
		t.Fatalf("SetLastListMessage: %v", err)
	}
	c, _ := GetCustomer(ctx, db, "w1")
	if c.LastListMessage == nil || c.LastListMessage.MessageID != "m1" || c.LastListURL != "https://chat/m1" {
		t.Fatalf("unexpected last list: %+v", c)
	}

	if err := SetLastListMessage(ctx, db, "w1", nil, ""); err != nil {
		t.Fatalf("clear: %v", err)
	}
	c, _ = GetCustomer(ctx, db, "w1")
	if c.LastListMessage != nil || c.LastListURL != "" {
		t.Fatalf("expected cleared last list, got %+v", c)
	}
}

func TestUpsertWallet_SetAndClear(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	ctx := context.Background()

	if _, err := GetUser(ctx, db, "u1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	addr := "0x0123456789abcdef0123456789abcdef01234567"
	if err := UpsertWallet(ctx, db, "u1", &addr); err != nil {
		t.Fatalf("set wallet: %v", err)
	}
	u, err := GetUser(ctx, db, "u1")
	if err != nil || u.WalletAddress == nil || *u.WalletAddress != addr {
		t.Fatalf("unexpected user: %+v, %v", u, err)
	}
	if err := UpsertWallet(ctx, db, "u1", nil); err != nil {
		t.Fatalf("clear wallet: %v", err)
	}
	u, _ = GetUser(ctx, db, "u1")
	if u.WalletAddress != nil {
		t.Fatalf("expected wallet cleared, got %q", *u.WalletAddress)
	}
}
