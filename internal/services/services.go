package services

import (
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-bounty-bot/internal/transport"
)

// Options configure the service bundle.
type Options struct {
	// BotWriterTag marks every document write made by this process.
	BotWriterTag string
	BoardURL     string
	// FallbackChannel receives cards and DM-failure notices when a workspace
	// has no channel of its own configured.
	FallbackChannel string
	ModalTimeout    time.Duration
	ConflictRetries int
	// Now overrides the clock; nil means time.Now.
	Now func() time.Time
}

// Services groups the wired bounty services.
type Services struct {
	Cards      *CardService
	Derived    *DerivedService
	Wallets    *WalletService
	Lists      *ListService
	Lifecycle  *LifecycleService
	Router     *ActivityRouter
	Reconciler *Reconciler
}

// New wires all services over one store and one transport.
func New(db *gorm.DB, t transport.Transport, opts Options) *Services {
	if opts.BotWriterTag == "" {
		opts.BotWriterTag = "bountybot"
	}
	w := &recordWriter{DB: db, WriterTag: opts.BotWriterTag, MaxRetries: opts.ConflictRetries, Now: opts.Now}
	n := &notifier{T: t, OperatorChannel: opts.FallbackChannel}

	cards := NewCardService(db, t, w, opts.BoardURL, opts.FallbackChannel)
	derived := &DerivedService{DB: db, writer: w}
	wallets := &WalletService{DB: db, T: t, ModalTimeout: opts.ModalTimeout}
	lists := &ListService{DB: db, T: t, BoardURL: opts.BoardURL, Now: opts.Now}
	lc := &LifecycleService{
		DB:           db,
		T:            t,
		Cards:        cards,
		Derived:      derived,
		Wallets:      wallets,
		ModalTimeout: opts.ModalTimeout,
		writer:       w,
		notify:       n,
	}
	return &Services{
		Cards:     cards,
		Derived:   derived,
		Wallets:   wallets,
		Lists:     lists,
		Lifecycle: lc,
		Router: &ActivityRouter{
			T:            t,
			Lifecycle:    lc,
			Wallets:      wallets,
			Lists:        lists,
			BotWriterTag: opts.BotWriterTag,
		},
		Reconciler: &Reconciler{
			DB:        db,
			Lifecycle: lc,
			Derived:   derived,
			Lists:     lists,
			Now:       opts.Now,
		},
	}
}
