// pitmesh-node runs one market bot's messaging stack: every configured
// channel, the routing collection over them, and the default in-process
// crypto authority. Real deployments replace the mem transports and the
// authority with their own implementations of the channel and api contracts.
package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"pitmesh/pkg/channel"
	"pitmesh/pkg/collection"
	"pitmesh/pkg/config"
	"pitmesh/pkg/crypto/boxes"
	"pitmesh/pkg/observability"
	"pitmesh/pkg/orderbook"
	"pitmesh/pkg/scheduler"
	"pitmesh/pkg/transport/mem"
)

func main() {
	opts := ParseFlags(os.Args[1:])
	cfg := config.MustLoad(opts.ConfigPath)

	logger, err := observability.SetupLogger(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	nick := cfg.Nick
	if opts.Nick != "" {
		nick = opts.Nick
	}
	if nick == "" {
		nick = randomNick()
	}

	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		logger.Fatal("generate signing key", zap.Error(err))
	}
	sched := scheduler.New()
	auth := boxes.NewAuthority(priv)
	ring := boxes.NewRing()

	hubs := make(map[string]*mem.Hub)
	var chans []*channel.Channel
	for _, cc := range cfg.Channels {
		if cc.Kind != "mem" {
			logger.Warn("unsupported channel kind, skipping",
				zap.String("kind", cc.Kind), zap.String("hostid", cc.HostID))
			continue
		}
		hub := hubs[cc.Address]
		if hub == nil {
			hub = mem.NewHub(cc.Address)
			hubs[cc.Address] = hub
		}
		chans = append(chans, channel.New(channel.Config{
			HostID:    cc.HostID,
			Transport: hub.Transport(cc.HostID),
			Scheduler: sched,
			Verifier:  auth,
			Keys:      ring,
			MsgRate:   rate.Limit(cfg.Net.PubmsgRatePerSec),
			MsgBurst:  cfg.Net.PubmsgBurst,
		}))
	}
	if len(chans) == 0 {
		logger.Fatal("no usable channels configured")
	}

	coll := collection.New(collection.Config{
		Channels:     chans,
		Scheduler:    sched,
		Signer:       auth,
		Keys:         ring,
		WelcomeGrace: time.Duration(cfg.Net.WelcomeGraceSec) * time.Second,
	})
	auth.Bind(
		func(counterparty, cmd, message, hostid string) {
			coll.Privmsg(counterparty, cmd, message, hostid)
		},
		coll.OnVerifiedPrivmsg,
	)

	book := orderbook.New()
	coll.SetHandlers(collection.Handlers{
		OnWelcome: func() {
			logger.Info("all channels ready", zap.String("nick", coll.Nick()))
			coll.RequestOrderbook()
		},
		OnDisconnect: func() { logger.Warn("all message channels down") },
		OnOrderSeen:  book.UpsertOffer,
		OnOrderCancel: func(nick string, oid int) {
			book.Cancel(nick, oid)
		},
		OnFidelityBondSeen: func(nick, _, proof string) { book.SetBond(nick, proof) },
		OnNickLeave:        book.RemoveCounterparty,
	})
	coll.SetNick(nick)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	coll.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down")
	coll.Shutdown()
	if snap, err := book.MarshalJSON(); err == nil {
		logger.Debug("final orderbook", zap.ByteString("snapshot", snap))
	}
}

func randomNick() string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "pit" + hex.EncodeToString(b[:])
}
