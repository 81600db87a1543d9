package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anyproto/any-sync/app"
	"github.com/anyproto/any-sync/app/logger"
	"go.uber.org/zap"

	"github.com/anyproto/anytype-object-store/config"
	"github.com/anyproto/anytype-object-store/db"
	"github.com/anyproto/anytype-object-store/docstore/badgerstore"
	"github.com/anyproto/anytype-object-store/docstore/mongostore"
	"github.com/anyproto/anytype-object-store/objects/migration"
	"github.com/anyproto/anytype-object-store/objects/objectrepo"
	"github.com/anyproto/anytype-object-store/objects/serializer"
	"github.com/anyproto/anytype-object-store/objects/typeregistry"
	"github.com/anyproto/anytype-object-store/objects/usage"
)

var log = logger.NewNamed("main")

var configPath = flag.String("c", "etc/config.yml", "path to the config file")

func main() {
	flag.Parse()

	conf, err := config.NewFromFile(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "can't load config:", err)
		os.Exit(1)
	}

	a := new(app.App)
	a.Register(conf).
		Register(typeregistry.New()).
		Register(serializer.New()).
		Register(migration.New()).
		Register(usage.New()).
		Register(objectrepo.New())
	switch conf.Store {
	case config.StoreMongo:
		a.Register(db.New()).Register(mongostore.New())
	case config.StoreBadger:
		a.Register(badgerstore.New())
	default:
		fmt.Fprintf(os.Stderr, "unknown store backend %q\n", conf.Store)
		os.Exit(1)
	}

	ctx := context.Background()
	if err = a.Start(ctx); err != nil {
		log.Fatal("can't start app", zap.Error(err))
	}
	log.Info("app started", zap.String("store", conf.Store), zap.String("version", a.Version()))

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
	sig := <-exit
	log.Info("received exit signal, stopping app...", zap.String("signal", sig.String()))

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err = a.Close(ctx); err != nil {
		log.Fatal("close error", zap.Error(err))
	}
	log.Info("goodbye!")
}
