// Package main - share link janitor binary
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alwitt/custody"
	"github.com/alwitt/custody/blob"
	"github.com/alwitt/custody/config"
	"github.com/apex/log"
	"github.com/spf13/pflag"
)

func main() {
	configFile := pflag.String("config", "", "vault config YAML. Defaults and VAULT_ environment if empty.")
	once := pflag.Bool("once", false, "run a single cleanup pass and exit")
	defineSchema := pflag.Bool("define-schema", false, "create missing tables on start")
	debug := pflag.Bool("debug", false, "debug logging")
	pflag.Parse()

	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.WithError(err).Fatal("Failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The janitor never reads documents
	vault, err := custody.NewVaultFromConfig(ctx, cfg, blob.NewDetachedStore(), *defineSchema)
	if err != nil {
		log.WithError(err).Fatal("Failed to start vault")
	}
	defer func() {
		if err := vault.Close(); err != nil {
			log.WithError(err).Error("Failed to close vault")
		}
	}()

	if *once {
		report, err := vault.Shares.CleanupExpiredLinks(ctx, time.Now())
		if err != nil {
			log.WithError(err).Error("Share link cleanup failed")
			return
		}
		log.WithFields(log.Fields{
			"keys-destroyed": report.KeysDestroyed,
			"links-deleted":  report.LinksDeleted,
		}).Info("Share link cleanup complete")
		return
	}

	done, err := vault.Shares.StartJanitor(ctx, cfg.Share.CleanupInterval)
	if err != nil {
		log.WithError(err).Error("Failed to start share link janitor")
		return
	}
	<-done
}
