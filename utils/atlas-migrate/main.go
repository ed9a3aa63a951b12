// Package main - Atlas GORM migration support binary
package main

import (
	"fmt"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/alwitt/custody/db"
	"github.com/apex/log"
	"github.com/spf13/pflag"
)

func main() {
	dialect := pflag.String("dialect", "sqlite", "target SQL dialect")
	pflag.Parse()

	stmts, err := gormschema.New(*dialect).Load(
		&db.SystemEventAuditDBEntry{},
		&db.VaultParamsDBEntry{},
		&db.DocumentVersionDBEntry{},
		&db.ShareLinkDBEntry{},
		&db.ShareAccessEventDBEntry{},
	)
	if err != nil {
		log.WithError(err).Fatal("Failed to load GORM models")
	}
	fmt.Printf("%s\n", stmts)
}
