// Package appfs embeds the files the binaries need at runtime: SQL migrations, email templates & assets.
package appfs

import "embed"

//go:embed migrations/*.sql templates/email/* assets/*
var FS embed.FS

const (
	MigrationsDir     = "migrations"
	EmailTemplatesDir = "templates/email"
	CommonPasswordsGz = "assets/common-passwords.txt.gz"
)
