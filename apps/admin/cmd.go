package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"syscall"

	"golang.org/x/term"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
	schedsvc "github.com/trezcool/darasa/services/scheduler"
	"github.com/trezcool/darasa/storage/database"
)

var (
	readPasswordFunc = term.ReadPassword // mockable
	migrateFunc      = database.Migrate  // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	logger     core.Logger
	usrSvc     *user.Service
	usrRepo    user.Repository
	reconciler schedsvc.Reconciler
	maintainer schedsvc.Maintainer
}

func (cli *commandLine) printUsage() {
	fmt.Println("Usage:")
	fmt.Println("  migrate COMMAND [ARGS...] - run a goose command (up, down, status...) against the app database")
	fmt.Println("  adduser -username USERNAME -email EMAIL [-name NAME] [-role student|teacher|admin] - create or update a user")
	fmt.Println("  resetpassword -username USERNAME|EMAIL - reset user's password")
	fmt.Println("  reconcile - replay the month unlocks of settled payments")
	fmt.Println("  expire - expire the subscriptions whose next payment is overdue")
	fmt.Println("  recount - recompute the class enrollment counters")
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := flag.NewFlagSet("adduser", flag.ContinueOnError)
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserUname := addUserCmd.String("username", "", "The user's username. The password will be prompted next.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserRole := addUserCmd.String("role", "student", "The user's role: student, teacher or admin.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordUname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")

	ctx := context.Background()

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return migrateFunc(cli.db, args[2], args[3:]...)
	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *addUserUname == "" && *addUserEmail == "" {
			addUserCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(ctx, *addUserName, *addUserUname, *addUserEmail, pwd, *addUserRole)
	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *resetPasswordUname == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.usrSvc.SetPassword(ctx, core.CleanString(*resetPasswordUname, true /* lower */), pwd)
	case "reconcile":
		return schedsvc.ReconcileJob(cli.reconciler, cli.logger)(ctx)
	case "expire":
		return schedsvc.ExpireJob(cli.maintainer, cli.logger)(ctx)
	case "recount":
		return schedsvc.RecountJob(cli.maintainer, cli.logger)(ctx)
	default:
		cli.printUsage()
		return errHelp
	}
}

func promptPassword() (string, error) {
	fmt.Print("Enter password:")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}
