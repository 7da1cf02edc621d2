package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/trezcool/darasa/core"
	"github.com/trezcool/darasa/core/user"
)

var cliRoles = map[string][]string{
	"student": user.StudentRoles,
	"teacher": user.TeacherRoles,
	"admin":   user.AllRoles,
}

// addUser updates or creates an active user.User with the given role.
func (cli *commandLine) addUser(ctx context.Context, name, uname, email, pwd, role string) error {
	roles, ok := cliRoles[role]
	if !ok {
		return fmt.Errorf("%q: no such role", role)
	}
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)
	name = core.CleanString(name)

	lookup := uname
	if lookup == "" {
		lookup = email
		uname = email
	}
	now := user.NowFunc().UTC()
	usr, err := cli.usrRepo.GetUser(ctx, user.GetFilter{UsernameOrEmail: lookup})
	exists := err == nil
	if !exists {
		if errors.Cause(err) != user.ErrNotFound {
			return err
		}
		if name == "" {
			name = lookup
		}
		usr = user.User{Username: uname, Email: email, CreatedAt: now}
	}
	if name != "" {
		usr.Name = name
	}
	usr.Roles = roles
	usr.IsActive = true
	usr.UpdatedAt = now
	if err = usr.SetPassword(pwd); err != nil {
		return err
	}

	if exists {
		_, err = cli.usrRepo.UpdateUser(ctx, usr)
	} else {
		_, err = cli.usrRepo.CreateUser(ctx, usr)
	}
	if err != nil {
		return errors.Wrap(err, "saving user")
	}
	cli.logger.Info(fmt.Sprintf("user %s saved", lookup))
	return nil
}
