package main

import (
	"context"
	"fmt"

	"github.com/trezcool/checkin/core/auth"
)

func (cli *commandLine) login(ctx context.Context, email, pwd string) error {
	usr, err := cli.authSvc.Login(ctx, auth.Credentials{Email: email, Password: pwd})
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "Signed in as %s <%s> (%s)\n", usr.Name, usr.Email, usr.Role)
	return nil
}

func (cli *commandLine) logout(ctx context.Context) error {
	if err := cli.authSvc.Logout(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cli.out, "Signed out")
	return nil
}

func (cli *commandLine) whoami(ctx context.Context) error {
	usr, err := cli.authSvc.CurrentUser(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s <%s> (%s)", usr.Name, usr.Email, usr.Role)
	if usr.IsStudent() {
		fmt.Fprintf(cli.out, " roll %s", usr.StudentRoll)
	}
	fmt.Fprintln(cli.out)
	return nil
}
