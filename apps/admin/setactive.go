package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

func (cli *commandLine) runSetActive(args []string) error {
	cmd := cli.newFlagSet("setactive")
	role := cmd.String("role", "", "student or teacher")
	email := cmd.String("email", "", "The email of the profile.")
	active := cmd.Bool("active", true, "Whether the profile is active.")
	adminEmail := cmd.String("admin-email", "", "The email of the acting admin.")

	if err := cmd.Parse(args); err != nil {
		return errHelp
	}
	if *role == "" || *email == "" || *adminEmail == "" {
		cmd.Usage()
		return errHelp
	}
	r, err := parseRole(*role)
	if err != nil {
		return err
	}
	pwd, err := cli.readPassword(cmd, fmt.Sprintf("Enter password of %s:", *adminEmail))
	if err != nil {
		return err
	}

	ctx := context.Background()
	sess, err := cli.auth.Authenticate(ctx, *adminEmail, pwd)
	if err != nil {
		return errors.Wrap(err, "signing in")
	}
	prof, err := cli.profileSvc.SetActive(ctx, &sess, r, *email, *active)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "%s %s is_active=%t\n", prof.Role, prof.Email, prof.IsActive)
	return nil
}
