package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/trezcool/presence/core/account"
)

var readFileFunc = os.ReadFile // mockable

func (cli *commandLine) runProvision(args []string) error {
	cmd := cli.newFlagSet("provision")
	role := cmd.String("role", "", "student or teacher")
	name := cmd.String("name", "", "The full name.")
	email := cmd.String("email", "", "The sign in email.")
	dept := cmd.String("department", "", "The department.")
	phone := cmd.String("phone", "", "The phone number (optional).")
	year := cmd.Int("year", 0, "The enrollment year of a student, defaults to the current year.")
	code := cmd.String("code", "", "The teacher code, required for teachers.")
	photo := cmd.String("photo", "", "Path to a photo (optional).")
	adminEmail := cmd.String("admin-email", "", "The email of the acting admin.")

	if err := cmd.Parse(args); err != nil {
		return errHelp
	}
	if *role == "" || *name == "" || *email == "" || *dept == "" || *adminEmail == "" {
		cmd.Usage()
		return errHelp
	}
	r, err := parseRole(*role)
	if err != nil {
		return err
	}

	fields := account.AccountFields{
		Name:       *name,
		Email:      *email,
		Department: *dept,
		Phone:      *phone,
	}
	if *photo != "" {
		data, err := readFileFunc(*photo)
		if err != nil {
			return errors.Wrap(err, "reading photo")
		}
		fields.Photo = &account.Photo{Data: data, ContentType: mime.TypeByExtension(filepath.Ext(*photo))}
	}
	if fields.TempPassword, err = cli.readPassword(cmd, fmt.Sprintf("Enter temporary password for %s:", *email)); err != nil {
		return err
	}
	if fields.AdminPassword, err = cli.readPassword(cmd, fmt.Sprintf("Enter password of %s:", *adminEmail)); err != nil {
		return err
	}

	var req account.Request = account.StudentRequest{AccountFields: fields, EnrollmentYear: *year}
	if r == account.RoleTeacher {
		req = account.TeacherRequest{AccountFields: fields, TeacherCode: *code}
	}
	return cli.provision(context.Background(), *adminEmail, req)
}

// provision signs the admin in, then creates the account.
func (cli *commandLine) provision(ctx context.Context, adminEmail string, req account.Request) error {
	sess, err := cli.auth.Authenticate(ctx, adminEmail, req.Fields().AdminPassword)
	if err != nil {
		return errors.Wrap(err, "signing in")
	}

	res, err := cli.prov.Provision(ctx, &sess, req)
	if err != nil {
		if accErr, ok := account.AsError(err); ok && accErr.Orphaned() {
			fmt.Fprintf(cli.out, "attempt %s left identity %q without a profile (%s)\n", accErr.AttemptID, accErr.IdentityID, accErr.State)
		}
		return err
	}

	fmt.Fprintf(cli.out, "created %s %s (identity %s, attempt %s)\n", res.Profile.Role, res.Profile.Email, res.IdentityID, res.AttemptID)
	if res.PhotoURL != "" {
		fmt.Fprintf(cli.out, "photo: %s\n", res.PhotoURL)
	}
	for _, w := range res.Warnings {
		fmt.Fprintf(cli.out, "warning: %s\n", w)
	}
	return nil
}
