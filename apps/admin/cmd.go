package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"golang.org/x/term"

	"github.com/trezcool/presence/core/account"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sql.DB
	auth       account.AuthService
	prov       *account.Provisioner
	profileSvc *account.Service
	closers    []func() error
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  provision -role student|teacher -name NAME -email EMAIL -department DEPT -admin-email EMAIL [-phone PHONE] [-year YEAR] [-code CODE] [-photo PATH]")
	fmt.Fprintln(cli.out, "      - create a student or teacher account. The temporary and admin passwords will be prompted next.")
	fmt.Fprintln(cli.out, "  setactive -role student|teacher -email EMAIL -active=true|false -admin-email EMAIL")
	fmt.Fprintln(cli.out, "      - activate or deactivate a profile. The admin password will be prompted next.")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS...] - run a goose command against the database")
}

func (cli *commandLine) close() {
	for _, closeFn := range cli.closers {
		_ = closeFn()
	}
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "provision":
		return cli.runProvision(args[2:])
	case "setactive":
		return cli.runSetActive(args[2:])
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])
	default:
		cli.printUsage()
		return errHelp
	}
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

// readPassword prompts for a password; an empty one is an errHelp.
func (cli *commandLine) readPassword(fs *flag.FlagSet, prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(os.Stdin.Fd()))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	if len(pwd) == 0 {
		fs.Usage()
		return "", errHelp
	}
	return string(pwd), nil
}

func parseRole(val string) (account.Role, error) {
	role, ok := account.ParseRole(val)
	if !ok {
		return "", fmt.Errorf("invalid role %q: must be student or teacher", val)
	}
	return role, nil
}
