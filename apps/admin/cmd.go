package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/jmoiron/sqlx"
	"golang.org/x/term"

	"github.com/trezcool/checkin/core/attendance"
	"github.com/trezcool/checkin/core/auth"
	"github.com/trezcool/checkin/core/student"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db         *sqlx.DB
	authSvc    *auth.Service
	attendance *attendance.Coordinator
	studentSvc *student.Service
	out        io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  login -email EMAIL                          - sign in; the password will be prompted next")
	fmt.Fprintln(cli.out, "  logout                                      - sign out")
	fmt.Fprintln(cli.out, "  whoami                                      - show the signed-in user")
	fmt.Fprintln(cli.out, "  mark -roll ROLL -name NAME                  - mark a student present")
	fmt.Fprintln(cli.out, "  records [-from DATE] [-to DATE] [-roll ROLL] - list attendance records (dates as YYYY-MM-DD)")
	fmt.Fprintln(cli.out, "  stats -roll ROLL                            - attendance stats of a student")
	fmt.Fprintln(cli.out, "  students                                    - list students")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                      - run a goose command on the local store")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}
	ctx := context.Background()

	loginCmd := cli.newFlagSet("login")
	loginEmail := loginCmd.String("email", "", "The user's email. The password will be prompted next.")

	markCmd := cli.newFlagSet("mark")
	markRoll := markCmd.String("roll", "", "The student's roll number.")
	markName := markCmd.String("name", "", "The student's name.")

	recordsCmd := cli.newFlagSet("records")
	recordsFrom := recordsCmd.String("from", "", "First day (YYYY-MM-DD).")
	recordsTo := recordsCmd.String("to", "", "Day after the last one (YYYY-MM-DD).")
	recordsRoll := recordsCmd.String("roll", "", "Only this roll number.")

	statsCmd := cli.newFlagSet("stats")
	statsRoll := statsCmd.String("roll", "", "The student's roll number.")

	switch args[1] {
	case "login":
		if err := loginCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *loginEmail == "" {
			loginCmd.Usage()
			return errHelp
		}
		fmt.Fprint(cli.out, "Enter password:")
		pwd, err := readPasswordFunc(syscall.Stdin)
		fmt.Fprintln(cli.out)
		if err != nil {
			return err
		}
		if len(pwd) == 0 {
			loginCmd.Usage()
			return errHelp
		}
		return cli.login(ctx, *loginEmail, string(pwd))
	case "logout":
		return cli.logout(ctx)
	case "whoami":
		return cli.whoami(ctx)
	case "mark":
		if err := markCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *markRoll == "" || *markName == "" {
			markCmd.Usage()
			return errHelp
		}
		return cli.mark(ctx, *markRoll, *markName)
	case "records":
		if err := recordsCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.records(ctx, attendance.Filter{From: *recordsFrom, To: *recordsTo, Roll: *recordsRoll})
	case "stats":
		if err := statsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statsRoll == "" {
			statsCmd.Usage()
			return errHelp
		}
		return cli.stats(ctx, *statsRoll)
	case "students":
		return cli.students(ctx)
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
