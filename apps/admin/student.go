package main

import (
	"context"
	"fmt"
	"text/tabwriter"
)

func (cli *commandLine) students(ctx context.Context) error {
	students, err := cli.studentSvc.Query(ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tROLL\tNAME\tEMAIL")
	for _, s := range students {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", s.ID, s.Roll, s.Name, s.Email)
	}
	return w.Flush()
}
