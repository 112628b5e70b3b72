package main

import (
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/trezcool/checkin/core/attendance"
)

// mark submits like the kiosk does, without a photo.
func (cli *commandLine) mark(ctx context.Context, roll, name string) error {
	out := cli.attendance.Submit(ctx, attendance.Identity{Roll: roll, Name: name})
	switch out.Kind {
	case attendance.Success:
		fmt.Fprintf(cli.out, "%s (%s UTC)\n", out.Message, out.Timestamp.UTC().Format("2006-01-02 15:04:05"))
		return nil
	case attendance.AlreadyMarked:
		fmt.Fprintln(cli.out, out.Message)
		return nil
	}
	return errors.New(out.Message)
}

func (cli *commandLine) records(ctx context.Context, f attendance.Filter) error {
	records, err := cli.attendance.Records(ctx, f)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Fprintln(cli.out, "No attendance records found")
		return nil
	}
	w := tabwriter.NewWriter(cli.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tTIME\tROLL\tNAME\tSTATUS")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.Date(), r.Clock(), r.Roll, r.Name, r.Status)
	}
	return w.Flush()
}

func (cli *commandLine) stats(ctx context.Context, roll string) error {
	stats, err := cli.attendance.Stats(ctx, roll)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "present: %d\nabsent: %d\ntotal: %d\n", stats.Present, stats.Absent, stats.Total)
	return nil
}
