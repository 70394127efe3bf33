package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"leveltwo/internal/model"
	"leveltwo/internal/recorder"
	"leveltwo/internal/remote"
	"leveltwo/internal/visitation"
	"leveltwo/pkg/logger"
)

type app struct {
	opts   options
	client *remote.Client
	in     *bufio.Reader
	out    *printer
	log    logger.Logger
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	if cmd == "export" {
		return a.export(ctx)
	}
	if ok, err := a.manage(ctx, cmd, args); ok {
		return err
	}

	screen := recorder.New(recorder.Config{
		Kind:    a.opts.kind,
		Remote:  a.client,
		Confirm: a,
		Log:     a.log,
		Notify:  func(text string) { a.out.Println("•", text) },
	})
	defer screen.Close()
	if err := screen.Open(ctx, a.opts.date); err != nil {
		a.out.Println("warning:", err)
	}
	screen.SetQueryNow(a.opts.query)

	switch cmd {
	case "watch":
		return a.watch(ctx, screen)
	case "mark-all", "mark-remaining":
		status, err := a.status(args, 0)
		if err != nil {
			return err
		}
		if cmd == "mark-all" {
			err = screen.MarkAll(status)
		} else {
			err = screen.MarkRemaining(status)
		}
		if err != nil {
			return err
		}
		return a.save(ctx, screen)
	case "toggle":
		if len(args) < 2 {
			return errors.New("toggle needs <member> <status>")
		}
		m, err := a.member(screen, args[0])
		if err != nil {
			return err
		}
		status, err := a.status(args, 1)
		if err != nil {
			return err
		}
		if err := screen.Toggle(ctx, m.ID, status); err != nil {
			return err
		}
		a.out.Printf("%s: %s\n", m.Name, status.Label())
		return nil
	case "reset":
		return a.resetStored(ctx, screen)
	case "rm":
		return a.removeMember(ctx, screen, args)
	case "stats":
		a.printStats(screen)
		return nil
	}
	return errors.Errorf("unknown command %q", cmd)
}

func (a *app) status(args []string, i int) (model.Status, error) {
	if len(args) <= i {
		return "", errors.Errorf("missing status (%s or %s)", a.opts.kind.Positive(), a.opts.kind.Negative())
	}
	s := model.Status(strings.ToLower(args[i]))
	if !a.opts.kind.Allows(s) {
		return "", errors.Errorf("status must be %s or %s", a.opts.kind.Positive(), a.opts.kind.Negative())
	}
	return s, nil
}

// member resolves an id or a unique part of a name.
func (a *app) member(screen *recorder.Screen, ref string) (model.Member, error) {
	if m, ok := screen.Roster().Member(ref); ok {
		return m, nil
	}
	matches := screen.Roster().Filter(ref)
	switch len(matches) {
	case 0:
		return model.Member{}, errors.Errorf("no member matches %q", ref)
	case 1:
		return matches[0], nil
	}
	return model.Member{}, errors.Errorf("%d members match %q, be more specific", len(matches), ref)
}

func (a *app) save(ctx context.Context, screen *recorder.Screen) error {
	n, err := screen.Save(ctx)
	if err != nil {
		return err
	}
	a.out.Printf("تم حفظ %d سجل\n", n)
	return nil
}

func (a *app) resetStored(ctx context.Context, screen *recorder.Screen) error {
	var ids []string
	for _, row := range screen.Rows() {
		if row.Record != nil {
			ids = append(ids, row.Member.ID)
		}
	}
	if len(ids) == 0 {
		a.out.Println("لا توجد سجلات")
		return nil
	}
	ok, err := a.Confirm(ctx, fmt.Sprintf("سيتم حذف %d سجل ليوم %s. هل تريد المتابعة؟", len(ids), a.opts.date))
	if err != nil || !ok {
		return err
	}
	for _, id := range ids {
		if err := a.client.DeleteRecord(ctx, a.opts.kind, "", id, a.opts.date); err != nil {
			return err
		}
	}
	a.out.Printf("تم حذف %d سجل\n", len(ids))
	return nil
}

func (a *app) printStats(screen *recorder.Screen) {
	st := screen.Stats()
	a.out.Printf("الإجمالي: %d  %s: %d  %s: %d  بدون تسجيل: %d\n",
		st.Total, a.opts.kind.Positive().Label(), st.Positive, a.opts.kind.Negative().Label(), st.Negative, st.Unrecorded)
}

func (a *app) printRows(screen *recorder.Screen) {
	if a.opts.kind == model.KindVisits {
		for _, sec := range screen.Sections() {
			a.out.Printf("== %s ==\n", sec.ServantName)
			recs := screen.Reconciler().Records()
			for _, m := range sec.Members {
				rec, ok := recs[m.ID]
				a.out.Printf("  %s\t%s\t%s\n", m.Name, label(rec, ok), visitation.CallLink(m))
			}
		}
		return
	}
	rows := screen.Rows()
	if len(rows) == 0 {
		a.out.Println("لا يوجد طلاب")
		return
	}
	for _, row := range rows {
		rec := model.Record{}
		if row.Record != nil {
			rec = *row.Record
		}
		a.out.Printf("  %s\t%s\t%s\n", row.Member.Name, label(rec, row.Record != nil), rec.Notes)
	}
}

func label(rec model.Record, ok bool) string {
	if !ok {
		return "-"
	}
	return rec.Status.Label()
}

func (a *app) export(ctx context.Context) error {
	var w io.Writer = os.Stdout
	if a.opts.out != "" {
		f, err := os.Create(a.opts.out)
		if err != nil {
			return errors.Wrap(err, "create export file")
		}
		defer f.Close()
		w = f
	}
	return a.client.Export(ctx, remote.ExportQuery{
		Kind:     a.opts.kind,
		From:     a.opts.from,
		To:       a.opts.to,
		MemberID: a.opts.member,
		Format:   a.opts.format,
	}, w)
}
