package main

import (
	"context"
	"io"
	"strings"

	"leveltwo/internal/recorder"
)

const watchHelp = `commands: list | stats | search <text> | date <YYYY-MM-DD> | toggle <member> <status>
          note <member> <text> | mark-all <status> | mark-remaining <status> | reset | save | quit`

func (a *app) watch(ctx context.Context, screen *recorder.Screen) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = screen.Run(ctx) }()

	a.out.Println(watchHelp)
	a.printRows(screen)
	for {
		a.out.Printf("%s> ", screen.Reconciler().Date())
		line, err := a.in.ReadString('\n')
		if err == io.EOF && line == "" {
			return nil
		}
		if err != nil && err != io.EOF {
			return err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if done := a.exec(ctx, screen, fields); done {
			if screen.Reconciler().HasUnsavedChanges() {
				a.out.Println("تنبيه: توجد تغييرات غير محفوظة")
			}
			return nil
		}
	}
}

// exec runs one watch command and reports whether the loop should end.
func (a *app) exec(ctx context.Context, screen *recorder.Screen, fields []string) bool {
	cmd, args := fields[0], fields[1:]
	var err error
	switch cmd {
	case "quit", "exit":
		return true
	case "list":
		a.printRows(screen)
	case "stats":
		a.printStats(screen)
	case "search":
		screen.SetQuery(strings.Join(args, " "))
	case "date":
		if len(args) == 0 {
			a.out.Println(watchHelp)
			return false
		}
		a.opts.date = args[0]
		err = screen.SetDate(args[0])
		a.printRows(screen)
	case "toggle":
		if len(args) < 2 {
			a.out.Println(watchHelp)
			return false
		}
		m, merr := a.member(screen, args[0])
		if merr != nil {
			err = merr
			break
		}
		s, serr := a.status(args, 1)
		if serr != nil {
			err = serr
			break
		}
		err = screen.Toggle(ctx, m.ID, s)
	case "note":
		if len(args) < 1 {
			a.out.Println(watchHelp)
			return false
		}
		m, merr := a.member(screen, args[0])
		if merr != nil {
			err = merr
			break
		}
		err = screen.UpdateNotes(m.ID, strings.Join(args[1:], " "))
	case "mark-all", "mark-remaining":
		s, serr := a.status(args, 0)
		if serr != nil {
			err = serr
			break
		}
		if cmd == "mark-all" {
			err = screen.MarkAll(s)
		} else {
			err = screen.MarkRemaining(s)
		}
	case "reset":
		err = screen.Reset()
	case "save":
		err = a.save(ctx, screen)
	default:
		a.out.Println(watchHelp)
	}
	if err != nil {
		a.out.Println("error:", err)
	}
	return false
}
