package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"

	"leveltwo/internal/model"
	"leveltwo/internal/recorder"
)

// manage runs the roster commands that need no screen. ok is false for any
// other command.
func (a *app) manage(ctx context.Context, cmd string, args []string) (ok bool, err error) {
	switch cmd {
	case "add":
		return true, a.addMember(ctx, args)
	case "import":
		return true, a.importMembers(ctx, args)
	case "distribute":
		return true, a.distribute(ctx)
	}
	return false, nil
}

func (a *app) addMember(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("add needs <name> [phone] [notes]")
	}
	m := model.Member{Name: args[0]}
	if len(args) > 1 && args[1] != "" {
		m.Phones = []string{args[1]}
	}
	if len(args) > 2 {
		m.Notes = strings.Join(args[2:], " ")
	}
	created, err := a.client.CreateMember(ctx, m)
	if err != nil {
		return err
	}
	a.out.Printf("تمت إضافة %s (%s)\n", created.Name, created.ID)
	return nil
}

// importMembers reads "name, phone, notes" lines from a file, or stdin for "-".
func (a *app) importMembers(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("import needs <file> or -")
	}
	var r io.Reader = a.in
	if args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return errors.Wrap(err, "open import file")
		}
		defer f.Close()
		r = f
	}
	text, err := io.ReadAll(r)
	if err != nil {
		return errors.Wrap(err, "read import")
	}
	ms, err := a.client.ImportMembers(ctx, string(text))
	if err != nil {
		return err
	}
	a.out.Printf("تم استيراد %d طالب\n", len(ms))
	return nil
}

func (a *app) distribute(ctx context.Context) error {
	if s, ok := a.client.Session(); !ok || !s.Admin() {
		return errors.New("distribute is for admins only")
	}
	as, err := a.client.Distribute(ctx)
	if err != nil {
		return err
	}
	a.out.Printf("تم توزيع %d طالب\n", len(as))
	return nil
}

func (a *app) removeMember(ctx context.Context, screen *recorder.Screen, args []string) error {
	if len(args) == 0 {
		return errors.New("rm needs <member>")
	}
	m, err := a.member(screen, args[0])
	if err != nil {
		return err
	}
	ok, err := a.Confirm(ctx, fmt.Sprintf("سيتم حذف %s وكل سجلاته. هل تريد المتابعة؟", m.Name))
	if err != nil || !ok {
		return err
	}
	if err := a.client.DeleteMember(ctx, m.ID); err != nil {
		return err
	}
	a.out.Printf("تم حذف %s\n", m.Name)
	return nil
}
