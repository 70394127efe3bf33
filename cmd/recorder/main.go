package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"leveltwo/internal/model"
	"leveltwo/internal/remote"
	"leveltwo/pkg/logger"
)

const usage = `usage: recorder [flags] <command> [args]

commands:
  watch                     interactive screen with live updates
  mark-all <status>         set every filtered member and save
  mark-remaining <status>   set filtered members without a record and save
  toggle <member> <status>  set and save one member
  reset                     delete the stored records of the filtered members
  stats                     count the filtered members by status
  add <name> [phone] [notes] add a member
  import <file|->           add members from "name, phone, notes" lines
  rm <member>               delete a member and its records
  distribute                spread members over the servants (admin)
  export                    download a report (-format, -from, -to, -member, -o)

flags:
`

type options struct {
	server   string
	email    string
	password string
	kind     model.Kind
	date     string
	query    string
	yes      bool

	format string
	from   string
	to     string
	member string
	out    string
}

func main() {
	_ = godotenv.Load()

	var (
		opts options
		kind string
	)
	flag.StringVar(&opts.server, "server", envOr("LEVELTWO_SERVER", "http://localhost:8081"), "API base URL")
	flag.StringVar(&opts.email, "email", os.Getenv("LEVELTWO_EMAIL"), "account email")
	flag.StringVar(&opts.password, "password", os.Getenv("LEVELTWO_PASSWORD"), "account password")
	flag.StringVar(&kind, "kind", "attendance", "record book: attendance or visits")
	flag.StringVar(&opts.date, "date", time.Now().Format(model.DateLayout), "meeting date, YYYY-MM-DD")
	flag.StringVar(&opts.query, "q", "", "only act on members whose name contains this")
	flag.BoolVar(&opts.yes, "yes", false, "do not ask before saving")
	flag.StringVar(&opts.format, "format", "csv", "export format: csv, xlsx or html")
	flag.StringVar(&opts.from, "from", "", "export range start")
	flag.StringVar(&opts.to, "to", "", "export range end")
	flag.StringVar(&opts.member, "member", "", "export one member only")
	flag.StringVar(&opts.out, "o", "", "export file, stdout when empty")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	k, ok := model.ParseKind(kind)
	if !ok {
		fail(fmt.Errorf("unknown kind %q", kind))
	}
	opts.kind = k
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := remote.New(opts.server, nil)
	if _, err := client.SignIn(ctx, opts.email, opts.password); err != nil {
		fail(err)
	}
	defer func() { _ = client.SignOut(context.Background()) }()

	app := &app{
		opts:   opts,
		client: client,
		in:     bufio.NewReader(os.Stdin),
		out:    &printer{w: os.Stdout},
		log:    logger.NewFromEnv(),
	}
	if err := app.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		fail(err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

// printer serialises output from the command loop and the event loop.
type printer struct {
	mu sync.Mutex
	w  io.Writer
}

func (p *printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

func (p *printer) Println(args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.w, args...)
}

// Confirm asks on stdin; -yes answers for the user.
func (a *app) Confirm(_ context.Context, prompt string) (bool, error) {
	if a.opts.yes {
		return true, nil
	}
	a.out.Printf("%s [y/N] ", prompt)
	line, err := a.in.ReadString('\n')
	if err != nil && line == "" {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "نعم":
		return true, nil
	}
	return false, nil
}
