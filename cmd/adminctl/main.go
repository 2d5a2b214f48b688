// Command adminctl reads the ImpactHub admin lists from a terminal.
//
//	adminctl users list -role ngo -search green
//	adminctl users update -id <user> -set-status suspended
//	adminctl audit list -severity critical
//	adminctl audit verify [-id <entry>]
//	adminctl audit export -action user.delete > audit.csv
//	adminctl ratelimits list -status critical
//	adminctl transactions list -type donation
//
// The API address comes from IMPACTHUB_URL. Credentials come from
// IMPACTHUB_TOKEN, or IMPACTHUB_EMAIL and IMPACTHUB_PASSWORD.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/geocoder89/impacthub/internal/client"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "adminctl:", err)
		os.Exit(exitCode(err))
	}
}

var errUsage = errors.New("usage: adminctl <users|audit|ratelimits|transactions> <command> [flags]")

func exitCode(err error) int {
	switch {
	case errors.Is(err, errUsage), errors.Is(err, flag.ErrHelp):
		return 2
	case client.IsRejected(err):
		return 3
	default:
		return 1
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) < 2 {
		return errUsage
	}

	c, err := connect(ctx)
	if err != nil {
		return err
	}

	resource, cmd, rest := args[0], args[1], args[2:]

	switch resource + " " + cmd {
	case "users list":
		return listUsers(ctx, c, rest, out)
	case "users update":
		return updateUser(ctx, c, rest, out)
	case "audit list":
		return listAudit(ctx, c, rest, out)
	case "audit verify":
		return verifyAudit(ctx, c, rest, out)
	case "audit export":
		return exportAudit(ctx, c, rest, out)
	case "ratelimits list":
		return listRateLimits(ctx, c, rest, out)
	case "transactions list":
		return listTransactions(ctx, c, rest, out)
	default:
		return errUsage
	}
}

func connect(ctx context.Context) (*client.Client, error) {
	base := os.Getenv("IMPACTHUB_URL")
	if base == "" {
		base = "http://localhost:8080"
	}

	c := client.New(base, client.WithRateLimit(5, 2))

	if tok := os.Getenv("IMPACTHUB_TOKEN"); tok != "" {
		c.SetToken(tok)
		return c, nil
	}

	email, password := os.Getenv("IMPACTHUB_EMAIL"), os.Getenv("IMPACTHUB_PASSWORD")
	if email == "" || password == "" {
		return nil, errors.New("set IMPACTHUB_TOKEN or IMPACTHUB_EMAIL and IMPACTHUB_PASSWORD")
	}

	if _, err := c.Login(ctx, email, password); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	return c, nil
}

// listFlags registers the flags every list shares plus one flag per filter key.
type listFlags struct {
	fs      *flag.FlagSet
	search  *string
	page    *int
	size    *int
	filters map[string]*string
}

func newListFlags(name string, filterKeys ...string) *listFlags {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	lf := &listFlags{
		fs:      fs,
		search:  fs.String("search", "", "free text search"),
		page:    fs.Int("page", 1, "page number"),
		size:    fs.Int("size", listquery.DefaultPageSize, "page size (max 100)"),
		filters: make(map[string]*string, len(filterKeys)),
	}
	for _, k := range filterKeys {
		lf.filters[k] = fs.String(k, "", "filter by "+k)
	}
	return lf
}

func (lf *listFlags) parse(args []string) (listquery.Query, error) {
	if err := lf.fs.Parse(args); err != nil {
		return listquery.Query{}, err
	}

	q := listquery.New().WithSearch(*lf.search)
	for k, v := range lf.filters {
		q = q.WithFilter(k, *v)
	}
	q.PageSize = *lf.size
	return q.WithPage(*lf.page), nil
}

func splitDetails(m map[string]string) string {
	if len(m) == 0 {
		return ""
	}
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, " ")
}
