package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/geocoder89/impacthub/internal/client"
	"github.com/geocoder89/impacthub/internal/credits"
	"github.com/geocoder89/impacthub/internal/domain/auditlog"
	"github.com/geocoder89/impacthub/internal/domain/ratelimit"
	"github.com/geocoder89/impacthub/internal/domain/transaction"
	"github.com/geocoder89/impacthub/internal/domain/user"
	"github.com/geocoder89/impacthub/internal/listquery"
	"github.com/geocoder89/impacthub/internal/listview"
)

// openList loads a list through the same controller the portals use. A
// search term goes through the debounced path with no delay, and a page past
// the first is applied once the search has settled.
func openList[T any, S any](ctx context.Context, fetch listview.Fetcher[T, S], q listquery.Query) (*listview.Controller[T, S], listview.State[T, S], error) {
	settled := make(chan listview.State[T, S], 1)

	base := q
	base.Search, base.Page = "", 1
	lv := listview.New(fetch, base,
		listview.WithDebounce[T, S](0),
		listview.OnChange(func(st listview.State[T, S]) {
			if st.Loading {
				return
			}
			select {
			case settled <- st:
			default:
			}
		}),
	)

	var (
		st  listview.State[T, S]
		err error
	)
	if q.Search == "" {
		st, err = lv.SetPage(ctx, q.Page)
	} else {
		lv.SetSearch(ctx, q.Search)
		select {
		case st = <-settled:
			err = st.Err
		case <-ctx.Done():
			err = ctx.Err()
		}
		if err == nil && q.Page > 1 {
			st, err = lv.SetPage(ctx, q.Page)
		}
	}

	if err != nil {
		lv.Close()
		return nil, st, err
	}
	return lv, st, nil
}

func table(out io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
}

func footer(out io.Writer, p listquery.Pagination) {
	fmt.Fprintf(out, "\npage %d/%d, %d total\n", p.Page, p.TotalPages, p.Total)
}

func money(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func listUsers(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	q, err := newListFlags("users list", "role", "status").parse(args)
	if err != nil {
		return err
	}

	lv, st, err := openList(ctx, c.ListUsers, q)
	if err != nil {
		return err
	}
	defer lv.Close()

	return printUsers(out, st.Result)
}

// updateUser applies an admin edit and shows it spliced into the current page.
func updateUser(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	lf := newListFlags("users update", "role", "status")
	id := lf.fs.String("id", "", "user to update")
	name := lf.fs.String("set-name", "", "new display name")
	role := lf.fs.String("set-role", "", "new role")
	status := lf.fs.String("set-status", "", "new status")

	q, err := lf.parse(args)
	if err != nil {
		return err
	}

	var req user.UpdateRequest
	if *name != "" {
		req.Name = name
	}
	if *role != "" {
		r := user.Role(*role)
		req.Role = &r
	}
	if *status != "" {
		st := user.Status(*status)
		req.Status = &st
	}
	if *id == "" || req.IsEmpty() {
		return fmt.Errorf("%w (users update needs -id and one of -set-name, -set-role, -set-status)", errUsage)
	}

	lv, _, err := openList(ctx, c.ListUsers, q)
	if err != nil {
		return err
	}
	defer lv.Close()

	u, err := c.UpdateUser(ctx, *id, req)
	if err != nil {
		return err
	}
	if !lv.Splice(func(x user.User) bool { return x.ID == u.ID }, u) {
		fmt.Fprintf(out, "updated %s (not on this page)\n\n", u.ID)
	}

	return printUsers(out, lv.State().Result)
}

func printUsers(out io.Writer, page client.UserPage) error {
	s := page.Stats
	fmt.Fprintf(out, "users: %d total, %d active, %d inactive, %d suspended\n\n", s.Total, s.Active, s.Inactive, s.Suspended)

	w := table(out)
	fmt.Fprintln(w, "ID\tNAME\tEMAIL\tROLE\tSTATUS\tJOINED")
	for _, u := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", u.ID, u.Name, u.Email, u.Role, u.Status, u.JoinDate.Format("2006-01-02"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	footer(out, page.Pagination)
	return nil
}

func listAudit(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	q, err := newListFlags("audit list", "severity", "status", "actor", "action", "from", "to").parse(args)
	if err != nil {
		return err
	}

	lv, st, err := openList(ctx, c.ListAuditLogs, q)
	if err != nil {
		return err
	}
	defer lv.Close()
	page := st.Result

	s := page.Stats
	fmt.Fprintf(out, "audit: %d entries, %d critical, %d warning, %d failures\n\n", s.Total, s.Critical, s.Warning, s.Failures)

	w := table(out)
	fmt.Fprintln(w, "SEQ\tTIME\tACTOR\tACTION\tRESOURCE\tSEVERITY\tSTATUS\tDETAILS")
	for _, e := range page.Items {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.Seq, e.Timestamp.Format(time.RFC3339), e.Actor, e.Action,
			resourceRef(e), e.Severity, e.Status, splitDetails(e.Details))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	footer(out, page.Pagination)
	return nil
}

func resourceRef(e auditlog.Entry) string {
	if e.ResourceID == "" {
		return e.Resource
	}
	return e.Resource + "/" + e.ResourceID
}

func verifyAudit(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit verify", flag.ContinueOnError)
	id := fs.String("id", "", "verify one entry instead of the whole chain")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *id != "" {
		v, err := c.VerifyAuditLog(ctx, *id)
		if err != nil {
			return err
		}
		if !v.Valid {
			return fmt.Errorf("entry %s is tampered: stored %s, expected %s", v.ID, v.Stored, v.Expected)
		}
		fmt.Fprintf(out, "entry %s ok\n", v.ID)
		return nil
	}

	report, err := c.VerifyAuditChain(ctx)
	if err != nil {
		return err
	}
	if !report.Valid {
		return fmt.Errorf("chain broken at %s after %d entries", report.FirstBad, report.Checked)
	}
	fmt.Fprintf(out, "chain ok, %d entries checked\n", report.Checked)
	return nil
}

func exportAudit(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	q, err := newListFlags("audit export", "severity", "status", "actor", "action", "from", "to").parse(args)
	if err != nil {
		return err
	}

	b, err := c.ExportAuditLogs(ctx, q)
	if err != nil {
		return err
	}
	_, err = out.Write(b)
	return err
}

func listRateLimits(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	q, err := newListFlags("ratelimits list", "method", "status").parse(args)
	if err != nil {
		return err
	}

	lv, st, err := openList(ctx, c.ListRateLimits, q)
	if err != nil {
		return err
	}
	defer lv.Close()
	page := st.Result

	s := page.Stats
	fmt.Fprintf(out, "rules: %d total, %d normal, %d warning, %d critical\n\n", s.Total, s.Normal, s.Warning, s.Critical)

	w := table(out)
	fmt.Fprintln(w, "ID\tRULE\tUSAGE\tWINDOW\tSTATUS")
	for _, r := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%d/%d (%d%%)\t%ds\t%s\n", r.ID, r.Key(), r.Current, r.Limit, r.Percentage, r.Window, statusLabel(r))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	footer(out, page.Pagination)
	return nil
}

func statusLabel(r ratelimit.Rule) string {
	if r.Status == ratelimit.StatusCritical {
		return "CRITICAL"
	}
	return string(r.Status)
}

func listTransactions(ctx context.Context, c *client.Client, args []string, out io.Writer) error {
	q, err := newListFlags("transactions list", "type", "status", "from", "to", "userId").parse(args)
	if err != nil {
		return err
	}

	lv, st, err := openList(ctx, c.ListTransactions, q)
	if err != nil {
		return err
	}
	defer lv.Close()
	page := st.Result

	s := page.Stats
	fmt.Fprintf(out, "transactions: %d, volume %s, fees %s, net %s (%d completed, %d pending, %d failed)\n\n",
		s.Count, money(s.TotalAmount), money(s.TotalFees), money(s.TotalNet), s.Completed, s.Pending, s.Failed)

	w := table(out)
	fmt.Fprintln(w, "ID\tTIME\tUSER\tTYPE\tAMOUNT\tNET\tSTATUS")
	for _, t := range page.Items {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Timestamp.Format(time.RFC3339), t.UserID, t.Type, amount(t), money(t.NetAmount), t.Status)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	footer(out, page.Pagination)
	return nil
}

func amount(t transaction.Transaction) string {
	if t.Currency == credits.Currency {
		return fmt.Sprintf("%d credits", t.Amount)
	}
	return money(t.Amount) + " " + t.Currency
}
