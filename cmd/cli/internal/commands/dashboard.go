package commands

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/electra-analytics/electra/internal/api"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/transport"
)

// ReadFlags control how dashboard reads are retried.
type ReadFlags struct {
	Period  string `help:"Reporting period" default:"week" enum:"day,week,month,3months"`
	Cabinet int64  `help:"Restrict to one cabinet" default:"0"`
	Retries uint   `help:"Attempts on network failures" default:"3"`
}

// KPICmd prints the headline figures of the dashboard.
type KPICmd struct {
	SessionFlags `embed:""`
	ReadFlags    `embed:""`
}

func (c *KPICmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}

	kpi, err := retryTransient(ctx, c.Retries, func() (*models.KPI, error) {
		return rt.api.KPI(ctx, c.Period, c.Cabinet)
	})
	if err != nil {
		return readFailed("KPI", err)
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Revenue:\t%.2f\t%+.1f%%\n", kpi.TotalRevenue, kpi.RevenueChangePercent)
	fmt.Fprintf(w, "Orders:\t%d\t%+.1f%%\n", kpi.TotalOrders, kpi.OrdersChangePercent)
	fmt.Fprintf(w, "Buyouts:\t%d\t%.1f%%\n", kpi.TotalBuyouts, kpi.AvgBuyoutRate)
	fmt.Fprintf(w, "Average check:\t%.2f\t\n", kpi.AvgCheck)
	fmt.Fprintf(w, "Low stock:\t%d\t\n", kpi.LowStockCount)
	return w.Flush()
}

// ProductsCmd prints one page of the products table.
type ProductsCmd struct {
	SessionFlags `embed:""`
	ReadFlags    `embed:""`

	SortBy string `help:"Column to sort by" default:"revenue"`
	Order  string `help:"Sort order" default:"desc" enum:"asc,desc"`
	Page   int    `help:"Page number" default:"1"`
	Limit  int    `help:"Rows per page" default:"20"`
}

func (c *ProductsCmd) Run(ctx context.Context, globals *Globals) error {
	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.requireSession(ctx); err != nil {
		return err
	}

	query := api.ProductQuery{
		Period:    c.Period,
		CabinetID: c.Cabinet,
		SortBy:    c.SortBy,
		Order:     c.Order,
		Page:      c.Page,
		Limit:     c.Limit,
	}
	list, err := retryTransient(ctx, c.Retries, func() (*models.ProductList, error) {
		return rt.api.Products(ctx, query)
	})
	if err != nil {
		return readFailed("products", err)
	}

	if len(list.Items) == 0 {
		fmt.Fprintln(stdout, "No products found.")
		return nil
	}

	w := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NM ID\tVENDOR CODE\tTITLE\tORDERS\tBUYOUTS\tREVENUE\tSTOCK")
	for _, p := range list.Items {
		title := p.Title
		if len(title) > 40 {
			title = title[:37] + "..."
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%.2f\t%d\n", p.NmID, p.VendorCode, title, p.Orders, p.Buyouts, p.Revenue, p.TotalStock)
	}
	fmt.Fprintf(w, "\nPage %d, %d of %d products\n", list.Page, len(list.Items), list.Total)
	return w.Flush()
}

// retryTransient retries op with exponential backoff while it fails with a
// TransportError. Any other error ends the retries immediately.
func retryTransient[T any](ctx context.Context, tries uint, op func() (T, error)) (T, error) {
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !transport.IsTransportError(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(max(tries, 1)),
		backoff.WithMaxElapsedTime(time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Dur("retry_in", next).Msg("request failed, retrying")
		}),
	)
}

func readFailed(what string, err error) error {
	if transport.IsAuthorizationError(err) {
		return fmt.Errorf("session expired, run `electra login <email>` again: %w", err)
	}
	return fmt.Errorf("failed to fetch %s: %w", what, err)
}
