// Command tourctl runs one tour search against the aggregator and prints the
// offers as sources finish.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/neexbeast/tour-search/internal/config"
	"github.com/neexbeast/tour-search/internal/ratelimit"
	"github.com/neexbeast/tour-search/internal/search"
	"github.com/neexbeast/tour-search/internal/tour"
	"github.com/neexbeast/tour-search/internal/upstream"
)

const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitTimedOut = 3

	identity = "tourctl"
)

func main() {
	os.Exit(run(os.Args[1:], os.Getenv, os.Stdout, os.Stderr))
}

type options struct {
	req      tour.SearchRequest
	stars    string
	limit    int
	interval time.Duration
	timeout  time.Duration
	asJSON   bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("tourctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.IntVar(&o.req.CityFromID, "from", 832, "Departure city id")
	fs.IntVar(&o.req.CountryID, "country", 0, "Destination country id")
	fs.IntVar(&o.req.CityID, "resort", 0, "Resort city id")
	fs.StringVar(&o.req.DateFrom, "date-from", "", "Earliest departure YYYY-MM-DD")
	fs.StringVar(&o.req.DateTo, "date-to", "", "Latest departure YYYY-MM-DD")
	fs.IntVar(&o.req.NightsMin, "nights-min", 7, "Minimum nights")
	fs.IntVar(&o.req.NightsMax, "nights-max", 10, "Maximum nights")
	fs.IntVar(&o.req.Adults, "adults", 2, "Number of adults")
	fs.IntVar(&o.req.Children, "children", 0, "Number of children")
	fs.StringVar(&o.stars, "stars", "", "Comma-separated hotel star ratings")
	fs.IntVar(&o.req.PriceMax, "max-price", 0, "Maximum price")
	fs.StringVar(&o.req.CurrencyAlias, "currency", tour.DefaultCurrency, "Currency code")
	fs.IntVar(&o.limit, "limit", 20, "Offers per page")
	fs.DurationVar(&o.interval, "interval", 0, "Poll interval (default from SLETAT_POLL_INTERVAL_MS)")
	fs.DurationVar(&o.timeout, "timeout", 0, "Polling budget (default from SLETAT_POLL_TIMEOUT_MS)")
	fs.BoolVar(&o.asJSON, "json", false, "Print the final outcome as JSON")

	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.req.CountryID == 0 || o.req.DateFrom == "" || o.req.DateTo == "" {
		return o, errors.New("-country, -date-from and -date-to are required")
	}
	for _, s := range strings.Split(o.stars, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return o, fmt.Errorf("-stars: %q is not a number", s)
		}
		o.req.Stars = append(o.req.Stars, n)
	}
	return o, nil
}

func run(args []string, getenv func(string) string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	cfg, err := config.LoadFrom(getenv)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	if o.interval <= 0 {
		o.interval = cfg.PollInterval
	}
	if o.timeout <= 0 {
		o.timeout = cfg.PollTimeout
	}

	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := upstream.NewClient(cfg.BaseURL, cfg.Login, cfg.Password, upstream.WithLogger(log))
	// One caller polling at its own pace; the window only needs to match it.
	limiter := ratelimit.New(ratelimit.WithWindow(o.interval))
	orchestrator := search.NewOrchestrator(client, limiter, log)
	poller := search.NewPoller(orchestrator,
		search.WithInterval(o.interval),
		search.WithBudget(o.timeout),
		search.WithPollerLogger(log),
	)

	job, err := orchestrator.StartSearch(ctx, identity, o.req)
	if err != nil {
		fmt.Fprintln(stderr, "starting search:", err)
		var verr *tour.ValidationError
		if errors.As(err, &verr) {
			return exitUsage
		}
		return exitFailure
	}
	fmt.Fprintf(stderr, "search %d started, polling every %s for up to %s\n", job.ID, o.interval, o.timeout)

	hooks := search.Hooks{
		Progress: func(p tour.SearchProgress) {
			fmt.Fprintf(stderr, "  %3d%% (%d/%d sources)\n", p.ProgressPercent, p.Processed, p.Total)
		},
	}
	out, err := poller.Run(ctx, identity, job.ID, tour.Page{Page: 1, Limit: o.limit}, hooks)

	if o.asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
	} else {
		printOffers(stdout, out.Offers)
	}

	switch {
	case errors.Is(err, tour.ErrTimedOut):
		fmt.Fprintf(stderr, "search %d timed out after %d polls, showing partial results\n", job.ID, out.Attempts)
		return exitTimedOut
	case err != nil:
		fmt.Fprintln(stderr, "polling search:", err)
		return exitFailure
	}
	return exitOK
}

func printOffers(w io.Writer, offers []tour.TourOffer) {
	if len(offers) == 0 {
		fmt.Fprintln(w, "No offers.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRICE\tHOTEL\tRESORT\tMEAL\tNIGHTS\tDEPARTS\tOPERATOR")
	for _, o := range offers {
		fmt.Fprintf(tw, "%s %s\t%s %d*\t%s\t%s\t%d\t%s\t%s\n",
			o.Price.StringFixed(0), o.Currency, o.HotelName, o.HotelStars, o.ResortName, o.MealName, o.Nights, o.DateFrom, o.OperatorName)
	}
	_ = tw.Flush()
}
