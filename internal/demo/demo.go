// Package demo simulates a shopper browsing a small storefront so the agent,
// CLI, and a Papercups dashboard can be exercised end-to-end without a real
// browser. Each visit is a randomized interaction script played against the
// page: product clicks, cart badge updates, tab switches, and a checkout
// form that includes a card field the capture rules must redact.
package demo

import (
	"context"
	_ "embed"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/large-farva/storytime/internal/dom"
	"github.com/large-farva/storytime/internal/page"
)

//go:embed storefront.html
var storefront string

// Storefront parses the built-in demo page.
func Storefront() (*dom.Document, error) {
	return dom.ParseString(storefront)
}

var (
	searchTerms = []string{"mug", "tote", "cap", "gift", "sale"}
	products    = []string{"MUG-01", "TOTE-02", "CAP-03"}
)

// Runner plays simulated visits against a page on a configurable interval.
type Runner struct {
	Page     *page.Page
	Interval time.Duration // pause between visits
	Logger   zerolog.Logger

	rng    *rand.Rand
	cart   int
	visits int
}

// New creates a demo runner with a sensible default interval.
func New(p *page.Page, logger zerolog.Logger) *Runner {
	return &Runner{
		Page:     p,
		Interval: 5 * time.Second,
		Logger:   logger.With().Str("component", "demo").Logger(),
		rng:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5707)),
	}
}

// Seed makes the generated visits deterministic.
func (r *Runner) Seed(seed uint64) {
	r.rng = rand.New(rand.NewPCG(seed, 0x5707))
}

// Run fires one visit shortly after start, then repeats on the configured
// interval until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	r.Logger.Info().Msg("demo mode active, simulating shopper visits")

	if !sleepOrCancel(ctx, time.Second) {
		return
	}
	r.visit(ctx)

	t := time.NewTicker(r.Interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.visit(ctx)
		}
	}
}

func (r *Runner) visit(ctx context.Context) {
	steps := r.Visit()
	r.visits++
	r.Logger.Debug().Int("visit", r.visits).Int("steps", len(steps)).Msg("playing visit")
	if err := r.Page.Run(ctx, steps); err != nil && ctx.Err() == nil {
		r.Logger.Warn().Err(err).Int("visit", r.visits).Msg("visit failed")
	}
}

// Visit generates the steps of one simulated visit.
func (r *Runner) Visit() []page.Step {
	steps := []page.Step{
		{Kind: "navigate", URL: "/"},
		wait(r.rng.IntN(300) + 100),
	}

	if r.rng.IntN(2) == 0 {
		term := searchTerms[r.rng.IntN(len(searchTerms))]
		steps = append(steps,
			page.Step{Kind: "event", Type: "change", Selector: "#search-box", Value: term},
			page.Step{Kind: "event", Type: "submit", Selector: "#search"},
		)
	}

	for i, n := 0, r.rng.IntN(3)+1; i < n; i++ {
		sku := products[r.rng.IntN(len(products))]
		r.cart++
		steps = append(steps,
			page.Step{Kind: "event", Type: "click", Selector: fmt.Sprintf(`.product[data-sku=%q] .add-to-cart`, sku)},
			page.Step{Kind: "mutation", Selector: "#cart-count", Text: strconv.Itoa(r.cart)},
			wait(r.rng.IntN(200)+50),
		)
	}

	// Shoppers wander off to another tab now and then.
	if r.rng.IntN(3) == 0 {
		steps = append(steps,
			page.Step{Kind: "visibility", Hidden: true},
			wait(r.rng.IntN(500)+200),
			page.Step{Kind: "visibility", Hidden: false},
		)
	}

	if r.rng.IntN(2) == 0 {
		steps = append(steps,
			page.Step{Kind: "navigate", URL: "/checkout"},
			page.Step{Kind: "event", Type: "change", Selector: "#qty", Value: strconv.Itoa(r.rng.IntN(3) + 1)},
			page.Step{Kind: "event", Type: "change", Selector: "#email", Value: "shopper@example.com"},
			page.Step{Kind: "event", Type: "change", Selector: "#card", Value: "4242424242424242"},
			page.Step{Kind: "event", Type: "click", Selector: "#place-order"},
			page.Step{Kind: "mutation", Selector: "#order-status", Text: "placed"},
			page.Step{Kind: "mutation", Selector: "#cart-count", Text: "0"},
		)
		r.cart = 0
	}
	return steps
}

func wait(ms int) page.Step {
	return page.Step{Kind: "wait", MS: ms}
}

func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
