// Command abacus-admin runs one-off operator tasks against the billing
// database: seeding the plan catalog, creating organizations, running the
// sweeps once, and recording write-offs and out-of-band payments.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/platinummonkey/abacus/pkg/cart"
	"github.com/platinummonkey/abacus/pkg/checkout"
	"github.com/platinummonkey/abacus/pkg/config"
	"github.com/platinummonkey/abacus/pkg/coupon"
	"github.com/platinummonkey/abacus/pkg/invoicing"
	"github.com/platinummonkey/abacus/pkg/ledger"
	"github.com/platinummonkey/abacus/pkg/observability"
	"github.com/platinummonkey/abacus/pkg/orgs"
	"github.com/platinummonkey/abacus/pkg/plan"
	"github.com/platinummonkey/abacus/pkg/processor"
	"github.com/platinummonkey/abacus/pkg/reconciler"
	"github.com/platinummonkey/abacus/pkg/storage/postgres"
	"github.com/platinummonkey/abacus/pkg/subscription"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	command := os.Args[1]
	args := os.Args[2:]

	app, err := newApp()
	if err != nil {
		log.Fatalf("Failed to initialize: %v", err)
	}
	defer app.close()

	ctx := context.Background()
	switch command {
	case "migrate":
		err = postgres.RunMigrations(ctx, app.cm.Primary())
	case "seed-catalog":
		err = app.seedCatalog(args)
	case "create-org":
		err = app.createOrg(args)
	case "balance":
		err = app.balance(ctx, args)
	case "renew":
		err = app.renew(ctx, args)
	case "extend-org":
		err = app.extendOrg(ctx, args)
	case "charge-balance":
		err = app.chargeBalance(ctx, args)
	case "write-off":
		err = app.settle(ctx, args, false)
	case "offline-payment":
		err = app.settle(ctx, args, true)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("%s failed: %v", command, err)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `Usage: abacus-admin <command> [flags]

Commands:
  migrate          Apply pending database migrations
  seed-catalog     Create missing plans from a YAML catalog
  create-org       Create an organization
  balance          Print an organization's outstanding balance per event
  renew            Run the renewal sweep once
  extend-org       Renew one organization's lapsed subscriptions and bill them
  charge-balance   Charge a customer's outstanding balance
  write-off        Forgive part of a customer's outstanding balance
  offline-payment  Record an out-of-band payment against a balance`)
}

type app struct {
	cfg     *config.Config
	cm      *postgres.ConnectionManager
	logger  *observability.Logger
	orgs    orgs.Service
	plans   plan.Service
	subs    subscription.Service
	sweeper *reconciler.Engine
}

func newApp() (*app, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stderr)

	cm, err := postgres.NewConnectionManager(postgres.ConnectionConfig{
		PrimaryURL:  cfg.Storage.PostgresURL,
		MaxConns:    cfg.Storage.PostgresMaxConns,
		MinConns:    cfg.Storage.PostgresMinConns,
		Timeout:     cfg.Storage.PostgresTimeout,
		MaxLifetime: cfg.Storage.PostgresMaxLifetime,
		MaxIdleTime: cfg.Storage.PostgresMaxIdleTime,
	}, logger)
	if err != nil {
		return nil, err
	}

	orgService := orgs.NewPostgresService(cm.Primary())
	planService := plan.NewPostgresService(cm.Primary())
	subService := subscription.NewPostgresService(cm.Primary())
	cartService := cart.NewPostgresService(cm.Primary())
	couponService := coupon.NewPostgresService(cm.Primary())

	var backend processor.Backend
	if cfg.Billing.ProcessorMode == "gateway" {
		backend = processor.NewGateway(cfg.Billing.ProcessorURL, cfg.Billing.ProcessorKey)
	} else {
		backend = processor.NewFake()
	}

	invoicer := invoicing.NewEngine(invoicing.Deps{
		Orgs:    orgService,
		Plans:   planService,
		Carts:   cartService,
		Subs:    subService,
		Coupons: couponService,
		Ledger:  ledger.NewStore(cm.Primary()),
		Logger:  logger,
	})
	chargeStore := checkout.NewStore(cm.Primary())
	checkouts := checkout.NewEngine(checkout.Deps{
		DB:      cm.Primary(),
		Store:   chargeStore,
		Orgs:    orgService,
		Backend: backend,
		Logger:  logger,
	})
	sweeper := reconciler.NewEngine(reconciler.Deps{
		DB:        cm.Primary(),
		Subs:      subService,
		Plans:     planService,
		Orgs:      orgService,
		Invoicer:  invoicer,
		Checkouts: checkouts,
		Charges:   chargeStore,
		Backend:   backend,
		Logger:    logger,
	})

	return &app{
		cfg:     cfg,
		cm:      cm,
		logger:  logger,
		orgs:    orgService,
		plans:   planService,
		subs:    subService,
		sweeper: sweeper,
	}, nil
}

func (a *app) close() {
	a.cm.Close()
}

func (a *app) seedCatalog(args []string) error {
	fs := flag.NewFlagSet("seed-catalog", flag.ExitOnError)
	path := fs.String("catalog", a.cfg.Billing.CatalogPath, "Path to the YAML plan catalog")
	providerOrg := fs.Int64("provider-org", a.cfg.Billing.DefaultProviderOrgID, "Provider organization ID owning the plans")
	fs.Parse(args)

	if *path == "" {
		return fmt.Errorf("catalog path is required")
	}
	cat, err := plan.LoadCatalog(*path)
	if err != nil {
		return err
	}
	created, err := plan.Seed(a.plans, cat, *providerOrg)
	if err != nil {
		return err
	}
	log.Printf("Created %d plans (%d already existed)", created, len(cat.Plans)-created)
	return nil
}

func (a *app) createOrg(args []string) error {
	fs := flag.NewFlagSet("create-org", flag.ExitOnError)
	name := fs.String("name", "", "Organization name")
	email := fs.String("email", "", "Billing email")
	fs.Parse(args)

	if *name == "" {
		return fmt.Errorf("name is required")
	}
	org := &orgs.Organization{Name: *name, BillingEmail: *email}
	if err := a.orgs.CreateOrganization(org); err != nil {
		return err
	}
	log.Printf("Created organization %d (%s)", org.ID, org.Slug)
	return nil
}

func (a *app) balance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	orgID := fs.Int64("org", 0, "Organization ID")
	fs.Parse(args)

	if *orgID == 0 {
		return fmt.Errorf("org is required")
	}
	store := ledger.NewStore(a.cm.Primary())
	events, err := store.ReceivableByEvent(ctx, *orgID, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(events) == 0 {
		log.Printf("Organization %d has no outstanding balance", *orgID)
		return nil
	}
	for _, eb := range events {
		log.Printf("%s: %d %s outstanding (of %d ordered, owed to org %d, since %s)",
			eb.EventID, eb.Outstanding, eb.Unit, eb.OrdersTotal, eb.ProviderOrg,
			eb.FirstAt.Format(time.RFC3339))
	}
	return nil
}

func (a *app) renew(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("renew", flag.ExitOnError)
	limit := fs.Int("limit", 0, "Max subscriptions to renew (default from config)")
	fs.Parse(args)

	batch := *limit
	if batch <= 0 {
		batch = a.cfg.Billing.RenewalBatchSize
	}
	charges, err := a.sweeper.ExtendSubscriptions(ctx, time.Now().UTC(), batch)
	if err != nil {
		return err
	}
	log.Printf("Renewal sweep created %d charges", len(charges))
	return nil
}

func (a *app) extendOrg(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("extend-org", flag.ExitOnError)
	orgID := fs.Int64("org", 0, "Customer organization ID")
	fs.Parse(args)

	if *orgID == 0 {
		return fmt.Errorf("org is required")
	}
	charges, err := a.sweeper.ExtendOrganization(ctx, *orgID, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(charges) == 0 {
		log.Printf("Nothing to renew for organization %d", *orgID)
		return nil
	}
	for _, c := range charges {
		log.Printf("Charge %d: %d %s (%s)", c.ID, c.Amount, c.Unit, c.State)
	}
	return nil
}

func (a *app) chargeBalance(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("charge-balance", flag.ExitOnError)
	orgID := fs.Int64("org", 0, "Customer organization ID")
	fs.Parse(args)

	if *orgID == 0 {
		return fmt.Errorf("org is required")
	}
	charges, err := a.sweeper.CreateChargeForBalance(ctx, *orgID, time.Now().UTC())
	if err != nil {
		return err
	}
	if len(charges) == 0 {
		log.Printf("Nothing to charge for organization %d", *orgID)
		return nil
	}
	for _, c := range charges {
		log.Printf("Charge %d: %d %s (%s)", c.ID, c.Amount, c.Unit, c.State)
	}
	return nil
}

func (a *app) settle(ctx context.Context, args []string, paid bool) error {
	name := "write-off"
	if paid {
		name = "offline-payment"
	}
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	orgID := fs.Int64("org", 0, "Customer organization ID")
	amount := fs.Int64("amount", 0, "Amount in minor currency units")
	unit := fs.String("unit", "", "Currency unit, e.g. USD")
	fs.Parse(args)

	if *orgID == 0 || *amount <= 0 || *unit == "" {
		return fmt.Errorf("org, amount and unit are required")
	}
	at := time.Now().UTC()
	if paid {
		if err := a.sweeper.OfflinePayment(ctx, *orgID, *amount, *unit, at); err != nil {
			return err
		}
		log.Printf("Recorded out-of-band payment of %d %s for organization %d", *amount, *unit, *orgID)
		return nil
	}
	if err := a.sweeper.WriteOff(ctx, *orgID, *amount, *unit, at); err != nil {
		return err
	}
	log.Printf("Wrote off %d %s for organization %d", *amount, *unit, *orgID)
	return nil
}
