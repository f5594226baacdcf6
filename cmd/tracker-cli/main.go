// Command tracker-cli drives the tracker from a terminal. Identity is kept in
// the cookie database under a named profile, so each profile behaves like a
// separate browser.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AtRiskMedia/tracker-go/internal/application/container"
	"github.com/AtRiskMedia/tracker-go/internal/domain/tracking"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/cookies"
	"github.com/AtRiskMedia/tracker-go/internal/infrastructure/security"
)

const usage = `Usage:
  tracker-cli [-profile name] <command> [flags]

Commands:
  init      -site ID [-force]           establish the visitor identity
  identify  -email E [-name N] [-props JSON]
  cart      -code C -url U -quantity Q [-price P] [-id I] [-name N] [-image URL] [-props JSON]
  order     -total T [-products JSON]   report a completed order
  pageview  -url U [-props JSON]
  campaign  ID                          store a campaign UUID
  whoami                                print the stored identity
  reset                                 forget the profile's identity
  keygen    [-length N]                 print a random hex key for TRACKER_API_KEY or TRACKER_PII_KEY
`

// errUsage is returned for malformed command lines.
var errUsage = errors.New("invalid usage")

func main() {
	profile := flag.String("profile", "default", "cookie profile to act as")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	c, err := container.NewContainer(os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	db, err := c.OpenCookieDatabase()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open cookie database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	store, err := cookies.NewSQLStore(db.Conn, *profile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open profile: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, c, store, flag.Args(), os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprint(os.Stderr, usage)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run executes one command against store and prints its JSON result.
func run(ctx context.Context, c *container.Container, store tracking.CookieStore, args []string, out io.Writer) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	tr := c.TrackerFor(store)
	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var result any
	switch cmd {
	case "init":
		site := fs.String("site", "", "site id")
		force := fs.Bool("force", false, "issue a new visitor id")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		identity, err := tr.Init(*site, *force)
		if err != nil {
			return err
		}
		result = identity

	case "identify":
		email := fs.String("email", "", "visitor email")
		name := fs.String("name", "", "visitor name")
		props := fs.String("props", "", "properties as a JSON object")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		properties, err := parseProps(*props)
		if err != nil {
			return err
		}
		resp, err := tr.Identify(ctx, *email, *name, properties)
		if err != nil {
			return err
		}
		result = resp

	case "cart":
		var item tracking.Item
		fs.StringVar(&item.Code, "code", "", "item code")
		fs.Float64Var(&item.Price, "price", 0, "unit price")
		fs.StringVar(&item.URL, "url", "", "item page url")
		fs.IntVar(&item.Quantity, "quantity", 1, "quantity")
		fs.StringVar(&item.ID, "id", "", "item id")
		fs.StringVar(&item.Name, "name", "", "item name")
		fs.StringVar(&item.Image, "image", "", "item image url")
		props := fs.String("props", "", "properties as a JSON object")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		properties, err := parseProps(*props)
		if err != nil {
			return err
		}
		item.Properties = properties
		resp, err := tr.AddToOrder(ctx, item)
		if err != nil {
			return err
		}
		result = resp

	case "order":
		total := fs.Float64("total", 0, "order total")
		lines := fs.String("products", "", "order lines as a JSON array of items")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		order := tr.CreateOrder(*total)
		if *lines != "" {
			var items []tracking.Item
			if err := json.Unmarshal([]byte(*lines), &items); err != nil {
				return fmt.Errorf("%w: -products: %v", errUsage, err)
			}
			for _, item := range items {
				product, err := tracking.NewProduct(item)
				if err != nil {
					return err
				}
				order.Products = append(order.Products, product)
			}
		}
		resp, err := tr.OrderCompleted(ctx, order)
		if err != nil {
			return err
		}
		result = map[string]any{"orderId": order.ID, "response": resp}

	case "pageview":
		url := fs.String("url", "", "page url")
		props := fs.String("props", "", "properties as a JSON object")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		properties, err := parseProps(*props)
		if err != nil {
			return err
		}
		resp, err := tr.PageView(ctx, *url, properties)
		if err != nil {
			return err
		}
		result = resp

	case "campaign":
		if len(rest) != 1 {
			return fmt.Errorf("%w: campaign takes exactly one id", errUsage)
		}
		if err := tr.StoreCampaignID(rest[0]); err != nil {
			return err
		}
		result = map[string]any{"campaignId": rest[0]}

	case "whoami":
		identity, err := tr.Identity()
		if err != nil {
			return err
		}
		result = identity

	case "reset":
		sqlStore, ok := store.(*cookies.SQLStore)
		if !ok {
			return fmt.Errorf("reset is only supported for database profiles")
		}
		if err := sqlStore.Clear(); err != nil {
			return err
		}
		result = map[string]any{"profile": sqlStore.Profile(), "reset": true}

	case "keygen":
		length := fs.Int("length", 64, "key length in hex characters")
		if err := fs.Parse(rest); err != nil {
			return fmt.Errorf("%w: %v", errUsage, err)
		}
		if *length < 2 || *length%2 != 0 {
			return fmt.Errorf("%w: -length must be an even number of at least 2", errUsage)
		}
		key, err := security.GenerateSecureKey(*length)
		if err != nil {
			return err
		}
		result = map[string]any{"key": key}

	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, cmd)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func parseProps(raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var props map[string]any
	if err := json.Unmarshal([]byte(raw), &props); err != nil {
		return nil, fmt.Errorf("%w: -props must be a JSON object: %v", tracking.ErrInvalidArgument, err)
	}
	return props, nil
}
