package seed

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/wondertwin-ai/loyaltydesk/internal/loyalty"
	"github.com/wondertwin-ai/loyaltydesk/internal/store"
	"github.com/wondertwin-ai/loyaltydesk/internal/store/memory"
)

// Demo credentials.
const (
	DemoAdminEmail    = "admin@loyaltydesk.local"
	DemoAdminPassword = "loyaltydesk"
)

type demoPurchase struct {
	customer int
	product  int
	qty      int
	amount   string
}

var (
	demoProducts = []store.Product{
		{SKU: "COF-ESP", Name: "Espresso", Category: "coffee", Price: decimal.RequireFromString("2.50"), PointsPerUnit: 5, Active: true},
		{SKU: "COF-LAT", Name: "Latte", Category: "coffee", Price: decimal.RequireFromString("3.90"), PointsPerUnit: 8, Active: true},
		{SKU: "BAK-CRO", Name: "Croissant", Category: "bakery", Price: decimal.RequireFromString("2.20"), PointsPerUnit: 4, Active: true},
		{SKU: "MER-MUG", Name: "House mug", Category: "merchandise", Price: decimal.RequireFromString("12.00"), PointsPerUnit: 20, Active: false},
	}
	demoRewards = []store.Reward{
		{Name: "Free espresso", Description: "One espresso on the house", PointsCost: 50, Active: true},
		{Name: "Free latte", Description: "Any size", PointsCost: 90, Active: true},
		{Name: "House mug", Description: "Ceramic, 350ml", PointsCost: 400, Stock: int64p(10), Active: true, RequiresVerification: true},
		{Name: "Barista class", Description: "Two-hour workshop", PointsCost: 1500, Stock: int64p(2), Active: true, RequiresVerification: true},
	}
	demoCustomers = []store.Customer{
		{FirstName: "Ana", LastName: "Silva", Email: "ana.silva@example.com", Phone: "+351910000001", City: "Lisbon", OptInSMS: true, OptInEmail: true},
		{FirstName: "Bruno", LastName: "Costa", Email: "bruno.costa@example.com", Phone: "+351910000002", City: "Porto", OptInWhatsApp: true},
		{FirstName: "Carla", LastName: "Mendes", Email: "carla.mendes@example.com", City: "Lisbon", OptInEmail: true},
		{FirstName: "Diego", LastName: "Ramos", Phone: "+34600000004", City: "Madrid", OptInSMS: true},
		{FirstName: "Eva", LastName: "Nunes", Email: "eva.nunes@example.com", City: "Porto"},
	}
	demoPurchases = []demoPurchase{
		{0, 1, 3, "11.70"},
		{0, 0, 2, "5.00"},
		{1, 2, 4, "8.80"},
		{2, 1, 1, "3.90"},
		{3, 0, 10, "25.00"},
		{0, -1, 0, "120.00"},
	}
)

func int64p(v int64) *int64 { return &v }

// Demo loads a small catalog, a few customers with purchase history, a
// segment and a draft campaign. Nothing is added if customers already exist.
func Demo(ctx context.Context, st store.Store, clock *store.Clock, log *logrus.Logger) error {
	existing, err := st.ListCustomers(ctx, store.ListParams{PerPage: 1})
	if err != nil {
		return err
	}
	if existing.Meta.Total > 0 {
		return nil
	}

	products := make([]store.Product, len(demoProducts))
	for i, p := range demoProducts {
		if err := st.CreateProduct(ctx, &p); err != nil {
			return fmt.Errorf("demo product %s: %w", p.SKU, err)
		}
		products[i] = p
	}
	for _, r := range demoRewards {
		if r.Stock != nil {
			r.Stock = int64p(*r.Stock)
		}
		if err := st.CreateReward(ctx, &r); err != nil {
			return fmt.Errorf("demo reward %s: %w", r.Name, err)
		}
	}
	customers := make([]store.Customer, len(demoCustomers))
	for i, c := range demoCustomers {
		if err := st.CreateCustomer(ctx, &c); err != nil {
			return fmt.Errorf("demo customer %s: %w", c.FirstName, err)
		}
		customers[i] = c
	}

	svc := loyalty.NewService(st, nil, clock, log)
	for i, p := range demoPurchases {
		in := loyalty.PurchaseInput{
			CustomerID: customers[p.customer].ID,
			Quantity:   p.qty,
			Amount:     decimal.RequireFromString(p.amount),
			Reference:  fmt.Sprintf("DEMO-%03d", i+1),
		}
		if p.product >= 0 {
			in.ProductID = &products[p.product].ID
		}
		if _, err := svc.RecordPurchase(ctx, in); err != nil {
			return fmt.Errorf("demo purchase %d: %w", i+1, err)
		}
	}

	sg := store.Segment{
		Name:        "Lisbon regulars",
		Description: "Lisbon customers with at least 50 points",
		Match:       store.MatchAll,
		Criteria: store.Criteria{
			{Field: "city", Operator: "eq", Value: "Lisbon"},
			{Field: "points_balance", Operator: "gte", Value: "50"},
		},
	}
	if err := st.CreateSegment(ctx, &sg); err != nil {
		return fmt.Errorf("demo segment: %w", err)
	}
	camp := store.Campaign{
		Name:      "Double points weekend",
		SegmentID: sg.ID,
		Channel:   store.ChannelSMS,
		Body:      "Hi {{first_name}}, you have {{points_balance}} points. Earn double this weekend!",
		Status:    store.CampaignDraft,
	}
	if err := st.CreateCampaign(ctx, &camp); err != nil {
		return fmt.Errorf("demo campaign: %w", err)
	}
	log.WithField("customers", len(customers)).Info("loaded demo data")
	return nil
}

// Seeder returns the memory store seeder used on startup and by
// /admin/reset. withDemo adds the demo data set.
func Seeder(opts Options, withDemo bool, log *logrus.Logger) memory.Seeder {
	return func(ctx context.Context, st store.Store) error {
		if err := Base(ctx, st, opts); err != nil {
			return err
		}
		if !withDemo {
			return nil
		}
		var clock *store.Clock
		if ms, ok := st.(*memory.Store); ok {
			clock = ms.Clock()
		}
		return Demo(ctx, st, clock, log)
	}
}
