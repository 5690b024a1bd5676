package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/money"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type seedAccount struct {
	id, code, name, parent string
	typ                    ledger.AccountType
	overdraft              bool
}

// Parents precede children.
var chart = []seedAccount{
	{id: "assets", code: "1000", name: "Assets", typ: ledger.AccountTypeAsset},
	{id: "cash", code: "1000-01", name: "Cash on Hand", parent: "assets", typ: ledger.AccountTypeAsset},
	{id: "bank", code: "1000-02", name: "Bank", parent: "assets", typ: ledger.AccountTypeAsset, overdraft: true},
	{id: "liabilities", code: "2000", name: "Liabilities", typ: ledger.AccountTypeLiability},
	{id: "loan", code: "2000-01", name: "Bank Loan", parent: "liabilities", typ: ledger.AccountTypeLiability},
	{id: "equity", code: "3000", name: "Owner Equity", typ: ledger.AccountTypeEquity},
	{id: "revenue", code: "4000", name: "Sales Revenue", typ: ledger.AccountTypeRevenue},
	{id: "expenses", code: "5000", name: "Operating Expenses", typ: ledger.AccountTypeExpense},
	{id: "rent", code: "5000-01", name: "Rent", parent: "expenses", typ: ledger.AccountTypeExpense},
}

type seedPosting struct {
	account string
	side    ledger.Side
	amount  int64
}

var postings = []seedPosting{
	{"cash", ledger.SideDebit, 50000},
	{"equity", ledger.SideCredit, 50000},
	{"bank", ledger.SideDebit, 200000},
	{"loan", ledger.SideCredit, 200000},
	{"cash", ledger.SideDebit, 15000},
	{"revenue", ledger.SideCredit, 15000},
	{"rent", ledger.SideDebit, 8000},
	{"cash", ledger.SideCredit, 8000},
}

func main() {
	tenant := ledger.TenantID(getenv("SEED_TENANT", "demo"))
	currency := money.Currency(getenv("SEED_CURRENCY", string(money.BDT)))

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	ctx := shared.ContextWithActor(context.Background(), "seed")
	store, err := app.OpenEventStore(ctx, cfg)
	if err != nil {
		log.Fatalf("open event store: %v", err)
	}
	defer store.Close()

	svc := ledger.NewService(ledger.NewRepository(store.Store, ledger.NewCodec()), nil, nil, app.NewLogger(cfg))

	fmt.Println("→ Seeding chart of accounts...")
	for _, a := range chart {
		_, err := svc.CreateAccount(ctx, ledger.CreateAccount{
			AccountID:    ledger.AccountID(a.id),
			TenantID:     tenant,
			Code:         a.code,
			Name:         a.name,
			Type:         a.typ,
			Currency:     currency,
			ParentID:     ledger.AccountID(a.parent),
			Capabilities: ledger.Capabilities{Overdraft: a.overdraft},
		})
		if ledger.IsKind(err, ledger.KindConflict) {
			fmt.Printf("  %s exists, skipping\n", a.code)
			continue
		}
		if err != nil {
			log.Fatalf("seed account %s: %v", a.code, err)
		}
	}

	fmt.Println("→ Seeding opening postings...")
	for _, p := range postings {
		_, err := svc.Post(ctx, ledger.PostAmount{
			TenantID:  tenant,
			AccountID: ledger.AccountID(p.account),
			Side:      p.side,
			Amount:    money.FromInt(p.amount, currency),
		})
		if err != nil {
			log.Fatalf("post %s %s: %v", p.side, p.account, err)
		}
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
