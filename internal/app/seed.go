package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// catalogSeed — начальное наполнение каталога из JSON-файла.
type catalogSeed struct {
	Products []seedProduct `json:"products"`
	Cashiers []seedCashier `json:"cashiers"`
}

type seedProduct struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
	Stock int64           `json:"stock"`
}

type seedCashier struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type productUpserter interface {
	Upsert(ctx context.Context, product domain.Product) error
}

type cashierUpserter interface {
	Upsert(ctx context.Context, cashier domain.Cashier) error
}

func loadSeedFile(path string) (catalogSeed, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return catalogSeed{}, fmt.Errorf("read catalog seed: %w", err)
	}
	return parseSeed(raw)
}

func parseSeed(raw []byte) (catalogSeed, error) {
	var seed catalogSeed
	if err := json.Unmarshal(raw, &seed); err != nil {
		return catalogSeed{}, fmt.Errorf("decode catalog seed: %w", err)
	}
	for _, p := range seed.Products {
		if strings.TrimSpace(p.ID) == "" {
			return catalogSeed{}, fmt.Errorf("catalog seed: product without id")
		}
		if p.Stock < 0 || p.Price.IsNegative() {
			return catalogSeed{}, fmt.Errorf("catalog seed: product %s has negative price or stock", p.ID)
		}
	}
	for _, c := range seed.Cashiers {
		if strings.TrimSpace(c.ID) == "" {
			return catalogSeed{}, fmt.Errorf("catalog seed: cashier without id")
		}
	}
	return seed, nil
}

// apply записывает товары и кассиров. Хранилище без Upsert даёт ошибку.
func (s catalogSeed) apply(ctx context.Context, catalog domain.ProductCatalog, cashiers domain.CashierDirectory) error {
	if len(s.Products) > 0 {
		up, ok := catalog.(productUpserter)
		if !ok {
			return fmt.Errorf("catalog %T does not support seeding", catalog)
		}
		for _, p := range s.Products {
			product := domain.Product{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock}
			if err := up.Upsert(ctx, product); err != nil {
				return fmt.Errorf("seed product %s: %w", p.ID, err)
			}
		}
	}
	if len(s.Cashiers) > 0 {
		up, ok := cashiers.(cashierUpserter)
		if !ok {
			return fmt.Errorf("cashier directory %T does not support seeding", cashiers)
		}
		for _, c := range s.Cashiers {
			if err := up.Upsert(ctx, domain.Cashier{ID: c.ID, Name: c.Name}); err != nil {
				return fmt.Errorf("seed cashier %s: %w", c.ID, err)
			}
		}
	}
	return nil
}
