package inventory

import (
	"context"
	"fmt"
)

// SeedDeposits and SeedProducts are created by Seed on an empty catalog.
var (
	SeedDeposits = []Deposit{{Name: "Teste"}, {Name: "Teste2"}}
	SeedProducts = []Product{
		{SKU: "123", Name: "Sabão"},
		{SKU: "456", Name: "Detergente"},
	}
)

// Seed creates the two fixed deposits and products when neither products nor
// deposits exist yet. It reports whether anything was created.
func Seed(ctx context.Context, store TxStore) (bool, error) {
	seeded := false
	err := store.WithTx(ctx, func(s Stores) error {
		products, err := s.CountProducts(ctx)
		if err != nil {
			return err
		}
		deposits, err := s.CountDeposits(ctx)
		if err != nil {
			return err
		}
		if products > 0 || deposits > 0 {
			return nil
		}

		for _, d := range SeedDeposits {
			if _, err := s.CreateDeposit(ctx, d); err != nil {
				return fmt.Errorf("seed deposit %q: %w", d.Name, err)
			}
		}
		for _, p := range SeedProducts {
			if _, err := s.CreateProduct(ctx, p); err != nil {
				return fmt.Errorf("seed product %q: %w", p.SKU, err)
			}
		}
		seeded = true
		return nil
	})
	return seeded, err
}
