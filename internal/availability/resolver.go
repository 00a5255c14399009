// Package availability expands carts of simple and composite products into
// aggregated leaf stock requirements and checks them against tracked stock.
package availability

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"ultrapos/backend/internal/domain"
)

// ErrRecipeCycle reports a composite that transitively references itself.
var ErrRecipeCycle = errors.New("recipe cycle")

// Requirement is the aggregated need for one leaf product across the whole
// cart. Direct is true when at least one cart line requested the product
// itself rather than reaching it through a recipe.
type Requirement struct {
	Quantity float64
	Direct   bool
}

// Expand flattens the cart into per-leaf requirements, recursing through
// composite recipes. Requirements for the same leaf are summed across all
// cart lines so shared ingredients are checked jointly. Unresolvable ids
// are returned as missing shortfalls rather than failing the expansion;
// only a recipe cycle is a hard error.
func Expand(products map[string]domain.Product, cart []domain.CartLine) (map[string]Requirement, []domain.StockShortfall, error) {
	required := make(map[string]Requirement)
	missing := make([]domain.StockShortfall, 0)
	seenMissing := make(map[string]bool)

	for _, line := range cart {
		path := make(map[string]bool)
		if err := expand(products, line.ProductID, line.Quantity, false, path, required, &missing, seenMissing); err != nil {
			return nil, nil, err
		}
	}
	return required, missing, nil
}

func expand(products map[string]domain.Product, id string, qty float64, ingredient bool, path map[string]bool, required map[string]Requirement, missing *[]domain.StockShortfall, seenMissing map[string]bool) error {
	if path[id] {
		return fmt.Errorf("%w: %s transitively references itself", ErrRecipeCycle, id)
	}

	product, ok := products[id]
	if !ok {
		if !seenMissing[id] {
			seenMissing[id] = true
			*missing = append(*missing, domain.StockShortfall{
				ProductID:  id,
				Needed:     qty,
				Ingredient: ingredient,
				Missing:    true,
			})
		}
		return nil
	}

	if !product.IsComposite {
		req := required[id]
		req.Quantity += qty
		if !ingredient {
			req.Direct = true
		}
		required[id] = req
		return nil
	}

	path[id] = true
	for _, component := range product.Recipe {
		if err := expand(products, component.ProductID, qty*component.QuantityPerUnit, true, path, required, missing, seenMissing); err != nil {
			return err
		}
	}
	delete(path, id)
	return nil
}

// MaxProducible reports how many whole units of a composite can be
// assembled from current leaf stock, and which ingredient runs out first.
// Non-composite products and composites with an unresolvable component
// yield zero with no limiting ingredient. The only error is a recipe cycle.
func MaxProducible(products map[string]domain.Product, id string) (float64, string, error) {
	product, ok := products[id]
	if !ok || !product.IsComposite {
		return 0, "", nil
	}

	required, missing, err := Expand(products, []domain.CartLine{{ProductID: id, Quantity: 1}})
	if err != nil {
		return 0, "", err
	}
	if len(missing) > 0 {
		return 0, "", nil
	}

	ids := make([]string, 0, len(required))
	for leafID := range required {
		ids = append(ids, leafID)
	}
	sort.Strings(ids)

	units := math.Inf(1)
	limiting := ""
	for _, leafID := range ids {
		perUnit := required[leafID].Quantity
		if perUnit <= 0 {
			continue
		}
		possible := products[leafID].Quantity / perUnit
		if possible < units {
			units = possible
			limiting = products[leafID].Name
		}
	}
	if math.IsInf(units, 1) {
		return 0, "", nil
	}
	return math.Floor(units), limiting, nil
}

// Check expands the cart and compares every aggregated leaf requirement
// against tracked stock. A nil shortfall slice means the cart is
// satisfiable. The only error condition is a recipe cycle.
func Check(products map[string]domain.Product, cart []domain.CartLine) ([]domain.StockShortfall, error) {
	required, shortfalls, err := Expand(products, cart)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(required))
	for id := range required {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		req := required[id]
		product := products[id]
		if req.Quantity > product.Quantity {
			shortfalls = append(shortfalls, domain.StockShortfall{
				ProductID:  id,
				Name:       product.Name,
				Needed:     req.Quantity,
				Available:  product.Quantity,
				Ingredient: !req.Direct,
			})
		}
	}

	if len(shortfalls) == 0 {
		return nil, nil
	}
	return shortfalls, nil
}
