/*
service.go - Shipment and product mutation workflows

PURPOSE:
  The entry points that change balances, quotas and shipment costs. Each
  workflow runs as ONE atomic unit through TxStore.WithTx: every read is
  made through the transactional view, and either all writes commit or
  none do.

WORKFLOWS:
  CreateShipment  quota + balance gate, charge base rate, quota -1
  AddProduct      insert, re-price from all products, compensate on reject
  UpdateProduct   partial update, re-price if weight changed, compensate
  DeleteProduct   remove, re-price from remaining products
  DeleteShipment  remove products + shipment, refund cost, quota +1
  BuyCredits      replace credits block with a catalog plan

  Every balance change also appends a Movement (ledger.go) inside the same
  unit, so the log and the balance can never disagree after a commit.

COMPENSATION:
  When a provisional write has to happen before the sufficiency check
  (insert-then-price), the workflow undoes it explicitly before returning
  the rejection. Returning the error also aborts the atomic unit, so a store
  without real rollback still ends up unchanged.

RETRIES:
  None. A failed unit is reported to the caller as is.

SEE ALSO:
  - reconciler.go: The pricing/balance step each product workflow runs
  - store.go: TxStore contract
*/
package shipping

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// =============================================================================
// RESULTS
// =============================================================================

// ShipmentReceipt is returned by CreateShipment.
type ShipmentReceipt struct {
	Shipment Shipment
	Credits  Credits
}

// ProductReceipt is returned by the product workflows. For DeleteProduct,
// Product is the removed record.
type ProductReceipt struct {
	Product        Product
	Shipment       Shipment
	Reconciliation Reconciliation
	Credits        Credits
}

// ShipmentDeletion is returned by DeleteShipment.
type ShipmentDeletion struct {
	ShipmentID      ShipmentID
	Refunded        decimal.Decimal
	ProductsRemoved int
	Credits         Credits
}

// ShipmentDetails is a shipment with its products.
type ShipmentDetails struct {
	Shipment Shipment
	Products []Product
}

// =============================================================================
// SERVICE
// =============================================================================

type Service struct {
	store  TxStore
	logger zerolog.Logger
	now    func() time.Time
}

type Option func(*Service)

// WithClock overrides time.Now for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(store TxStore, opts ...Option) *Service {
	s := &Service{
		store:  store,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// =============================================================================
// USERS & CREDITS
// =============================================================================

// CreateUser registers a user with an empty credits block.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (User, error) {
	if in.Name == "" {
		return User{}, &ValidationError{Field: "name", Message: "is required"}
	}
	now := s.now()
	u := User{
		ID:        NewUserID(),
		Name:      in.Name,
		Email:     in.Email,
		Credits:   Credits{Amount: decimal.Zero, Cost: decimal.Zero},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertUser(ctx, u); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	s.logger.Info().Str("user_id", string(u.ID)).Msg("user created")
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id UserID) (User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return User{}, userNotFound(id)
	}
	return *u, nil
}

func (s *Service) ListUsers(ctx context.Context) ([]User, error) {
	return s.store.ListUsers(ctx)
}

// CheckCredit returns the user's current credits block.
func (s *Service) CheckCredit(ctx context.Context, id UserID) (Credits, error) {
	u, err := s.GetUser(ctx, id)
	if err != nil {
		return Credits{}, err
	}
	return u.Credits, nil
}

// BuyCredits replaces (does not add to) the user's credits with the plan's block.
func (s *Service) BuyCredits(ctx context.Context, id UserID, planID int) (Credits, error) {
	var credits Credits
	err := s.store.WithTx(ctx, func(tx Store) error {
		u, err := tx.GetUser(ctx, id)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if u == nil {
			return userNotFound(id)
		}
		plan, err := LookupPlan(planID)
		if err != nil {
			return err
		}
		credits = plan.Credits()
		if err := tx.UpdateCredits(ctx, id, credits); err != nil {
			return fmt.Errorf("update credits: %w", err)
		}
		return s.appendMovement(ctx, tx, Movement{
			UserID:  id,
			Kind:    MovementPlanPurchase,
			Delta:   credits.Amount.Sub(u.Credits.Amount),
			Balance: credits.Amount,
			Reason:  fmt.Sprintf("plan %d", planID),
		})
	})
	if err != nil {
		s.logOutcome("buy_credits", err, s.logger.With().Str("user_id", string(id)).Int("plan", planID).Logger())
		return Credits{}, err
	}
	s.logger.Info().Str("user_id", string(id)).Int("plan", planID).
		Str("amount", credits.Amount.String()).Int("shipments", credits.Shipments).
		Msg("credits purchased")
	return credits, nil
}

// UserMovements returns the user's balance log, oldest first.
func (s *Service) UserMovements(ctx context.Context, id UserID) ([]Movement, error) {
	if _, err := s.GetUser(ctx, id); err != nil {
		return nil, err
	}
	return s.store.ListMovementsByUser(ctx, id)
}

// =============================================================================
// SHIPMENTS
// =============================================================================

// CreateShipment charges the owner's base rate and consumes one quota unit.
func (s *Service) CreateShipment(ctx context.Context, userID UserID, in NewShipment) (ShipmentReceipt, error) {
	if err := in.validate(); err != nil {
		return ShipmentReceipt{}, err
	}

	var receipt ShipmentReceipt
	err := s.store.WithTx(ctx, func(tx Store) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("get user: %w", err)
		}
		if u == nil {
			return userNotFound(userID)
		}

		credits := u.Credits
		if credits.Shipments <= 0 {
			return &InsufficientQuotaError{UserID: userID, Available: credits.Shipments}
		}
		if credits.Amount.LessThan(credits.Cost) {
			return &InsufficientCreditError{Required: credits.Cost, Available: credits.Amount, TotalWeight: decimal.Zero}
		}

		now := s.now()
		shipment := Shipment{
			ID:          NewShipmentID(),
			UserID:      userID,
			Name:        in.Name,
			Address:     in.Address,
			Phone:       in.Phone,
			Ref:         in.Ref,
			Observation: in.Observation,
			Cost:        credits.Cost,
			Status:      StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.InsertShipment(ctx, shipment); err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}

		credits.Shipments--
		credits.Amount = credits.Amount.Sub(credits.Cost)
		if err := tx.UpdateCredits(ctx, userID, credits); err != nil {
			return fmt.Errorf("update credits: %w", err)
		}
		if err := s.appendMovement(ctx, tx, Movement{
			UserID:     userID,
			ShipmentID: shipment.ID,
			Kind:       MovementShipmentCharge,
			Delta:      shipment.Cost.Neg(),
			Balance:    credits.Amount,
		}); err != nil {
			return err
		}

		receipt = ShipmentReceipt{Shipment: shipment, Credits: credits}
		return nil
	})
	if err != nil {
		s.logOutcome("create_shipment", err, s.logger.With().Str("user_id", string(userID)).Logger())
		return ShipmentReceipt{}, err
	}

	s.logger.Info().
		Str("user_id", string(userID)).
		Str("shipment_id", string(receipt.Shipment.ID)).
		Str("cost", receipt.Shipment.Cost.String()).
		Str("remaining_credits", receipt.Credits.Amount.String()).
		Int("remaining_shipments", receipt.Credits.Shipments).
		Msg("shipment created")
	return receipt, nil
}

func (s *Service) UserShipments(ctx context.Context, userID UserID) ([]Shipment, error) {
	if _, err := s.GetUser(ctx, userID); err != nil {
		return nil, err
	}
	return s.store.ListShipmentsByUser(ctx, userID)
}

func (s *Service) ShipmentDetails(ctx context.Context, id ShipmentID) (ShipmentDetails, error) {
	var details ShipmentDetails
	err := s.store.WithTx(ctx, func(tx Store) error {
		shipment, err := tx.GetShipment(ctx, id)
		if err != nil {
			return fmt.Errorf("get shipment: %w", err)
		}
		if shipment == nil {
			return shipmentNotFound(id)
		}
		products, err := tx.ListProductsByShipment(ctx, id)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		details = ShipmentDetails{Shipment: *shipment, Products: products}
		return nil
	})
	return details, err
}

func (s *Service) ShipmentProducts(ctx context.Context, id ShipmentID) ([]Product, error) {
	details, err := s.ShipmentDetails(ctx, id)
	if err != nil {
		return nil, err
	}
	return details.Products, nil
}

// DeleteShipment removes the shipment and its products, refunds its last
// charged cost and gives back one quota unit.
func (s *Service) DeleteShipment(ctx context.Context, id ShipmentID) (ShipmentDeletion, error) {
	var result ShipmentDeletion
	err := s.store.WithTx(ctx, func(tx Store) error {
		shipment, owner, err := loadShipmentAndOwner(ctx, tx, id)
		if err != nil {
			return err
		}

		products, err := tx.ListProductsByShipment(ctx, id)
		if err != nil {
			return fmt.Errorf("list products: %w", err)
		}
		if err := tx.DeleteProductsByShipment(ctx, id); err != nil {
			return fmt.Errorf("delete products: %w", err)
		}
		if err := tx.DeleteShipment(ctx, id); err != nil {
			return fmt.Errorf("delete shipment: %w", err)
		}

		credits := owner.Credits
		credits.Shipments++
		if shipment.Cost.IsPositive() {
			credits.Amount = credits.Amount.Add(shipment.Cost)
		}
		if err := tx.UpdateCredits(ctx, owner.ID, credits); err != nil {
			return fmt.Errorf("update credits: %w", err)
		}
		if shipment.Cost.IsPositive() {
			if err := s.appendMovement(ctx, tx, Movement{
				UserID:     owner.ID,
				ShipmentID: id,
				Kind:       MovementShipmentRefund,
				Delta:      shipment.Cost,
				Balance:    credits.Amount,
			}); err != nil {
				return err
			}
		}

		result = ShipmentDeletion{
			ShipmentID:      id,
			Refunded:        shipment.Cost,
			ProductsRemoved: len(products),
			Credits:         credits,
		}
		return nil
	})
	if err != nil {
		s.logOutcome("delete_shipment", err, s.logger.With().Str("shipment_id", string(id)).Logger())
		return ShipmentDeletion{}, err
	}

	s.logger.Info().
		Str("shipment_id", string(id)).
		Str("refunded", result.Refunded.String()).
		Int("products_removed", result.ProductsRemoved).
		Msg("shipment deleted")
	return result, nil
}

// =============================================================================
// PRODUCTS
// =============================================================================

// AddProduct inserts a product and re-prices its shipment from the full
// product set. On InsufficientCredit the inserted product is removed again.
func (s *Service) AddProduct(ctx context.Context, shipmentID ShipmentID, in NewProduct) (ProductReceipt, error) {
	if err := in.validate(); err != nil {
		return ProductReceipt{}, err
	}

	var receipt ProductReceipt
	err := s.store.WithTx(ctx, func(tx Store) error {
		shipment, owner, err := loadShipmentAndOwner(ctx, tx, shipmentID)
		if err != nil {
			return err
		}

		now := s.now()
		product := Product{
			ID:           NewProductID(),
			ShipmentID:   shipmentID,
			Description:  in.Description,
			Weight:       in.Weight,
			Packages:     in.Packages,
			DeliveryDate: in.DeliveryDate,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := tx.InsertProduct(ctx, product); err != nil {
			return fmt.Errorf("insert product: %w", err)
		}

		rec, err := s.reprice(ctx, tx, shipment, owner, "product added")
		if err != nil {
			if errors.Is(err, ErrInsufficientCredit) {
				if cerr := tx.DeleteProduct(ctx, product.ID); cerr != nil {
					return fmt.Errorf("compensate product insert: %w", cerr)
				}
			}
			return err
		}

		receipt = newProductReceipt(product, shipment, owner, rec)
		return nil
	})
	if err != nil {
		s.logOutcome("add_product", err, s.logger.With().Str("shipment_id", string(shipmentID)).Logger())
		return ProductReceipt{}, err
	}

	s.logReprice("product added", receipt)
	return receipt, nil
}

// UpdateProduct applies a partial update. The shipment is re-priced only when
// the weight changed; on InsufficientCredit the previous weight is restored.
func (s *Service) UpdateProduct(ctx context.Context, id ProductID, patch ProductPatch) (ProductReceipt, error) {
	if err := patch.validate(); err != nil {
		return ProductReceipt{}, err
	}

	var receipt ProductReceipt
	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if existing == nil {
			return productNotFound(id)
		}
		shipment, owner, err := loadShipmentAndOwner(ctx, tx, existing.ShipmentID)
		if err != nil {
			return err
		}

		previousWeight := existing.Weight
		updated := *existing
		weightChanged := patch.apply(&updated)
		updated.UpdatedAt = s.now()
		if err := tx.UpdateProduct(ctx, updated); err != nil {
			return fmt.Errorf("update product: %w", err)
		}

		if !weightChanged {
			products, err := tx.ListProductsByShipment(ctx, shipment.ID)
			if err != nil {
				return fmt.Errorf("list products: %w", err)
			}
			total := TotalWeight(products)
			receipt = newProductReceipt(updated, shipment, owner, Reconciliation{
				TotalWeight: total,
				Multiplier:  Multiplier(total),
				OldCost:     shipment.Cost,
				NewCost:     shipment.Cost,
				Balance:     owner.Credits.Amount,
			})
			return nil
		}

		rec, err := s.reprice(ctx, tx, shipment, owner, "product updated")
		if err != nil {
			if errors.Is(err, ErrInsufficientCredit) {
				revert := updated
				revert.Weight = previousWeight
				if cerr := tx.UpdateProduct(ctx, revert); cerr != nil {
					return fmt.Errorf("compensate product update: %w", cerr)
				}
			}
			return err
		}

		receipt = newProductReceipt(updated, shipment, owner, rec)
		return nil
	})
	if err != nil {
		s.logOutcome("update_product", err, s.logger.With().Str("product_id", string(id)).Logger())
		return ProductReceipt{}, err
	}

	s.logReprice("product updated", receipt)
	return receipt, nil
}

// DeleteProduct removes a product and re-prices its shipment from the
// remaining products. The cost can only go down or stay, but the sufficiency
// check still runs.
func (s *Service) DeleteProduct(ctx context.Context, id ProductID) (ProductReceipt, error) {
	var receipt ProductReceipt
	err := s.store.WithTx(ctx, func(tx Store) error {
		existing, err := tx.GetProduct(ctx, id)
		if err != nil {
			return fmt.Errorf("get product: %w", err)
		}
		if existing == nil {
			return productNotFound(id)
		}
		shipment, owner, err := loadShipmentAndOwner(ctx, tx, existing.ShipmentID)
		if err != nil {
			return err
		}

		if err := tx.DeleteProduct(ctx, id); err != nil {
			return fmt.Errorf("delete product: %w", err)
		}

		rec, err := s.reprice(ctx, tx, shipment, owner, "product deleted")
		if err != nil {
			return err
		}

		receipt = newProductReceipt(*existing, shipment, owner, rec)
		return nil
	})
	if err != nil {
		s.logOutcome("delete_product", err, s.logger.With().Str("product_id", string(id)).Logger())
		return ProductReceipt{}, err
	}

	s.logReprice("product deleted", receipt)
	return receipt, nil
}

// =============================================================================
// HELPERS
// =============================================================================

func loadShipmentAndOwner(ctx context.Context, tx Store, id ShipmentID) (*Shipment, *User, error) {
	shipment, err := tx.GetShipment(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("get shipment: %w", err)
	}
	if shipment == nil {
		return nil, nil, shipmentNotFound(id)
	}
	owner, err := tx.GetUser(ctx, shipment.UserID)
	if err != nil {
		return nil, nil, fmt.Errorf("get user: %w", err)
	}
	if owner == nil {
		return nil, nil, userNotFound(shipment.UserID)
	}
	return shipment, owner, nil
}

// reprice recomputes the shipment cost from its current product set and
// persists cost, balance and the movement together. Nothing is written on
// rejection.
func (s *Service) reprice(ctx context.Context, tx Store, shipment *Shipment, owner *User, reason string) (Reconciliation, error) {
	products, err := tx.ListProductsByShipment(ctx, shipment.ID)
	if err != nil {
		return Reconciliation{}, fmt.Errorf("list products: %w", err)
	}

	rec, err := Reconcile(*shipment, owner.Credits, TotalWeight(products))
	if err != nil {
		return Reconciliation{}, err
	}
	if !rec.Changed() {
		return rec, nil
	}

	if err := tx.UpdateShipmentCost(ctx, shipment.ID, rec.NewCost); err != nil {
		return Reconciliation{}, fmt.Errorf("update shipment cost: %w", err)
	}
	credits := owner.Credits
	credits.Amount = rec.Balance
	if err := tx.UpdateCredits(ctx, owner.ID, credits); err != nil {
		return Reconciliation{}, fmt.Errorf("update credits: %w", err)
	}
	if err := s.appendMovement(ctx, tx, Movement{
		UserID:     owner.ID,
		ShipmentID: shipment.ID,
		Kind:       MovementReprice,
		Delta:      rec.Balance.Sub(owner.Credits.Amount),
		Balance:    rec.Balance,
		Reason:     reason,
	}); err != nil {
		return Reconciliation{}, err
	}
	return rec, nil
}

func (s *Service) appendMovement(ctx context.Context, tx Store, m Movement) error {
	m.ID = NewMovementID()
	m.CreatedAt = s.now()
	if err := tx.AppendMovement(ctx, m); err != nil {
		return fmt.Errorf("append movement: %w", err)
	}
	return nil
}

func newProductReceipt(p Product, shipment *Shipment, owner *User, rec Reconciliation) ProductReceipt {
	sh := *shipment
	sh.Cost = rec.NewCost
	credits := owner.Credits
	credits.Amount = rec.Balance
	return ProductReceipt{Product: p, Shipment: sh, Reconciliation: rec, Credits: credits}
}

func (s *Service) logReprice(msg string, r ProductReceipt) {
	s.logger.Info().
		Str("shipment_id", string(r.Shipment.ID)).
		Str("product_id", string(r.Product.ID)).
		Str("total_weight", r.Reconciliation.TotalWeight.String()).
		Str("old_cost", r.Reconciliation.OldCost.String()).
		Str("new_cost", r.Reconciliation.NewCost.String()).
		Str("remaining_credits", r.Credits.Amount.String()).
		Msg(msg)
}

// logOutcome logs a failed workflow: business rejections at info, store
// failures at error.
func (s *Service) logOutcome(workflow string, err error, l zerolog.Logger) {
	if IsClientError(err) || IsNotFound(err) {
		l.Info().Str("workflow", workflow).Err(err).Msg("workflow rejected")
		return
	}
	l.Error().Str("workflow", workflow).Err(err).Msg("workflow failed")
}
