/*
seed.go - Default data for an empty database

PURPOSE:
  On first start there is nobody to create shipments for. When the users
  table is empty, SeedDefaultUser creates one user with an empty credits
  block and logs its id so it can be used right away:

    POST /api/users/{id}/credits   {"plan": 1}
    POST /api/users/{id}/shipments {...}

  A non-empty database is left untouched.

SEE ALSO:
  - cmd/server/main.go: Calls SeedDefaultUser when seed.enabled is set
*/
package api

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/warp/shipment-engine/shipping"
)

// SeedDefaultUser creates the default user if store has no users. It returns
// the created user, or nil when seeding was skipped.
func SeedDefaultUser(ctx context.Context, store shipping.Store, svc *shipping.Service, in shipping.NewUser, logger zerolog.Logger) (*shipping.User, error) {
	n, err := store.CountUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("count users: %w", err)
	}
	if n > 0 {
		logger.Debug().Int("users", n).Msg("database not empty, skipping seed")
		return nil, nil
	}

	u, err := svc.CreateUser(ctx, in)
	if err != nil {
		return nil, fmt.Errorf("seed default user: %w", err)
	}
	logger.Info().
		Str("user_id", string(u.ID)).
		Str("name", u.Name).
		Msg("seeded default user")
	return &u, nil
}
