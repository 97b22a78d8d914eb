package service

import (
	"context"

	"order-engine/internal/apperr"
	"order-engine/internal/models"
	"order-engine/internal/store"
)

// Principal is the authenticated caller of an operation
type Principal struct {
	UserID int64
	Role   string
}

// SystemPrincipal acts for internal integrations such as the fulfillment status feed
var SystemPrincipal = Principal{UserID: 0, Role: models.RoleAdmin}

// Permissions is computed once per principal and consulted by every operation
// instead of comparing role strings at each call site.
type Permissions struct {
	UserID       int64
	ManageOrders bool
	ViewAll      bool
}

// PermissionsFor derives the capability set of a principal
func PermissionsFor(p Principal) Permissions {
	admin := p.Role == models.RoleAdmin
	return Permissions{
		UserID:       p.UserID,
		ManageOrders: admin,
		ViewAll:      admin,
	}
}

// CanView reports whether the caller may read the order
func (p Permissions) CanView(order *models.Order) bool {
	return p.ViewAll || order.UserID == p.UserID
}

// CanCancel reports whether the caller may cancel the order
func (p Permissions) CanCancel(order *models.Order) bool {
	return p.ManageOrders || order.UserID == p.UserID
}

// UserDirectory resolves authenticated user ids into principals
type UserDirectory struct {
	repo store.Repository
}

// NewUserDirectory creates a new user directory
func NewUserDirectory(repo store.Repository) *UserDirectory {
	return &UserDirectory{repo: repo}
}

// Principal loads the user's current role; deleted users do not resolve
func (d *UserDirectory) Principal(ctx context.Context, userID int64) (Principal, error) {
	user, err := d.repo.GetUser(ctx, userID)
	if err != nil {
		return Principal{}, err
	}
	if user.IsDeleted {
		return Principal{}, apperr.NotFound("user not found: %d", userID)
	}
	return Principal{UserID: user.ID, Role: user.Role}, nil
}
