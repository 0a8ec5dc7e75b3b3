package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/apperrors"
	"github.com/tm-acme-shop/acme-shop-marketplace-service/internal/models"
)

func TestCartService_GetCartIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	first, err := env.cart.GetCart(ctx, customer)
	require.NoError(t, err)
	second, err := env.cart.GetCart(ctx, customer)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.True(t, second.IsEmpty())

	theirs, err := env.cart.GetCart(ctx, other)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, theirs.ID)
}

func TestCartService_AddItemAccumulates(t *testing.T) {
	env := newTestEnv(t)
	p := env.approvedProduct(t, "Soap", "2.50")

	env.add(t, customer, p.ID, 2)
	cart := env.add(t, customer, p.ID, 3)

	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.True(t, cart.Total().Equal(dec("12.50")))
}

func TestCartService_AddItemRejectsUnavailableProducts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	pending, err := env.catalog.SubmitProduct(ctx, seller, &models.SubmitProductRequest{Name: "Draft", Description: "d", Price: dec("1")})
	require.NoError(t, err)

	_, err = env.cart.AddItem(ctx, customer, &models.AddCartItemRequest{ProductID: pending.ID, Quantity: 1})
	assert.True(t, apperrors.IsNotFound(err))

	_, err = env.cart.AddItem(ctx, customer, &models.AddCartItemRequest{ProductID: "missing", Quantity: 1})
	assert.True(t, apperrors.IsNotFound(err))

	p := env.approvedProduct(t, "Live", "1")
	_, err = env.cart.AddItem(ctx, customer, &models.AddCartItemRequest{ProductID: p.ID, Quantity: 0})
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)
}

func TestCartService_UpdateAndRemove(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.approvedProduct(t, "Tea", "4")
	cart := env.add(t, customer, p.ID, 1)
	lineID := cart.Items[0].ID

	_, err := env.cart.UpdateItem(ctx, customer, lineID, &models.UpdateCartItemRequest{Quantity: 0})
	_, ok := apperrors.AsValidation(err)
	assert.True(t, ok)

	_, err = env.cart.UpdateItem(ctx, other, lineID, &models.UpdateCartItemRequest{Quantity: 4})
	assert.True(t, apperrors.IsNotFound(err), "another user's line is not found")

	cart, err = env.cart.UpdateItem(ctx, customer, lineID, &models.UpdateCartItemRequest{Quantity: 4})
	require.NoError(t, err)
	assert.Equal(t, 4, cart.Items[0].Quantity)

	cart, err = env.cart.RemoveItem(ctx, customer, lineID)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())

	_, err = env.cart.RemoveItem(ctx, customer, lineID)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestCartService_ClearIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.cart.Clear(ctx, customer), "clearing a cart that does not exist")

	p := env.approvedProduct(t, "Rice", "3")
	env.add(t, customer, p.ID, 2)
	require.NoError(t, env.cart.Clear(ctx, customer))
	require.NoError(t, env.cart.Clear(ctx, customer))

	cart, err := env.cart.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.True(t, cart.IsEmpty())
}

func TestCartService_TotalFollowsLivePrice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.approvedProduct(t, "Flour", "10")
	env.add(t, customer, p.ID, 2)

	env.reprice(t, p.ID, "11")

	cart, err := env.cart.GetCart(ctx, customer)
	require.NoError(t, err)
	assert.True(t, cart.Total().Equal(dec("22")))
}
