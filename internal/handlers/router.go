package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"storefront/internal/addressbook"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/fulfillment"
	"storefront/internal/ledger"
	"storefront/internal/metrics"
	"storefront/internal/middleware"
)

// Deps is everything the HTTP surface talks to.
type Deps struct {
	Carts       *cart.Service
	Addresses   *addressbook.Book
	Checkout    *checkout.Service
	Ledger      *ledger.Ledger
	Fulfillment *fulfillment.Machine
	Users       UserStore
	Products    ProductStore
	Store       Pinger

	JWTSecret      string
	AccessTokenTTL time.Duration
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(middleware.Metrics())

	r.GET("/health", Health(d.Store))
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	r.POST("/auth/register", Register(d.Users, d.JWTSecret, d.AccessTokenTTL))
	r.POST("/auth/login", Login(d.Users, d.Carts, d.JWTSecret, d.AccessTokenTTL))
	r.GET("/auth/me", middleware.UserAuth(d.JWTSecret), GetMe(d.Users))
	r.POST("/admin/login", AdminLogin(d.Users, d.JWTSecret, d.AccessTokenTTL))

	r.POST("/payments/notify", PaymentNotify(d.Checkout))
	r.GET("/orders/track/:trackingNumber", TrackOrder(d.Ledger))

	carts := r.Group("/cart")
	carts.Use(middleware.OptionalUser(d.JWTSecret), middleware.CartOwner())
	{
		carts.GET("", GetCart(d.Carts))
		carts.GET("/count", GetCartCount(d.Carts))
		carts.POST("/items", AddCartItem(d.Carts))
		carts.POST("/items/:key/decrement", DecrementCartItem(d.Carts))
		carts.PUT("/items/:key", SetCartItemQuantity(d.Carts))
		carts.DELETE("/items/:key", RemoveCartItem(d.Carts))
	}
	r.POST("/cart/consolidate", middleware.UserAuth(d.JWTSecret), ConsolidateCart(d.Carts))

	user := r.Group("/user")
	user.Use(middleware.UserAuth(d.JWTSecret))
	{
		user.GET("/addresses", GetUserAddresses(d.Addresses))
		user.POST("/addresses", CreateUserAddress(d.Addresses))
		user.PUT("/addresses/:id", UpdateUserAddress(d.Addresses))

		user.GET("/orders", GetUserOrders(d.Ledger))
		user.GET("/orders/:id", GetUserOrder(d.Ledger))
		user.POST("/orders/:id/payment/retry", RetryPayment(d.Checkout))
		user.POST("/orders/:id/payment/cod", SwitchToCashOnDelivery(d.Checkout))
	}

	sessions := r.Group("/checkout/sessions")
	sessions.Use(middleware.UserAuth(d.JWTSecret))
	{
		sessions.POST("", BeginCheckout(d.Checkout))
		sessions.PUT("/:id/address", SelectCheckoutAddress(d.Checkout))
		sessions.POST("/:id/orders", PlaceOrder(d.Checkout))
	}

	admin := r.Group("/admin/api")
	admin.Use(middleware.AdminAuth(d.JWTSecret))
	{
		admin.GET("/me", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"ok": true})
		})

		admin.GET("/orders", GetAdminOrders(d.Ledger))
		admin.GET("/orders/stream", StreamOrders(d.Fulfillment))
		admin.GET("/orders/:id", GetAdminOrder(d.Ledger))
		admin.PATCH("/orders/:id/status", UpdateOrderStatus(d.Fulfillment))
		admin.DELETE("/orders/:id", DeleteOrder(d.Ledger))

		admin.PUT("/products/:id", PutProduct(d.Products))
		admin.GET("/inventory/:productId", GetInventory(d.Ledger))
		admin.POST("/inventory/:productId/receive", ReceiveStock(d.Ledger))
	}

	return r
}
