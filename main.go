package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/addressbook"
	"storefront/internal/cart"
	"storefront/internal/checkout"
	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/events"
	"storefront/internal/fulfillment"
	"storefront/internal/handlers"
	"storefront/internal/ledger"
	"storefront/internal/models"
	"storefront/internal/payment"
)

// store is what one storage driver has to provide.
type store interface {
	cart.Store
	cart.Catalog
	addressbook.Store
	ledger.Store
	checkout.NotificationStore
	fulfillment.Watcher
	handlers.UserStore
	handlers.ProductStore
	handlers.Pinger
}

func openStore(cfg config.Config) (store, func(), error) {
	if cfg.StoreDriver == "memory" {
		log.Println("[MAIN] [WARN] using the in-memory store, nothing survives a restart")
		return database.NewMemory(cfg.AnonCartTTL), func() {}, nil
	}

	client, err := database.Connect(cfg.MongoURI)
	if err != nil {
		return nil, nil, err
	}
	db := client.Database(cfg.DBName)
	log.Println("MongoDB connected to:", db.Name())

	for name, ensure := range map[string]func() error{
		"cart":    func() error { return database.EnsureCartIndexes(db) },
		"address": func() error { return database.EnsureAddressIndexes(db) },
		"order":   func() error { return database.EnsureOrderIndexes(db) },
		"user":    func() error { return database.EnsureUserIndexes(db) },
		"payment": func() error { return database.EnsurePaymentIndexes(db) },
	} {
		if err := ensure(); err != nil {
			log.Printf("[MAIN] [WARN] %s index warning: %v", name, err)
		}
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Disconnect(ctx); err != nil {
			log.Println("[MAIN] [ERROR] mongo disconnect:", err)
		}
	}
	return database.NewMongo(db, cfg.AnonCartTTL), closeFn, nil
}

func openPublisher(cfg config.Config) events.Publisher {
	brokers := events.ParseBrokers(cfg.KafkaBrokers)
	if len(brokers) == 0 {
		return events.LogPublisher{}
	}
	log.Printf("[MAIN] [INFO] publishing order events to %v topic %s", brokers, cfg.KafkaOrderTopic)
	return events.NewKafkaPublisher(brokers, cfg.KafkaOrderTopic)
}

// ensureStaffAccount creates the configured staff account on first start.
func ensureStaffAccount(ctx context.Context, users handlers.UserStore, email, password string) error {
	if email == "" {
		return nil
	}
	if _, err := users.UserByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, database.ErrNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	err = users.InsertUser(ctx, models.User{
		ID:           uuid.NewString(),
		Email:        email,
		PasswordHash: string(hash),
		Name:         "Staff",
		Role:         models.RoleAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if errors.Is(err, database.ErrConflict) {
		return nil
	}
	if err == nil {
		log.Println("[MAIN] [INFO] staff account created:", email)
	}
	return err
}

func main() {
	config.Load()
	cfg := config.AppEnv
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	log.Println("[MAIN] [INFO] config", cfg.Redacted())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer closeStore()

	publisher := openPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Println("[MAIN] [ERROR] event publisher close:", err)
		}
	}()

	setupCtx, cancelSetup := context.WithTimeout(ctx, 5*time.Second)
	if err := ensureStaffAccount(setupCtx, st, cfg.StaffEmail, cfg.StaffPassword); err != nil {
		log.Println("[MAIN] [ERROR] staff account:", err)
	}
	cancelSetup()

	carts := cart.NewService(st, st)
	book := addressbook.New(st, cfg.CheckoutSessionTTL)
	l := ledger.New(st, publisher, ledger.Config{Currency: cfg.Currency, DeliveryDays: cfg.DeliveryDays})
	gateway := payment.NewPayHere(payment.Config{
		MerchantID: cfg.PayHereMerchantID,
		Secret:     cfg.PayHereMerchantSecret,
		Env:        cfg.PayHereEnv,
		ReturnURL:  cfg.ReturnURL(),
		CancelURL:  cfg.CancelURL(),
		NotifyURL:  cfg.NotifyURL(),
	})
	svc := checkout.NewService(carts, book, l,
		payment.NewNegotiator(gateway, 10*time.Second, cfg.ReturnURL()),
		payment.NewVerifier(cfg.PayHereMerchantID, cfg.PayHereMerchantSecret),
		st,
	)

	go ledger.NewSweeper(l, cfg.PaymentTimeout, cfg.ReservationTimeout).Run(ctx, cfg.SweepInterval)

	router := handlers.NewRouter(handlers.Deps{
		Carts:          carts,
		Addresses:      book,
		Checkout:       svc,
		Ledger:         l,
		Fulfillment:    fulfillment.New(l, st),
		Users:          st,
		Products:       st,
		Store:          st,
		JWTSecret:      cfg.JWTSecret,
		AccessTokenTTL: cfg.AccessTokenTTL,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// Order streams end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		log.Println("[MAIN] [INFO] listening on", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	log.Println("[MAIN] [INFO] shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Println("[MAIN] [ERROR] shutdown:", err)
	}
}
