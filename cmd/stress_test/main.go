package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rl1809/storefront/internal/adapter/storage"
	"github.com/rl1809/storefront/internal/core/domain"
	"github.com/rl1809/storefront/internal/core/service"
	"github.com/rl1809/storefront/internal/port"
)

const (
	initialStock  = 20
	totalRequests = 50
	itemPrice     = "9.99"
)

type repositories interface {
	port.AccountRepository
	port.InventoryRepository
	port.OrderRepository
}

// Runs concurrent order builds against one item and checks that every
// decrement landed. With MYSQL_DSN set the MySQL adapter is exercised,
// otherwise the in-memory store.
func main() {
	ctx := context.Background()

	var repos repositories = storage.NewMemoryAdapter()
	if dsn := os.Getenv("MYSQL_DSN"); dsn != "" {
		db, err := sql.Open("mysql", dsn)
		if err != nil {
			log.Fatalf("failed to open mysql: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}

		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.InitSchema(ctx); err != nil {
			log.Fatalf("failed to init schema: %v", err)
		}
		repos = mysqlAdapter
	}

	now := time.Now().UTC()
	buyer := domain.Account{
		ID:           uuid.New().String(),
		Email:        "stress-" + uuid.New().String()[:8] + "@example.com",
		PasswordHash: "-",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := repos.CreateAccount(ctx, buyer); err != nil {
		log.Fatalf("failed to create account: %v", err)
	}

	item := domain.InventoryItem{
		ID:        uuid.New().String(),
		AccountID: buyer.ID,
		Title:     "stress item",
		Price:     decimal.RequireFromString(itemPrice),
		Quantity:  initialStock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := repos.CreateItem(ctx, item); err != nil {
		log.Fatalf("failed to create item: %v", err)
	}

	orderService := service.NewOrderService(repos, repos, nil, nil, false, zap.NewNop())

	// Counters
	var successCount atomic.Int32
	var failCount atomic.Int32

	// Spawn concurrent requests
	var wg sync.WaitGroup
	start := time.Now()

	for i := 0; i < totalRequests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := orderService.BuildOrder(ctx, buyer, []domain.OrderPair{{ItemID: item.ID, Quantity: 1}})
			if err == nil {
				successCount.Add(1)
			} else {
				failCount.Add(1)
			}
		}()
	}

	wg.Wait()
	elapsed := time.Since(start)

	// Results
	success := successCount.Load()
	fail := failCount.Load()

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Initial Stock:    %d\n", initialStock)
	fmt.Printf("Total Requests:   %d\n", totalRequests)
	fmt.Printf("Successful:       %d\n", success)
	fmt.Printf("Failed:           %d\n", fail)
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if success == int32(totalRequests) {
		fmt.Printf("PASS: all %d orders built\n", totalRequests)
	} else {
		fmt.Printf("FAIL: expected %d successes, got %d\n", totalRequests, success)
	}

	// Oversell is allowed; the final stock must reflect every decrement.
	final, err := repos.GetItem(ctx, item.ID)
	if err != nil || final == nil {
		log.Fatalf("failed to reload item: %v", err)
	}
	expected := initialStock - int(success)
	fmt.Printf("Final Stock:      %d\n", final.Quantity)

	if final.Quantity == expected {
		fmt.Printf("PASS: stock is %d, no lost decrements\n", expected)
	} else {
		fmt.Printf("FAIL: expected stock %d, got %d\n", expected, final.Quantity)
	}
}
