// Package testutil opens throwaway sqlite databases carrying the paysettle schema.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

var dbSeq atomic.Int64

// NewDB returns an isolated in-memory database with every paysettle table.
// The pool is pinned to one connection so row-level races serialize.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:paysettle_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := db.Exec(stmt).Error; err != nil {
			t.Fatalf("schema exec failed: %v", err)
		}
	}
	return db
}

// Count runs a COUNT query and returns its result.
func Count(t testing.TB, db *gorm.DB, query string, args ...any) int64 {
	t.Helper()

	var count int64
	if err := db.Raw(query, args...).Scan(&count).Error; err != nil {
		t.Fatalf("query count: %v", err)
	}
	return count
}

var Schema = []string{
	`CREATE TABLE payment_records (
		id BIGINT PRIMARY KEY,
		reference TEXT NOT NULL UNIQUE,
		session_id TEXT UNIQUE,
		payable_type TEXT NOT NULL,
		payable_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		channel TEXT,
		status TEXT NOT NULL,
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		initialized_at DATETIME,
		paid_at DATETIME,
		cancelled_at DATETIME,
		expires_at DATETIME,
		notification_count INTEGER NOT NULL DEFAULT 0,
		last_notified_at DATETIME,
		metadata TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payment_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		payment_id BIGINT REFERENCES payment_records(id),
		reference TEXT,
		event_type TEXT NOT NULL,
		payload TEXT,
		origin_ip TEXT,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE fulfillment_jobs (
		id BIGINT PRIMARY KEY,
		reference TEXT NOT NULL,
		status TEXT NOT NULL,
		attempts INTEGER NOT NULL DEFAULT 0,
		available_at DATETIME NOT NULL,
		last_error TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE service_requests (
		id BIGINT PRIMARY KEY,
		category TEXT NOT NULL,
		offering TEXT NOT NULL,
		description TEXT,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at DATETIME,
		delivered_at DATETIME,
		delivered_payload TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE subscriptions (
		id BIGINT PRIMARY KEY,
		plan TEXT NOT NULL,
		billing_period TEXT NOT NULL,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at DATETIME,
		active_until DATETIME,
		delivered_at DATETIME,
		delivered_payload TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE training_registrations (
		id BIGINT PRIMARY KEY,
		title TEXT NOT NULL,
		level TEXT,
		duration TEXT,
		modules TEXT,
		files TEXT,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at DATETIME,
		delivered_at DATETIME,
		delivered_payload TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE shop_products (
		id BIGINT PRIMARY KEY,
		name TEXT NOT NULL,
		sku TEXT,
		category TEXT,
		description TEXT,
		digital BOOLEAN NOT NULL DEFAULT FALSE,
		files TEXT,
		price BIGINT NOT NULL,
		currency TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE shop_purchases (
		id BIGINT PRIMARY KEY,
		product_id BIGINT NOT NULL REFERENCES shop_products(id),
		quantity INTEGER NOT NULL DEFAULT 1,
		amount BIGINT NOT NULL,
		currency TEXT NOT NULL,
		payment_status TEXT NOT NULL DEFAULT 'unpaid',
		paid_at DATETIME,
		delivered_at DATETIME,
		delivered_payload TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE payable_settlements (
		reference TEXT PRIMARY KEY,
		payable_type TEXT NOT NULL,
		payable_id BIGINT NOT NULL,
		settled_at DATETIME NOT NULL,
		delivered_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
}
