package testutil

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/flowforge/store"
)

// =============================================================================
// 上下文辅助
// =============================================================================

// TestContext 返回一个随测试结束自动取消的上下文。
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回一个带超时的测试上下文。
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 存储辅助
// =============================================================================

// NewTestStore 基于内存 SQLite 创建已迁移的 Store。
// 每次调用使用独立数据库，测试间互不干扰。
func NewTestStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	st := store.New(db, nil)
	if err := st.AutoMigrate(); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return st
}

// =============================================================================
// 数据工具
// =============================================================================

// MustJSON 将 v 序列化为 JSON 字符串，失败时 panic。仅用于测试数据构造。
func MustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

// MustRawJSON 将 v 序列化为 json.RawMessage，失败时 panic。
func MustRawJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return json.RawMessage(b)
}

// =============================================================================
// 异步断言
// =============================================================================

// Eventually 轮询 cond 直到为真或超时。返回最终结果，不主动 Fail，
// 由调用方决定断言方式。
func Eventually(timeout, interval time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(interval)
	}
	return cond()
}
