package activity

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
)

func startBackend(t *testing.T, handler fiber.Handler) string {
	t.Helper()
	app := fiber.New()
	app.Post("/activities", handler)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	go func() {
		_ = app.Listener(ln)
	}()
	t.Cleanup(func() { _ = app.Shutdown() })
	return "http://" + ln.Addr().String()
}

func TestClientSaveActivity(t *testing.T) {
	var gotAuth string
	url := startBackend(t, func(c *fiber.Ctx) error {
		gotAuth = c.Get(fiber.HeaderAuthorization)
		var rec Record
		if err := c.BodyParser(&rec); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		rec.UserID = "user-1"
		return c.Status(fiber.StatusCreated).JSON(rec)
	})

	client := NewClient(url+"/", "token-1", time.Second)
	saved, err := client.SaveActivity(context.Background(), sampleRecord())
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if gotAuth != "Bearer token-1" {
		t.Fatalf("unexpected auth header %q", gotAuth)
	}
	if saved.ID != "rec-1" || saved.UserID != "user-1" || len(saved.Route) != 2 {
		t.Fatalf("unexpected saved record: %+v", saved)
	}
}

func TestClientBackendError(t *testing.T) {
	url := startBackend(t, func(c *fiber.Ctx) error {
		return fiber.NewError(fiber.StatusServiceUnavailable, "maintenance")
	})

	_, err := NewClient(url, "", time.Second).SaveActivity(context.Background(), sampleRecord())
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected 503 error, got %v", err)
	}
}

func TestClientUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen error: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	if _, err := NewClient("http://"+addr, "", 200*time.Millisecond).SaveActivity(context.Background(), sampleRecord()); err == nil {
		t.Fatalf("expected connection error")
	}
}

func TestClientCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewClient("http://127.0.0.1:1", "", 0).SaveActivity(ctx, sampleRecord()); err == nil {
		t.Fatalf("expected context error")
	}
}
