// Copyright 2026 The Memoflow Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/lumenwealth/memoflow/lib/testutil"
)

func TestHTTPServerServesAndShutsDown(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "ok")
	})

	server := NewHTTPServer(HTTPServerConfig{
		Address: "127.0.0.1:0",
		Handler: handler,
		Logger:  slog.New(slog.DiscardHandler),
	})

	ctx, cancel := context.WithCancel(context.Background())
	serveDone := make(chan error, 1)
	go func() {
		serveDone <- server.Serve(ctx)
	}()

	testutil.RequireClosed(t, server.Ready(), 5*time.Second, "server ready")

	resp, err := http.Get("http://" + server.Addr().String() + "/")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "ok" {
		t.Errorf("body = %q, want ok", body)
	}

	cancel()
	if err := testutil.RequireReceive(t, serveDone, 5*time.Second, "serve exit"); err != nil {
		t.Errorf("Serve returned error: %v", err)
	}
}

func TestHTTPServerRequiresConfig(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("NewHTTPServer without Address did not panic")
		}
	}()
	NewHTTPServer(HTTPServerConfig{
		Handler: http.NewServeMux(),
		Logger:  slog.New(slog.DiscardHandler),
	})
}
