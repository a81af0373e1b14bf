/*
Package main is the entry point for the shopsync storefront synchronization client.

It is responsible for loading configuration, initializing the global logging
system, wiring the local state store, identity manager, cart service, and chat
session controller against the configured backend, serving the local
operational endpoints (/metrics, /healthz), and gracefully handling operating
system interrupt signals (SIGINT, SIGTERM) to ensure a clean teardown.
*/
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"

	"shopsync/internal/app/cart"
	"shopsync/internal/app/chat"
	"shopsync/internal/app/identity"
	"shopsync/internal/app/localstore"
	"shopsync/internal/configs"
	"shopsync/internal/pkg/logx"
	"shopsync/internal/pkg/metrics"
)

func main() {
	// A missing .env file is fine; environment variables win either way.
	_ = godotenv.Load()

	cfg, err := configs.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logx.InitGlobalLogger(cfg.Environment == "development")
	logx.Logger().Info().
		Str("environment", cfg.Environment).
		Str("api_base_url", cfg.APIBaseURL).
		Str("socket_url", cfg.SocketURL).
		Str("tenant_id", cfg.TenantID).
		Uint64("reconnect_attempts", cfg.ReconnectAttempts).
		Dur("reconnect_delay", cfg.ReconnectDelay).
		Msg("Configuration loaded successfully")

	// Create a context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openLocalStore(ctx, cfg)
	defer func() {
		if err := store.Close(); err != nil {
			logx.Error(err, "Failed to close local state store")
		}
	}()

	ident, err := identity.NewManager(ctx, store)
	if err != nil {
		logx.Fatal(err, "Failed to initialize identity manager")
	}

	m := metrics.New()

	cartStore := cart.NewStore(ctx, store, m)
	cartAPI := cart.NewAPIClient(cfg.APIBaseURL, ident)
	cartService := cart.NewService(cartStore, cartAPI, m)

	lookup := chat.NewLookupClient(cfg.APIBaseURL, cfg.TenantID)
	controller := chat.NewController(
		chat.Config{
			SocketURL:         cfg.SocketURL,
			TenantID:          cfg.TenantID,
			ReconnectAttempts: cfg.ReconnectAttempts,
			ReconnectDelay:    cfg.ReconnectDelay,
		},
		ident,
		lookup,
		m,
		chat.Callbacks{
			OnMessage: func(msg chat.ChatMessage) {
				fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Sender, msg.Body)
			},
			OnTyping: func(userID string, isTyping bool) {
				if isTyping {
					fmt.Printf("... %s is typing\n", userID)
				}
			},
			OnStateChange: func(state chat.ConnState) {
				logx.Info("Chat connection state changed", "state", string(state))
			},
		},
	)

	// The persisted snapshot renders immediately; the server replaces it as
	// soon as it answers.
	if err := cartService.Refresh(ctx); err != nil {
		logx.Warn("Initial cart sync failed. Showing persisted snapshot.", "code", err.Code)
	}

	if err := controller.Connect(ctx); err != nil {
		logx.Fatal(err, "Failed to start chat controller")
	}

	opsServer := startOpsServer(cfg, m)

	go commandLoop(ctx, os.Stdin, os.Stdout, cartService, controller, ident)

	// Wait for interrupt signal, then tear everything down.
	<-ctx.Done()
	logx.Info("Received shutdown signal. Starting graceful shutdown...")

	controller.Close()

	if opsServer != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()

		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			logx.Error(err, "Operational server forced to shutdown")
		}
	}

	logx.Info("Client gracefully stopped.")
}

// openLocalStore selects the state backend: Redis when configured, the state
// file otherwise.
func openLocalStore(ctx context.Context, cfg *configs.AppConfig) localstore.Store {
	if cfg.RedisAddr != "" {
		store, err := localstore.NewRedisStore(ctx, cfg.RedisAddr, cfg.TenantID)
		if err != nil {
			logx.Fatal(err, "Failed to connect to redis state store")
		}

		logx.Info("Using redis state store", "addr", cfg.RedisAddr)
		return store
	}

	store, err := localstore.NewFileStore(cfg.StatePath)
	if err != nil {
		logx.Fatal(err, "Failed to open state file")
	}

	logx.Info("Using file state store", "path", store.Path())
	return store
}

// startOpsServer serves /metrics and /healthz on the configured local address.
func startOpsServer(cfg *configs.AppConfig, m *metrics.Metrics) *http.Server {
	if cfg.OpsAddr == "" {
		return nil
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Handle("/metrics", m.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ok"}`)
	})

	server := &http.Server{
		Addr:         cfg.OpsAddr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logx.Info(fmt.Sprintf("Operational endpoints on http://localhost%s", cfg.OpsAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logx.Error(err, "Operational server failed")
		}
	}()

	return server
}

// commandLoop drives the client from the given reader. Lines starting with
// '/' are commands; anything else is sent as a chat message.
func commandLoop(ctx context.Context, in io.Reader, out io.Writer, cartService *cart.Service, controller *chat.Controller, ident *identity.Manager) {
	scanner := bufio.NewScanner(in)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if !strings.HasPrefix(line, "/") {
			controller.SendTyping(false)
			if err := controller.SendMessage(line, nil); err != nil {
				fmt.Fprintf(out, "! %s\n", err.Message)
			}
			continue
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "/cart":
			printCart(out, cartService)

		case "/add":
			if len(fields) < 5 {
				fmt.Fprintln(out, "usage: /add <variantId> <quantity> <unitPriceMinor> <name...>")
				continue
			}
			quantity, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Fprintf(out, "! quantity must be a number, got %q\n", fields[2])
				continue
			}
			unitPrice, err := strconv.ParseInt(fields[3], 10, 64)
			if err != nil {
				fmt.Fprintf(out, "! unit price must be a number, got %q\n", fields[3])
				continue
			}
			addErr := cartService.Add(ctx, cart.AddInput{
				ProductVariantID: fields[1],
				Quantity:         quantity,
				UnitPrice:        unitPrice,
				ProductName:      strings.Join(fields[4:], " "),
			})
			if addErr != nil {
				fmt.Fprintf(out, "! %s\n", addErr.Message)
			}

		case "/qty":
			if len(fields) != 3 {
				fmt.Fprintln(out, "usage: /qty <variantId> <quantity>")
				continue
			}
			quantity, err := strconv.Atoi(fields[2])
			if err != nil {
				fmt.Fprintf(out, "! quantity must be a number, got %q\n", fields[2])
				continue
			}
			if err := cartService.ChangeQuantity(ctx, fields[1], quantity); err != nil {
				fmt.Fprintf(out, "! %s\n", err.Message)
			}

		case "/rm":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: /rm <lineId>")
				continue
			}
			id, err := strconv.ParseInt(fields[1], 10, 64)
			if err != nil {
				fmt.Fprintf(out, "! line id must be a number, got %q\n", fields[1])
				continue
			}
			if err := cartService.Remove(ctx, id); err != nil {
				fmt.Fprintf(out, "! %s\n", err.Message)
			}

		case "/refresh":
			if err := cartService.Refresh(ctx); err != nil {
				fmt.Fprintf(out, "! %s\n", err.Message)
			}
			printCart(out, cartService)

		case "/login":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: /login <bearer-token>")
				continue
			}
			if err := ident.Authenticate(ctx, fields[1]); err != nil {
				fmt.Fprintf(out, "! login failed: %v\n", err)
			}

		case "/logout":
			ident.Invalidate(ctx)

		case "/history":
			if err := controller.LoadMessages(ctx); err != nil {
				fmt.Fprintf(out, "! %s\n", err.Message)
				continue
			}
			for _, msg := range controller.Messages() {
				fmt.Fprintf(out, "[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), msg.Sender, msg.Body)
			}

		case "/join":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: /join <conversationId>")
				continue
			}
			controller.JoinConversation(fields[1])

		case "/leave":
			if len(fields) != 2 {
				fmt.Fprintln(out, "usage: /leave <conversationId>")
				continue
			}
			controller.LeaveConversation(fields[1])

		default:
			fmt.Fprintln(out, "commands: /cart /add /qty /rm /refresh /login /logout /history /join /leave")
		}
	}
}

// printCart renders the current cart lines and total.
func printCart(out io.Writer, cartService *cart.Service) {
	lines := cartService.Store().Lines()
	if len(lines) == 0 {
		fmt.Fprintln(out, "(cart is empty)")
		return
	}

	for _, line := range lines {
		marker := ""
		if line.Pending() {
			marker = " (pending)"
		}
		fmt.Fprintf(out, "  #%d %s x%d @ %d = %d%s\n",
			line.ID, line.ProductName, line.Quantity, line.UnitPrice, line.Subtotal(), marker)
	}
	fmt.Fprintf(out, "  total: %d\n", cartService.Store().Total())
}
