package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/dispatch"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/queue"
	"github.com/phrazzld/sendnforget/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:           8080,
			LogLevel:       "info",
			AllowedOrigins: []string{"http://localhost:5500"},
		},
		Queue: config.QueueConfig{Driver: "memory", VisibilityTimeout: 5 * time.Second},
		Store: config.StoreConfig{Driver: "memory"},
		Worker: config.WorkerConfig{
			Concurrency:     2,
			DeliveryTimeout: time.Second,
			BackoffBase:     10 * time.Millisecond,
			BackoffMax:      50 * time.Millisecond,
			ReclaimInterval: 50 * time.Millisecond,
			StatusPort:      8081,
		},
		Mail: config.MailConfig{Transport: "log", SubjectPrefix: "[sendNforget]"},
	}
}

func listen(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	return ln
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	f, err := parseFlags([]string{"-migrate", "up", "-local"})
	require.NoError(t, err)
	assert.Equal(t, "up", f.migrate)
	assert.True(t, f.local)
	assert.Empty(t, f.configFile)

	_, err = parseFlags([]string{"-bogus"})
	assert.Error(t, err)
}

func TestHandleMigrations_RequiresPostgres(t *testing.T) {
	t.Parallel()

	err := handleMigrations(context.Background(), testConfig(), "up", discardLogger())
	assert.ErrorContains(t, err, "postgres")
}

func TestNewApplication_MemoryBackends(t *testing.T) {
	t.Parallel()

	app, err := newApplication(context.Background(), testConfig(), discardLogger(), false)
	require.NoError(t, err)
	assert.Nil(t, app.dispatcher)
	app.cleanup()
}

func TestApplication_LocalModeDeliversAndReportsStatus(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		sent []string
	)
	sender := delivery.SenderFunc(func(_ context.Context, to, subject, _ string) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, to+"|"+subject)
		return nil
	})

	cfg := testConfig()
	broker := queue.NewMemoryBroker(queue.DefaultMemoryBrokerConfig(), discardLogger())
	app := newApplicationWith(cfg, discardLogger(), store.NewMemoryJobStore(), broker, sender, delivery.Never(), true)
	defer app.cleanup()

	statusLn, notifyLn := listen(t), listen(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.serve(ctx, statusLn, notifyLn) }()

	body, _ := json.Marshal(dispatch.Request{ClientID: "web", Recipient: "a@example.com", Message: "hello"})
	resp, err := http.Post("http://"+notifyLn.Addr().String()+"/api/v1/notify", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	var receipt dispatch.Receipt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&receipt))
	_ = resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	statusURL := "http://" + statusLn.Addr().String() + "/api/v1/jobs/" + receipt.TrackingID
	assert.Eventually(t, func() bool {
		resp, err := http.Get(statusURL)
		if err != nil {
			return false
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		var rec domain.JobRecord
		if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
			return false
		}
		return rec.Status == domain.JobStatusSent && rec.RetryCount == 1
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"a@example.com|[sendNforget][web] Notification"}, sent)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not shut down")
	}
}
