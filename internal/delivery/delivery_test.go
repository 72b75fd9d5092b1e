package delivery

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prefix  string
		task    domain.NotificationTask
		subject string
	}{
		{
			name:    "client id in brackets",
			prefix:  "[sendNforget]",
			task:    domain.NotificationTask{ClientID: "c1", Message: "hello"},
			subject: "[sendNforget][c1] Notification",
		},
		{
			name:    "empty client id",
			prefix:  "[sendNforget]",
			task:    domain.NotificationTask{Message: "hello"},
			subject: "[sendNforget][] Notification",
		},
		{
			name:    "default prefix",
			task:    domain.NotificationTask{ClientID: "web", Message: "hello"},
			subject: "[sendNforget][web] Notification",
		},
		{
			name:    "custom prefix",
			prefix:  "[acme]",
			task:    domain.NotificationTask{ClientID: "web", Message: "hello"},
			subject: "[acme][web] Notification",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			subject, body := Compose(tt.prefix, tt.task)
			assert.Equal(t, tt.subject, subject)
			assert.Equal(t, tt.task.Message, body)
		})
	}
}

func TestLogSender(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewLogSender(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, s.Send(context.Background(), "a@x.com", "subj", "body"))
	assert.Contains(t, buf.String(), "notification delivered")
	assert.Contains(t, buf.String(), "to=a@x.com")

	assert.ErrorIs(t, s.Send(context.Background(), "", "subj", "body"), ErrNotConfigured)
}

func TestSenderFunc(t *testing.T) {
	t.Parallel()

	var got string
	var s Sender = SenderFunc(func(ctx context.Context, to, subject, body string) error {
		got = to + "|" + subject + "|" + body
		return nil
	})
	require.NoError(t, s.Send(context.Background(), "a", "b", "c"))
	assert.Equal(t, "a|b|c", got)
}

func TestRandomInjector(t *testing.T) {
	t.Parallel()

	t.Run("zero probability never fails", func(t *testing.T) {
		r := NewRandomInjector(0, 1)
		for i := 0; i < 1000; i++ {
			assert.False(t, r.ShouldFail())
		}
	})

	t.Run("probability one always fails", func(t *testing.T) {
		r := NewRandomInjector(1, 1)
		for i := 0; i < 1000; i++ {
			assert.True(t, r.ShouldFail())
		}
	})

	t.Run("clamps out of range", func(t *testing.T) {
		assert.Equal(t, 0.0, NewRandomInjector(-2, 1).Probability())
		assert.Equal(t, 1.0, NewRandomInjector(7, 1).Probability())
	})

	t.Run("rate roughly matches probability", func(t *testing.T) {
		r := NewRandomInjector(0.3, 42)
		failures := 0
		const n = 10000
		for i := 0; i < n; i++ {
			if r.ShouldFail() {
				failures++
			}
		}
		rate := float64(failures) / n
		assert.InDelta(t, 0.3, rate, 0.03)
	})
}

func TestFixedInjector(t *testing.T) {
	t.Parallel()

	f := NewFixedInjector(true, true, false)
	assert.True(t, f.ShouldFail())
	assert.True(t, f.ShouldFail())
	assert.False(t, f.ShouldFail())
	assert.False(t, f.ShouldFail())
	assert.Equal(t, 4, f.Calls())

	assert.False(t, Never().ShouldFail())
	assert.True(t, Always().ShouldFail())

	var zero FixedInjector
	assert.False(t, zero.ShouldFail())
}
