package capability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echoes-blog/echoes/internal/logging"
)

func constant(v any) ExecuteFunc {
	return func(context.Context, ...any) (any, error) { return v, nil }
}

func TestValidate(t *testing.T) {
	valid := []string{"a", "sendWelcome", "reading_time2", "x_Y_z"}
	for _, name := range valid {
		assert.True(t, Validate(Capability{Name: name, Execute: constant(1)}), name)
	}

	invalid := []string{"", "Send", "1abc", "_x", "send-welcome", "send welcome", "é"}
	for _, name := range invalid {
		assert.False(t, Validate(Capability{Name: name, Execute: constant(1)}), name)
	}

	assert.False(t, Validate(Capability{Name: "ok"}), "missing execute")
}

func TestRegisterRejectsInvalid(t *testing.T) {
	r := NewRegistry(logging.Discard())

	assert.False(t, r.Register("p", Capability{Name: "Bad"}))
	assert.Empty(t, r.Names())
	assert.Empty(t, r.Execute(context.Background(), "Bad"))
}

func TestExecuteReturnsResult(t *testing.T) {
	r := NewRegistry(logging.Discard())
	require.True(t, r.Register("pluginA", Capability{Name: "sendWelcome", Execute: constant("ok")}))

	assert.Equal(t, []any{"ok"}, r.Execute(context.Background(), "sendWelcome"))
}

func TestExecuteIsolatesFailures(t *testing.T) {
	r := NewRegistry(logging.Discard())
	r.Register("broken", Capability{Name: "greet", Execute: func(context.Context, ...any) (any, error) {
		return nil, errors.New("boom")
	}})
	r.Register("panicky", Capability{Name: "greet", Execute: func(context.Context, ...any) (any, error) {
		panic("kaboom")
	}})
	r.Register("good", Capability{Name: "greet", Execute: func(_ context.Context, args ...any) (any, error) {
		return "hello " + args[0].(string), nil
	}})

	assert.Equal(t, []any{"hello ada"}, r.Execute(context.Background(), "greet", "ada"))

	outcomes := r.Settle(context.Background(), "greet", "ada")
	require.Len(t, outcomes, 3)
	assert.Equal(t, "broken", outcomes[0].Source)
	assert.EqualError(t, outcomes[0].Err, "boom")
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)
}

func TestExecuteKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry(logging.Discard())
	r.Register("slow", Capability{Name: "n", Execute: func(context.Context, ...any) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return 1, nil
	}})
	r.Register("fast", Capability{Name: "n", Execute: constant(2)})

	assert.Equal(t, []any{1, 2}, r.Execute(context.Background(), "n"))
}

func TestSameSourceReplaces(t *testing.T) {
	r := NewRegistry(logging.Discard())
	r.Register("p", Capability{Name: "n", Execute: constant(1)})
	r.Register("p", Capability{Name: "n", Execute: constant(2)})

	assert.Equal(t, []string{"p"}, r.Sources("n"))
	assert.Equal(t, []any{2}, r.Execute(context.Background(), "n"))
}

func TestRemoveSource(t *testing.T) {
	r := NewRegistry(logging.Discard())
	r.Register("x", Capability{Name: "onlyX", Execute: constant("x")})
	r.Register("x", Capability{Name: "shared", Execute: constant("x")})
	r.Register("y", Capability{Name: "shared", Execute: constant("y")})

	r.RemoveSource("x")

	assert.Empty(t, r.Execute(context.Background(), "onlyX"))
	assert.Equal(t, []any{"y"}, r.Execute(context.Background(), "shared"))
	assert.Equal(t, []string{"shared"}, r.Names())
}

func TestRemoveName(t *testing.T) {
	r := NewRegistry(logging.Discard())
	r.Register("x", Capability{Name: "a", Execute: constant(1)})
	r.Register("y", Capability{Name: "a", Execute: constant(2)})

	r.RemoveName("a")
	assert.Empty(t, r.Names())
}

func TestGoReturnsImmediately(t *testing.T) {
	r := NewRegistry(logging.Discard())
	release := make(chan struct{})
	r.Register("p", Capability{Name: "later", Execute: func(context.Context, ...any) (any, error) {
		<-release
		return "done", nil
	}})

	p := r.Go(context.Background(), "later")
	assert.Empty(t, p.Snapshot(), "executor has not finished yet")

	close(release)
	values, err := p.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []any{"done"}, values)
}

func TestGoWaitHonorsContext(t *testing.T) {
	r := NewRegistry(logging.Discard())
	block := make(chan struct{})
	defer close(block)
	r.Register("p", Capability{Name: "stuck", Execute: func(context.Context, ...any) (any, error) {
		<-block
		return nil, nil
	}})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := r.Go(context.Background(), "stuck").Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
