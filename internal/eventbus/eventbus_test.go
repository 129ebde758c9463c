package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type ping struct{ n int }
type pong struct{}

func TestBus_DispatchByType(t *testing.T) {
	b := New()
	var got []int
	On(b, func(_ context.Context, p ping) { got = append(got, p.n) })
	On(b, func(_ context.Context, _ pong) { t.Fatal("pong handler called for ping") })

	Emit(context.Background(), b, ping{1})
	Emit(context.Background(), b, ping{2})
	require.Equal(t, []int{1, 2}, got)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	var a, c int
	unA := On(b, func(context.Context, ping) { a++ })
	On(b, func(context.Context, ping) { c++ })

	Emit(context.Background(), b, ping{})
	unA()
	unA()
	Emit(context.Background(), b, ping{})

	require.Equal(t, 1, a)
	require.Equal(t, 2, c)
}

func TestGlobal_DisabledByDefault(t *testing.T) {
	Use(nil)
	called := false
	unsub := Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	unsub()
	require.False(t, called)

	Use(New())
	t.Cleanup(func() { Use(nil) })
	Subscribe(func(context.Context, ping) { called = true })
	Publish(context.Background(), ping{})
	require.True(t, called)
}
