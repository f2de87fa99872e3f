package bifaci

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetRequest struct {
	Name string `json:"name"`
}

type greetReply struct {
	Greeting string `json:"greeting"`
}

var greet = NewMessageType[greetRequest, greetReply]("greet").MustWithRequestSchema(`{
	"type": "object",
	"required": ["name"],
	"properties": {"name": {"type": "string", "minLength": 1}}
}`)

var countRuns = NewMessageType[[]string, int]("countRuns")

func greetHandler(ctx context.Context, req greetRequest) (greetReply, error) {
	return greetReply{Greeting: "hello " + req.Name}, nil
}

// TEST300: typed handlers and callers agree on payload shapes in both directions
func Test300_typed_round_trip(t *testing.T) {
	p := newChannelPair(t)
	Handle(p.guest, greet, greetHandler)
	Handle(p.host, greet, greetHandler)

	ctx := testContext(t)
	res, err := Invoke(ctx, p.host, p.guestWin, greet, greetRequest{Name: "guest"})
	require.NoError(t, err)
	assert.Equal(t, "hello guest", res.Greeting)

	res, err = InvokeHost(ctx, p.guest, greet, greetRequest{Name: "host"})
	require.NoError(t, err)
	assert.Equal(t, "hello host", res.Greeting)
	assert.Equal(t, "greet", greet.Name())
}

// TEST301: requests violating the schema are answered with an error
func Test301_typed_schema_violation(t *testing.T) {
	p := newChannelPair(t)
	called := false
	Handle(p.guest, greet, func(ctx context.Context, req greetRequest) (greetReply, error) {
		called = true
		return greetReply{}, nil
	})

	_, err := p.host.SendTo(testContext(t), "guest", greet.Name(), map[string]int{"name": 3})
	var remote *RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "Schema validation failed for greet")
	assert.False(t, called)
}

// TEST302: HandleAsync replies when the future settles
func Test302_typed_async(t *testing.T) {
	p := newChannelPair(t)
	HandleAsync(p.guest, countRuns, func(ctx context.Context, runs []string) *Future[int] {
		f := NewFuture[int]()
		go f.Resolve(len(runs))
		return f
	})

	n, err := Invoke(testContext(t), p.host, p.guestWin, countRuns, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

// TEST303: BroadcastTyped decodes every reply in registration order
func Test303_typed_broadcast(t *testing.T) {
	host, guests := newHostWithGuests(t, 3)
	for i, g := range guests {
		i := i
		Handle(g.guest, countRuns, func(ctx context.Context, runs []string) (int, error) {
			return len(runs) * (i + 1), nil
		})
	}

	counts, err := BroadcastTyped(testContext(t), host, countRuns, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, counts)
}

// TEST304: NotifyTyped reaches every plugin
func Test304_typed_notify(t *testing.T) {
	host, guests := newHostWithGuests(t, 2)
	got := make(chan string, 2)
	for _, g := range guests {
		name := g.name
		Handle(g.guest, countRuns, func(ctx context.Context, runs []string) (int, error) {
			got <- fmt.Sprintf("%s:%d", name, len(runs))
			return 0, nil
		})
	}

	NotifyTyped(host, countRuns, []string{"x"})
	assert.ElementsMatch(t, []string{"g0:1", "g1:1"}, []string{<-got, <-got})
}

// TEST305: an invalid schema is reported when declaring the type
func Test305_invalid_schema(t *testing.T) {
	_, err := NewMessageType[int, int]("bad").WithRequestSchema(`{"type": 12}`)
	assert.Error(t, err)
	assert.Panics(t, func() {
		NewMessageType[int, int]("bad").MustWithRequestSchema(`nope`)
	})
}
