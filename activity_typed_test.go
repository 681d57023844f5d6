package routingslip

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type bookingArgs struct {
	Hotel  string `mapstructure:"hotel"`
	Nights int    `mapstructure:"nights"`
}

type booking struct {
	Reservation string        `mapstructure:"reservation"`
	BookedAt    time.Time     `mapstructure:"booked_at"`
	Hold        time.Duration `mapstructure:"hold"`
	internal    string
}

func TestTypedActivity(t *testing.T) {
	bookedAt := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	var cancelled []string

	book := NewTypedActivity("book_hotel",
		func(_ context.Context, _ ExecuteContext, args bookingArgs) (booking, error) {
			if args.Nights < 1 {
				return booking{}, errors.New("at least one night")
			}
			return booking{Reservation: args.Hotel + "-42", BookedAt: bookedAt, Hold: time.Hour, internal: "x"}, nil
		},
		func(_ context.Context, _ CompensateContext, args bookingArgs, out booking) error {
			assert.Equal(t, bookedAt, out.BookedAt)
			assert.Equal(t, time.Hour, out.Hold)
			cancelled = append(cancelled, out.Reservation+"/"+args.Hotel)
			return nil
		},
	)
	j := newJournal()
	registry := NewActivityRegistry().MustRegister(book, j.failing("book_flight", "sold out"))
	slip, err := NewRoutingSlipBuilder(registry).
		AddActivity("book_hotel", map[string]any{"hotel": "ritz", "nights": "2"}).
		AddActivity("book_flight", nil).
		Build()
	require.NoError(t, err)

	outcome, err := NewEngine(registry).Execute(context.Background(), slip)
	var fe *FaultError
	require.ErrorAs(t, err, &fe)

	reservation, ok := Lookup[string](outcome.Variables, "reservation")
	require.True(t, ok)
	assert.Equal(t, "ritz-42", reservation)
	_, ok = outcome.Variables.Get("internal")
	assert.False(t, ok, "unexported fields are not variables")
	assert.Equal(t, []string{"ritz-42/ritz"}, cancelled)
}

func TestTypedActivityRejectsBadArguments(t *testing.T) {
	book := NewTypedActivity[bookingArgs, booking]("book_hotel",
		func(context.Context, ExecuteContext, bookingArgs) (booking, error) {
			return booking{}, nil
		}, nil)
	registry := NewActivityRegistry().MustRegister(book)
	slip, err := NewRoutingSlipBuilder(registry).
		AddActivity("book_hotel", map[string]any{"nights": "many"}).
		Build()
	require.NoError(t, err)

	_, err = NewEngine(registry).Execute(context.Background(), slip)
	assert.ErrorContains(t, err, "book_hotel arguments")
}

func TestVariablesOf(t *testing.T) {
	vars, err := VariablesOf(map[string]int{"seats": 2})
	require.NoError(t, err)
	seats, _ := Lookup[int](vars, "seats")
	assert.Equal(t, 2, seats)

	var nilBooking *booking
	vars, err = VariablesOf(nilBooking)
	require.NoError(t, err)
	assert.Equal(t, 0, vars.Len())

	vars, err = VariablesOf(struct {
		Skipped string `mapstructure:"-"`
		Plain   bool
	}{"a", true})
	require.NoError(t, err)
	assert.Equal(t, []string{"Plain"}, vars.Names())

	_, err = VariablesOf(map[int]string{1: "a"})
	assert.Error(t, err)
	_, err = VariablesOf(42)
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	vars := MustVariables(map[string]any{
		"seats": 2,
		"tags":  []string{"vip", "late"},
		"none":  nil,
	})

	n, ok := Lookup[int64](vars, "seats")
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)

	s, ok := Lookup[string](vars, "seats")
	assert.True(t, ok)
	assert.Equal(t, "2", s)

	tags, ok := Lookup[[]string](vars, "tags")
	assert.True(t, ok)
	assert.Equal(t, []string{"vip", "late"}, tags)

	_, ok = Lookup[int](vars, "tags")
	assert.False(t, ok)
	_, ok = Lookup[int](vars, "none")
	assert.False(t, ok)
	_, ok = Lookup[int](vars, "missing")
	assert.False(t, ok)
}
