package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliver_YieldsOneEventThenCloses(t *testing.T) {
	ch := Deliver(LoggedIn{Account: "alice@example.com"})

	ev, ok := <-ch
	require.True(t, ok)
	assert.Equal(t, LoggedIn{Account: "alice@example.com"}, ev)

	_, ok = <-ch
	assert.False(t, ok, "handle must be closed after its single event")
}

func TestNone_ClosedWithoutEvent(t *testing.T) {
	_, ok := <-None()
	assert.False(t, ok)
}

func TestOnce_FirstEmitWins(t *testing.T) {
	o := NewOnce()

	assert.True(t, o.Emit(Cancelled{Op: OpTransfer}))
	assert.False(t, o.Emit(Downloaded{Path: "late.pdf"}))
	o.Close()

	var got []Event
	for ev := range o.C() {
		got = append(got, ev)
	}

	assert.Equal(t, []Event{Cancelled{Op: OpTransfer}}, got)
}

func TestOnce_CloseBeforeEmit(t *testing.T) {
	o := NewOnce()
	o.Close()

	assert.False(t, o.Emit(LoggedIn{}))

	_, ok := <-o.C()
	assert.False(t, ok)
}

func TestOnce_ConcurrentEmitDeliversExactlyOne(t *testing.T) {
	o := NewOnce()

	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)

		go func() {
			defer wg.Done()
			o.Emit(Failed{Op: OpAuth, Detail: string(rune('a' + i))})
		}()
	}

	wg.Wait()

	count := 0
	for range o.C() {
		count++
	}

	assert.Equal(t, 1, count)
}

func TestFailed_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("boom")
	f := Fail(OpTransfer, KindTransfer, cause)

	assert.Equal(t, "transfer failed (transfer): boom", f.Error())
	assert.ErrorIs(t, f, cause)

	var target Failed
	require.ErrorAs(t, error(f), &target)
	assert.Equal(t, KindTransfer, target.Kind)
}

func TestBusy(t *testing.T) {
	f := Busy(OpAuth)

	assert.Equal(t, OpAuth, f.Op)
	assert.Equal(t, KindAlreadyInProgress, f.Kind)
	assert.ErrorIs(t, f, ErrAlreadyInProgress)
}

func TestKindAndOpStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{KindAuth.String(), "auth"},
		{KindNoHandlerFound.String(), "no-handler-found"},
		{KindNotPermitted.String(), "not-permitted"},
		{Kind(99).String(), "kind(99)"},
		{OpCheckLogin.String(), "check-login"},
		{OpOpen.String(), "open"},
		{Op(42).String(), "op(42)"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.got)
	}
}
