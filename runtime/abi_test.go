package runtime

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dbug-project/dbug/ipc"
)

type captureEmitter struct {
	events []ipc.Event
}

func (c *captureEmitter) Emit(ev ipc.Event) error {
	c.events = append(c.events, ev)
	return nil
}

func TestFrameGuardExitIsSafeUnderPanic(t *testing.T) {
	rec := &captureEmitter{}
	ResetForTest(rec)

	func() {
		defer func() { recover() }()
		g := EnterFunction("doomed")
		defer g.Exit()
		panic("nope")
	}()

	var entered, exited bool
	for _, ev := range rec.events {
		if ev.Kind == ipc.EventFunctionEntered && ev.Function == "doomed" {
			entered = true
		}
		if ev.Kind == ipc.EventFunctionExited && ev.Function == "doomed" {
			exited = true
		}
	}
	assert.True(t, entered)
	assert.True(t, exited)
}

func TestAsyncEnterRejectsUnknownParentFallsBackToRoot(t *testing.T) {
	ResetForTest(nil)
	bogus := TaskHandle{id: 9999}
	handle := AsyncEnter("child", &bogus)
	require.NotNil(t, handle)
	assert.Equal(t, Root.ID(), handle.ID())
}

func TestInitTwiceWithoutTeardownPanics(t *testing.T) {
	ResetForTest(nil)
	Teardown()
	Init(nil)
	defer Teardown()
	assert.Panics(t, func() { Init(nil) })
}
