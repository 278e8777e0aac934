package lua

import (
	"sync"
	"testing"

	"github.com/srg/btserial/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type messageSink struct {
	mu   sync.Mutex
	msgs []string
}

func (s *messageSink) add(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, string(msg))
}

func (s *messageSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.msgs...)
}

const fixedFourScript = `
function frame(data)
  if #data < 4 then
    return 0
  end
  emit(data:sub(1, 4))
  return 4
end
`

func newTestFrameHandler(t *testing.T, script string, sink *messageSink) *FrameHandler {
	t.Helper()
	helper := testutils.NewTestHelper(t)
	engine := NewEngine(helper.Logger)
	t.Cleanup(engine.Close)

	h, err := NewFrameHandler(engine, script, "test.lua", sink.add, helper.Logger)
	require.NoError(t, err)
	return h
}

func TestFrameHandler_ConsumesWhatScriptReturns(t *testing.T) {
	// GOAL: Verify the script's return value is passed back as the consumed count and emit() reaches Go
	//
	// TEST SCENARIO: 3 bytes -> 0 consumed -> 6 bytes -> 4 consumed and one message emitted
	sink := &messageSink{}
	h := newTestFrameHandler(t, fixedFourScript, sink)

	assert.Equal(t, 0, h.HandleMessage([]byte("abc")))
	assert.Empty(t, sink.all())

	assert.Equal(t, 4, h.HandleMessage([]byte("abcdef")))
	assert.Equal(t, []string{"abcd"}, sink.all())
}

func TestFrameHandler_BinarySafe(t *testing.T) {
	sink := &messageSink{}
	h := newTestFrameHandler(t, fixedFourScript, sink)

	assert.Equal(t, 4, h.HandleMessage([]byte{0x00, 0xff, 0x00, 0x7f}))
	require.Len(t, sink.all(), 1)
	assert.Equal(t, string([]byte{0x00, 0xff, 0x00, 0x7f}), sink.all()[0], "embedded zero bytes MUST survive the round trip")
}

func TestFrameHandler_ScriptFailuresConsumeNothing(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "runtime error", script: `function frame(data) error("bad frame") end`},
		{name: "non-numeric result", script: `function frame(data) return "four" end`},
		{name: "no result", script: `function frame(data) end`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestFrameHandler(t, tt.script, &messageSink{})
			assert.Equal(t, 0, h.HandleMessage([]byte("data")))
		})
	}
}

func TestFrameHandler_RequiresFrameFunction(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	engine := NewEngine(helper.Logger)
	defer engine.Close()

	_, err := NewFrameHandler(engine, `x = 1`, "noframe.lua", nil, helper.Logger)

	var luaErr *LuaError
	require.ErrorAs(t, err, &luaErr)
	assert.Equal(t, "api", luaErr.Type)
}

func TestFrameHandler_DefaultScript(t *testing.T) {
	// GOAL: Verify the shipped newline framing script splits lines and strips carriage returns
	//
	// TEST SCENARIO: "one\r\ntwo\npart" -> two messages emitted -> "part" left unconsumed
	script, err := testutils.LoadScript("scripts/frame.lua")
	require.NoError(t, err)

	sink := &messageSink{}
	h := newTestFrameHandler(t, script, sink)

	input := []byte("one\r\ntwo\npart")
	consumed := h.HandleMessage(input)

	assert.Equal(t, len("one\r\ntwo\n"), consumed)
	assert.Equal(t, []string{"one", "two"}, sink.all())
}
