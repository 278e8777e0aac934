package lua

import (
	"fmt"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/pkg/link"
)

const (
	frameFunction = "frame"
	emitFunction  = "emit"
)

// FrameHandler is a link.MessageHandler backed by a script's frame(data) function.
// Messages passed to emit(msg) are delivered to the onMessage callback.
type FrameHandler struct {
	engine    *Engine
	logger    *logrus.Logger
	onMessage func(msg []byte)
}

var _ link.MessageHandler = (*FrameHandler)(nil)

// NewFrameHandler loads script into engine and checks that it defines frame().
func NewFrameHandler(engine *Engine, script, name string, onMessage func(msg []byte), logger *logrus.Logger) (*FrameHandler, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if onMessage == nil {
		onMessage = func([]byte) {}
	}

	h := &FrameHandler{engine: engine, logger: logger, onMessage: onMessage}

	engine.DoWithState(func(L *lua.State) interface{} {
		L.Register(emitFunction, h.emit)
		return nil
	})

	if err := engine.LoadScript(script, name); err != nil {
		return nil, err
	}

	defined := engine.DoWithState(func(L *lua.State) interface{} {
		L.GetGlobal(frameFunction)
		defer L.Pop(1)
		return L.IsFunction(-1)
	})
	if ok, _ := defined.(bool); !ok {
		return nil, &LuaError{Type: "api", Message: fmt.Sprintf("script does not define %s(data)", frameFunction), Source: name}
	}
	return h, nil
}

func (h *FrameHandler) emit(L *lua.State) int {
	if L.GetTop() < 1 || !L.IsString(1) {
		h.logger.Warn("emit() called without a string message, ignoring")
		return 0
	}
	msg := L.ToBytes(1)
	h.onMessage(append([]byte(nil), msg...))
	return 0
}

// HandleMessage calls frame(data) and returns its result. Script errors and
// non-numeric results consume nothing.
func (h *FrameHandler) HandleMessage(buffered []byte) int {
	res := h.engine.DoWithState(func(L *lua.State) interface{} {
		L.GetGlobal(frameFunction)
		L.PushBytes(buffered)
		if err := L.Call(1, 1); err != nil {
			return &LuaError{Type: "runtime", Message: err.Error(), Source: frameFunction, Underlying: err}
		}
		defer L.Pop(1)

		if !L.IsNumber(-1) {
			return &LuaError{Type: "api", Message: fmt.Sprintf("%s() must return a number, got %s", frameFunction, L.LTypename(-1)), Source: frameFunction}
		}
		return int(L.ToInteger(-1))
	})

	switch v := res.(type) {
	case int:
		return v
	case error:
		h.logger.WithError(v).Error("Frame script failed")
		h.engine.publish("stderr", v.Error()+"\n")
	}
	return 0
}
