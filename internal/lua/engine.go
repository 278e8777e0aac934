// Package lua hosts user framing scripts. A script defines frame(data), which
// receives the buffered link bytes and returns how many it consumed, and calls
// emit(msg) for each complete message.
package lua

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aarzilli/golua/lua"
	"github.com/sirupsen/logrus"
	"github.com/srg/btserial/internal/ringchan"
)

// OutputRecord is one line printed by a script.
type OutputRecord struct {
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"` // "stdout" or "stderr"
}

// LuaError represents detailed Lua execution errors
type LuaError struct {
	Type       string // "syntax", "runtime", "api"
	Message    string
	Line       int
	Source     string
	Underlying error
}

func (e *LuaError) Error() string {
	parts := []string{}
	if e.Source != "" {
		parts = append(parts, fmt.Sprintf("in %s", e.Source))
	}
	if e.Line > 0 {
		parts = append(parts, fmt.Sprintf("line %d", e.Line))
	}

	prefix := "Lua error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("Lua %s error (%s)", e.Type, strings.Join(parts, ", "))
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *LuaError) Unwrap() error {
	return e.Underlying
}

func (e *LuaError) Is(target error) bool {
	if target == nil {
		return false
	}
	var luaErr *LuaError
	if errors.As(target, &luaErr) {
		return e.Type == luaErr.Type
	}
	return false
}

// outputCapacity bounds the print buffer; older lines are dropped first.
const outputCapacity = 100

// Engine owns one Lua state. All access to the state is serialized.
type Engine struct {
	state      *lua.State
	stateMutex sync.Mutex
	logger     *logrus.Logger
	output     *ringchan.RingChannel[OutputRecord]
}

// NewEngine creates an engine whose print() output goes to OutputChannel.
func NewEngine(logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	engine := &Engine{
		logger: logger,
		output: ringchan.New[OutputRecord](outputCapacity),
	}
	engine.Reset()
	return engine
}

// DoWithState runs callback with the locked state. It returns nil after Close.
func (e *Engine) DoWithState(callback func(*lua.State) interface{}) interface{} {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state == nil {
		return nil
	}
	return callback(e.state)
}

// OutputChannel returns the print() output channel.
func (e *Engine) OutputChannel() <-chan OutputRecord {
	return e.output.C()
}

func (e *Engine) publish(source, content string) {
	e.output.Send(OutputRecord{Content: content, Timestamp: time.Now(), Source: source})
}

func (e *Engine) registerPrintCaptureInternal(L *lua.State) {
	L.PushGoFunction(func(L *lua.State) int {
		top := L.GetTop()
		parts := make([]string, 0, top)

		for i := 1; i <= top; i++ {
			switch {
			case L.IsNil(i):
				parts = append(parts, "nil")
			case L.IsBoolean(i):
				parts = append(parts, fmt.Sprintf("%t", L.ToBoolean(i)))
			case L.IsNumber(i):
				parts = append(parts, fmt.Sprintf("%v", L.ToNumber(i)))
			case L.IsString(i):
				parts = append(parts, L.ToString(i))
			default:
				// tables, functions, userdata go through tostring()
				L.GetGlobal("tostring")
				L.PushValue(i)
				L.Call(1, 1)
				parts = append(parts, L.ToString(-1))
				L.Pop(1)
			}
		}

		e.publish("stdout", strings.Join(parts, "\t")+"\n")
		return 0
	})
	L.SetGlobal("print")
}

// parseLuaError pops the error message on top of the stack and splits out the line number.
func parseLuaError(L *lua.State, errType, source string) *LuaError {
	if L.GetTop() == 0 {
		return &LuaError{Type: errType, Message: "unknown Lua error", Source: source}
	}

	errMsg := "non-string error object"
	if L.IsString(-1) {
		errMsg = L.ToString(-1)
	}
	L.Pop(1)

	line := 0
	message := errMsg
	if parts := strings.SplitN(errMsg, ":", 3); len(parts) == 3 {
		if parsed, err := fmt.Sscanf(strings.TrimSpace(parts[1]), "%d", &line); err == nil && parsed == 1 {
			message = strings.TrimSpace(parts[2])
		}
	}

	return &LuaError{Type: errType, Message: message, Line: line, Source: source}
}

// LoadScriptFile reads and runs a script file.
func (e *Engine) LoadScriptFile(filename string) error {
	content, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read script %s: %w", filename, err)
	}
	return e.LoadScript(string(content), filename)
}

// LoadScript compiles and runs script so its globals become available.
func (e *Engine) LoadScript(script, name string) error {
	if strings.TrimSpace(script) == "" {
		return &LuaError{Type: "api", Message: "empty script", Source: name}
	}

	res := e.DoWithState(func(L *lua.State) interface{} {
		if status := L.LoadString(script); status != 0 {
			luaErr := parseLuaError(L, "syntax", name)
			e.publish("stderr", fmt.Sprintf("Lua syntax error: %s\n", luaErr.Message))
			return luaErr
		}
		if err := L.Call(0, 0); err != nil {
			luaErr := &LuaError{Type: "runtime", Message: err.Error(), Source: name, Underlying: err}
			e.publish("stderr", fmt.Sprintf("Lua runtime error: %s\n", luaErr.Message))
			return luaErr
		}
		return nil
	})

	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// SetGlobal sets a global variable in the Lua state
func (e *Engine) SetGlobal(name string, value interface{}) error {
	res := e.DoWithState(func(state *lua.State) any {
		switch v := value.(type) {
		case string:
			state.PushString(v)
		case []byte:
			state.PushBytes(v)
		case int:
			state.PushInteger(int64(v))
		case int64:
			state.PushInteger(v)
		case float64:
			state.PushNumber(v)
		case bool:
			state.PushBoolean(v)
		default:
			return fmt.Errorf("unsupported type for global variable %s", name)
		}

		state.SetGlobal(name)
		return nil
	})

	if err, ok := res.(error); ok {
		return err
	}
	return nil
}

// GetGlobalString gets a string global variable from the Lua state
func (e *Engine) GetGlobalString(name string) (string, error) {
	var result string
	var err error

	e.DoWithState(func(state *lua.State) interface{} {
		state.GetGlobal(name)
		defer state.Pop(1)

		if !state.IsString(-1) {
			err = fmt.Errorf("global variable %s is not a string", name)
			return nil
		}

		result = state.ToString(-1)
		return nil
	})

	return result, err
}

// Reset recreates the Lua state, dropping every global the scripts defined.
func (e *Engine) Reset() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
	}
	e.state = lua.NewState()
	e.state.OpenLibs()
	e.registerPrintCaptureInternal(e.state)
}

// Close releases the Lua state and closes the output channel.
func (e *Engine) Close() {
	e.stateMutex.Lock()
	defer e.stateMutex.Unlock()

	if e.state != nil {
		e.state.Close()
		e.state = nil
		e.output.Close()
	}
}
