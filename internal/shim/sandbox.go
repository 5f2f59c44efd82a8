package shim

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/dop251/goja_nodejs/require"
	"github.com/rs/zerolog"
)

// Sandbox hosts a rendered shim inside a goja runtime. Microtasks are held
// in a Go-side queue so callers decide when a flush happens.
type Sandbox struct {
	vm     *goja.Runtime
	log    zerolog.Logger
	tasks  []goja.Callable
	ran    int
	warned []string
}

func NewSandbox(src string, log zerolog.Logger) (*Sandbox, error) {
	s := &Sandbox{
		vm:  goja.New(),
		log: log,
	}

	registry := require.NewRegistry()
	registry.RegisterNativeModule("buffer", loadBuffer)
	registry.Enable(s.vm)

	if err := s.vm.Set("queueMicrotask", s.queueMicrotask); err != nil {
		return nil, err
	}
	if err := s.vm.Set("console", s.console()); err != nil {
		return nil, err
	}

	prg, err := goja.Compile(ID, wrap(src), true)
	if err != nil {
		return nil, fmt.Errorf("shim: %w", err)
	}
	fn, err := s.vm.RunProgram(prg)
	if err != nil {
		return nil, fmt.Errorf("shim: %w", err)
	}
	load, ok := goja.AssertFunction(fn)
	if !ok {
		return nil, errors.New("shim: module wrapper is not a function")
	}

	module := s.vm.NewObject()
	exports := s.vm.NewObject()
	if err := module.Set("exports", exports); err != nil {
		return nil, err
	}
	if _, err := load(goja.Undefined(), module, exports); err != nil {
		return nil, fmt.Errorf("shim: loading module: %w", err)
	}
	if err := s.vm.Set("compat", module.Get("exports")); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Sandbox) queueMicrotask(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(s.vm.NewTypeError("queueMicrotask: argument is not a function"))
	}
	s.tasks = append(s.tasks, fn)
	return goja.Undefined()
}

func (s *Sandbox) console() *goja.Object {
	c := s.vm.NewObject()
	printer := func(level zerolog.Level) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = arg.String()
			}
			msg := strings.Join(parts, " ")
			if level == zerolog.WarnLevel {
				s.warned = append(s.warned, msg)
			}
			s.log.WithLevel(level).Str("source", "shim").Msg(msg)
			return goja.Undefined()
		}
	}
	_ = c.Set("log", printer(zerolog.InfoLevel))
	_ = c.Set("debug", printer(zerolog.DebugLevel))
	_ = c.Set("warn", printer(zerolog.WarnLevel))
	_ = c.Set("error", printer(zerolog.ErrorLevel))
	return c
}

// loadBuffer provides the slice of the buffer package the shim touches.
// Objects carrying a truthy _isBuffer field count as buffers.
func loadBuffer(rt *goja.Runtime, module *goja.Object) {
	exports := module.Get("exports").(*goja.Object)
	buffer := rt.NewObject()
	_ = buffer.Set("isBuffer", func(call goja.FunctionCall) goja.Value {
		obj, ok := call.Argument(0).(*goja.Object)
		if !ok {
			return rt.ToValue(false)
		}
		marker := obj.Get("_isBuffer")
		return rt.ToValue(marker != nil && marker.ToBoolean())
	})
	_ = exports.Set("Buffer", buffer)
}

// Run evaluates script with the shim exports bound to the global "compat".
func (s *Sandbox) Run(script string) (goja.Value, error) {
	return s.vm.RunString(script)
}

// Pending reports how many microtasks are waiting.
func (s *Sandbox) Pending() int {
	return len(s.tasks)
}

// Step runs the oldest pending microtask. It reports false when there was
// nothing to run.
func (s *Sandbox) Step() (bool, error) {
	if len(s.tasks) == 0 {
		return false, nil
	}
	task := s.tasks[0]
	s.tasks = s.tasks[1:]
	s.ran++
	_, err := task(goja.Undefined())
	return true, err
}

// Drain runs microtasks until none are left and returns how many ran.
func (s *Sandbox) Drain() (int, error) {
	n := 0
	for {
		ok, err := s.Step()
		if err != nil || !ok {
			return n, err
		}
		n++
	}
}

// Warnings returns every console.warn message seen so far.
func (s *Sandbox) Warnings() []string {
	return s.warned
}

// SelfTest exercises the scheduler, deprecate and inherit entry points.
func (s *Sandbox) SelfTest() error {
	if _, err := s.Run(`
		var order = [];
		for (var i = 0; i < 3; i++) {
			compat.nextTick(function(n) {
				order.push(n);
				if (n === 0) compat.nextTick(function() { order.push('late'); });
			}, i);
		}
	`); err != nil {
		return err
	}
	if s.Pending() != 1 {
		return fmt.Errorf("shim: %d flushes scheduled for one tick, want 1", s.Pending())
	}
	if _, err := s.Step(); err != nil {
		return err
	}
	if got := s.vm.Get("order").String(); got != "0,1,2" {
		return fmt.Errorf("shim: first flush ran %q, want %q", got, "0,1,2")
	}
	if _, err := s.Drain(); err != nil {
		return err
	}
	if got := s.vm.Get("order").String(); got != "0,1,2,late" {
		return fmt.Errorf("shim: second flush ran %q", got)
	}

	before := len(s.warned)
	v, err := s.Run(`
		var f = compat.deprecate(function(a, b) { return this.k + a + b; }, 'gone soon');
		var o = {k: 1, f: f};
		o.f(2, 3) + o.f(2, 3);
	`)
	if err != nil {
		return err
	}
	if v.ToInteger() != 12 {
		return fmt.Errorf("shim: deprecate returned %v, want 12", v)
	}
	if n := len(s.warned) - before; n != 1 {
		return fmt.Errorf("shim: deprecate warned %d times, want 1", n)
	}

	v, err = s.Run(`
		function Base() {}
		Base.prototype.hello = function() { return 'hi'; };
		function Derived() { Base.call(this); }
		compat.inherit(Derived, Base);
		var x = new Derived();
		x.hello() === 'hi' && x instanceof Base && x.constructor === Derived &&
			Object.keys(Derived.prototype).indexOf('constructor') < 0;
	`)
	if err != nil {
		return err
	}
	if !v.ToBoolean() {
		return errors.New("shim: inherit did not establish delegation")
	}
	return nil
}
