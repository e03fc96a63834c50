package cpu

// Context is the saved hardware context of a kernel thread of control that is
// not currently running on the hart. Every process owns one; the contents are
// opaque to everything outside this package.
//
// Each context is backed by its own goroutine. A context only executes while
// it holds the hart; SwitchContext passes the hart along through the wake
// channels so exactly one context runs at any time.
type Context struct {
	wake    chan struct{}
	entry   func()
	started bool
}

// NewContext returns a context that begins executing entry the first time it
// is the target of SwitchContext.
func NewContext(entry func()) *Context {
	return &Context{
		wake:  make(chan struct{}),
		entry: entry,
	}
}

// BootContext returns a context that describes the thread of control that is
// currently executing (the boot path). Switching away from it suspends the
// caller until something switches back.
func BootContext() *Context {
	return &Context{
		wake:    make(chan struct{}),
		started: true,
	}
}

// SwitchContext saves the state of the running context into prev and resumes
// next. The call returns once another context switches back to prev.
// Execution of next resumes where it last called SwitchContext or, if next
// never ran, at its entry function.
func SwitchContext(prev, next *Context) {
	if !next.started {
		next.started = true
		go next.run()
	}

	next.wake <- struct{}{}
	<-prev.wake
}

func (c *Context) run() {
	<-c.wake
	c.entry()

	// Entry functions transfer control to U-mode and never return.
	Halt()
}
