package executive

// ShutdownMonitor is consulted only on ticks where no task is due.
//
// Check reads the shutdown condition (the master switch). When it returns
// true the executive calls Shutdown once, detaches its tick source and never
// dispatches again. Shutdown is best-effort: there is no rollback or retry.
type ShutdownMonitor interface {
	Check() bool
	Shutdown()
}

// MonitorFuncs adapts two functions to ShutdownMonitor. A nil CheckFn never
// fires; a nil ShutdownFn does nothing.
type MonitorFuncs struct {
	CheckFn    func() bool
	ShutdownFn func()
}

func (m MonitorFuncs) Check() bool {
	return m.CheckFn != nil && m.CheckFn()
}

func (m MonitorFuncs) Shutdown() {
	if m.ShutdownFn != nil {
		m.ShutdownFn()
	}
}
