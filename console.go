// FILE: lixenwraith/funnel/console.go
package funnel

// writeConsole renders a record and writes it to the process-local
// standard output stream. Console output is best-effort: write failures
// are swallowed and never reach the caller. Writes within one process
// are ordered by consoleMu; rotation never applies here.
func (e *engine) writeConsole(cfg *Config, r *Record) {
	out, ok := e.state.ConsoleWriter.Load().(*sink)
	if !ok || out == nil || out.w == nil {
		return
	}

	e.consoleMu.Lock()
	defer e.consoleMu.Unlock()

	data := e.consoleSer.serialize(cfg.consoleSpec(), r)
	_, _ = out.w.Write(data)
}
