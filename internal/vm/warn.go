package vm

import (
	"strings"
)

// SetWarnF sets the function receiving warnings; nil drops them.
func (L *State) SetWarnF(f WarnFunction, ud any) {
	L.lock()
	defer L.unlock()
	L.g.warnf = f
	L.g.warnUD = ud
}

// Warning emits a warning piece. tocont reports that the message
// continues in the next call.
func (L *State) Warning(msg string, tocont bool) {
	L.lock()
	defer L.unlock()
	L.warning(msg, tocont)
}

func (L *State) warning(msg string, tocont bool) {
	if wf := L.g.warnf; wf != nil {
		wf(L.g.warnUD, msg, tocont)
	}
}

// warnError warns about the error object on top, raised inside where.
func (L *State) warnError(where string) {
	msg := "error object is not a string"
	if v := L.stack[L.top-1]; v.isString() {
		msg = L.g.strValue(v)
	}
	L.warning("error in ", true)
	L.warning(where, true)
	L.warning(" (", true)
	L.warning(msg, true)
	L.warning(")", false)
}

// logWarnings returns a warning function that writes complete messages to
// the vm logger. It starts switched off; the control messages "@on" and
// "@off" toggle it.
func logWarnings() WarnFunction {
	on := false
	var pending strings.Builder
	cont := false
	return func(_ any, msg string, tocont bool) {
		if !cont && !tocont && strings.HasPrefix(msg, "@") {
			switch msg {
			case "@on":
				on = true
			case "@off":
				on = false
			}
			return
		}
		cont = tocont
		if !on {
			return
		}
		pending.WriteString(msg)
		if !tocont {
			vmLog.Warning(pending.String())
			pending.Reset()
		}
	}
}
