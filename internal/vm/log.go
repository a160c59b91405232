package vm

import (
	"github.com/tliron/commonlog"
)

// Named loggers. Only the command configures a backend; without one the
// messages are discarded.
var (
	vmLog = commonlog.GetLogger("funlua.vm")
	gcLog = commonlog.GetLogger("funlua.gc")
)
