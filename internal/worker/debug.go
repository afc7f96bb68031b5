package worker

import (
	"fmt"
	"log/slog"
	"os"
)

// DebugEnv turns on per-job tracing of the dispatcher when set to "1".
const DebugEnv = "DIETCHAT_WORKER_DEBUG"

var traceJobs = os.Getenv(DebugEnv) == "1"

func debugLog(format string, args ...any) {
	if !traceJobs {
		return
	}
	slog.Info(fmt.Sprintf(format, args...), "component", "worker")
}
