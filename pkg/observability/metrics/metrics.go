package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	recordsScored      atomic.Int64
	recordsDegraded    atomic.Int64
	recordsRejected    atomic.Int64
	recordsUnplaced    atomic.Int64
	recordsRemoved     atomic.Int64
	storageFailures    atomic.Int64
	intakeDeadLettered atomic.Int64
	queueDepth         atomic.Int64
	classifyMicros     atomic.Int64
)

// ObserveScored counts one accepted scoring. degraded marks a band fallback,
// unplaced a record whose region is missing from the registry.
func ObserveScored(degraded, unplaced bool) {
	recordsScored.Add(1)
	if degraded {
		recordsDegraded.Add(1)
	}
	if unplaced {
		recordsUnplaced.Add(1)
	}
}

func ObserveRejected()     { recordsRejected.Add(1) }
func ObserveRemoved()      { recordsRemoved.Add(1) }
func ObserveStorageError() { storageFailures.Add(1) }
func ObserveDeadLetter()   { intakeDeadLettered.Add(1) }

func ObserveQueueDepth(n int) {
	queueDepth.Store(int64(n))
}

// ObserveClassifyLatency accumulates classifier wall time.
func ObserveClassifyLatency(micros int64) {
	classifyMicros.Add(micros)
}

// Counts is a point-in-time copy, used by tests and the CLI summary.
type Counts struct {
	Scored, Degraded, Rejected, Unplaced, Removed, StorageFailures, DeadLettered, QueueDepth int64
}

func Read() Counts {
	return Counts{
		Scored:          recordsScored.Load(),
		Degraded:        recordsDegraded.Load(),
		Rejected:        recordsRejected.Load(),
		Unplaced:        recordsUnplaced.Load(),
		Removed:         recordsRemoved.Load(),
		StorageFailures: storageFailures.Load(),
		DeadLettered:    intakeDeadLettered.Load(),
		QueueDepth:      queueDepth.Load(),
	}
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "# HELP ckd_records_scored_total Patient records scored and queued.\n")
	fmt.Fprintf(w, "# TYPE ckd_records_scored_total counter\n")
	fmt.Fprintf(w, "ckd_records_scored_total %d\n", recordsScored.Load())

	fmt.Fprintf(w, "# HELP ckd_records_degraded_total Scorings staged by the eDFG band fallback.\n")
	fmt.Fprintf(w, "# TYPE ckd_records_degraded_total counter\n")
	fmt.Fprintf(w, "ckd_records_degraded_total %d\n", recordsDegraded.Load())

	fmt.Fprintf(w, "# HELP ckd_records_rejected_total Records rejected by validation.\n")
	fmt.Fprintf(w, "# TYPE ckd_records_rejected_total counter\n")
	fmt.Fprintf(w, "ckd_records_rejected_total %d\n", recordsRejected.Load())

	fmt.Fprintf(w, "# HELP ckd_records_unplaced_total Scored records excluded from regional aggregates because the region is unknown.\n")
	fmt.Fprintf(w, "# TYPE ckd_records_unplaced_total counter\n")
	fmt.Fprintf(w, "ckd_records_unplaced_total %d\n", recordsUnplaced.Load())

	fmt.Fprintf(w, "# HELP ckd_records_removed_total Patients removed from the queue.\n")
	fmt.Fprintf(w, "# TYPE ckd_records_removed_total counter\n")
	fmt.Fprintf(w, "ckd_records_removed_total %d\n", recordsRemoved.Load())

	fmt.Fprintf(w, "# HELP ckd_storage_failures_total Store operations that failed.\n")
	fmt.Fprintf(w, "# TYPE ckd_storage_failures_total counter\n")
	fmt.Fprintf(w, "ckd_storage_failures_total %d\n", storageFailures.Load())

	fmt.Fprintf(w, "# HELP ckd_intake_dead_lettered_total Intake events sent to the dead letter topic.\n")
	fmt.Fprintf(w, "# TYPE ckd_intake_dead_lettered_total counter\n")
	fmt.Fprintf(w, "ckd_intake_dead_lettered_total %d\n", intakeDeadLettered.Load())

	fmt.Fprintf(w, "# HELP ckd_queue_depth Patients currently in the prioritization queue.\n")
	fmt.Fprintf(w, "# TYPE ckd_queue_depth gauge\n")
	fmt.Fprintf(w, "ckd_queue_depth %d\n", queueDepth.Load())

	fmt.Fprintf(w, "# HELP ckd_classify_seconds_total Cumulative stage classifier time.\n")
	fmt.Fprintf(w, "# TYPE ckd_classify_seconds_total counter\n")
	fmt.Fprintf(w, "ckd_classify_seconds_total %.6f\n", float64(classifyMicros.Load())/1e6)
}
