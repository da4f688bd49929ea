package recorder

import (
	"io"
	"log/slog"
)

// ConcatResult reports what the concatenation pass did.
type ConcatResult struct {
	Copied  int
	Skipped int
	Bytes   int64
}

// concatenate appends all batch files, in ascending sequence order, to sink
// and closes it. Failed batches and zero-length or unreadable files are
// skipped and counted; a gap in the recording is acceptable, a session
// failure is not. The final artifact's byte order therefore equals segment
// discovery order with failed batches omitted.
func concatenate(store Store, scratchDir string, batches []Batch, sink io.WriteCloser, log *slog.Logger) ConcatResult {
	var res ConcatResult
	defer closeQuietly(sink)

	for _, b := range batches {
		if b.Status != BatchSucceeded {
			res.Skipped++
			continue
		}
		size, err := store.Size(scratchDir, b.FileName)
		if err != nil || size == 0 {
			log.Warn("skipping batch file", slog.String("file", b.FileName), slog.Int64("size", size))
			res.Skipped++
			continue
		}
		data, err := store.ReadAll(scratchDir, b.FileName)
		if err != nil {
			log.Warn("skipping unreadable batch file", slog.String("file", b.FileName), slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		if _, err := sink.Write(data); err != nil {
			log.Error("write to output failed", slog.String("file", b.FileName), slog.String("error", err.Error()))
			res.Skipped++
			continue
		}
		res.Copied++
		res.Bytes += size
	}

	log.Info("concatenation complete",
		slog.Int("copied", res.Copied),
		slog.Int("skipped", res.Skipped),
		slog.Int64("bytes", res.Bytes))
	return res
}

// cleanup removes every batch file, then attempts to remove the scratch
// directory. A directory that will not go away (e.g. not empty) is tolerated
// silently; file removal failures are only logged.
func cleanup(store Store, scratchDir string, batches []Batch, log *slog.Logger) {
	for _, b := range batches {
		if err := store.Remove(scratchDir, b.FileName); err != nil {
			log.Debug("remove batch file failed", slog.String("file", b.FileName), slog.String("error", err.Error()))
		}
	}
	_ = store.RemoveDir(scratchDir)
}
