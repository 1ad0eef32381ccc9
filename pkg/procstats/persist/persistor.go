// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package persist

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-logr/logr"

	"github.com/sysrecord/procstats/internal/clock"
	"github.com/sysrecord/procstats/pkg/errors"
	"github.com/sysrecord/procstats/pkg/procstats"
)

// fileName is the fixed name of the on-disk blob within a Persistor's
// base directory (§6: "<base_dir>/current.bin").
const fileName = "current.bin"

// GlobalStateFile is the subset of *procstats.GlobalState a Persistor
// needs. Kept narrow so tests can supply a fake.
type GlobalStateFile interface {
	Marshal(now int64) []byte
	Unmarshal(data []byte) error
	Reset(now int64)
	ShouldWriteNow(lastWriteTime, now int64) bool
}

// Persistor owns the single pending-write slot and serializer lock
// described in §4.8. WriteAsync serializes state synchronously under the
// caller's lock and hands the resulting buffer to a background goroutine;
// WriteSync performs the commit inline.
type Persistor struct {
	logger  logr.Logger
	clock   clock.Source
	baseDir string

	pendingMu     sync.Mutex
	pendingBuf    []byte
	lastWriteTime int64

	serializerMu sync.Mutex

	shutdownMu sync.Mutex
	shutdown   bool
}

// New returns a Persistor writing to baseDir/current.bin.
func New(logger logr.Logger, src clock.Source, baseDir string) *Persistor {
	return &Persistor{logger: logger, clock: src, baseDir: baseDir}
}

func (p *Persistor) path() string { return filepath.Join(p.baseDir, fileName) }

func (p *Persistor) isShutdown() bool {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	return p.shutdown
}

// Shutdown marks the Persistor as shut down; every subsequent WriteAsync
// or WriteSync call becomes a no-op.
func (p *Persistor) Shutdown() {
	p.shutdownMu.Lock()
	defer p.shutdownMu.Unlock()
	p.shutdown = true
}

// stage materializes a full serialized blob of g's current state into the
// pending slot under the pending-write lock, per write_state step 1.
func (p *Persistor) stage(g GlobalStateFile) {
	now := p.clock.NowMillis()
	p.pendingMu.Lock()
	p.pendingBuf = g.Marshal(now)
	p.lastWriteTime = now
	p.pendingMu.Unlock()
}

// WriteAsync stages a snapshot of g synchronously (so the snapshot
// reflects exactly the state as of this call) and commits it to disk on a
// background goroutine. A no-op after Shutdown.
func (p *Persistor) WriteAsync(g GlobalStateFile) {
	if p.isShutdown() {
		return
	}
	p.stage(g)
	go p.commit()
}

// WriteSync stages and commits inline. A no-op after Shutdown.
func (p *Persistor) WriteSync(g GlobalStateFile) error {
	if p.isShutdown() {
		return nil
	}
	p.stage(g)
	return p.commit()
}

// commit implements §4.8's commit(): take and clear the pending buffer
// under the pending-write lock, then release it before acquiring the
// serializer lock for the actual disk I/O. A commit already in flight
// when a second write lands simply means the second write replaced the
// pending buffer before this commit took it — only one disk write happens
// per drained buffer.
//
// §7 is explicit that there are no retry loops; recovery is the next
// scheduled write. A permission error or a bad base directory must
// therefore fail on the first attempt, not be retried in place. The one
// exception is a transient failure within this single attempt itself
// (e.g. an interrupted syscall during fsync) — the atomic-file helpers tag
// those errors as errors.RetryableError, and only those are retried here, so a
// permanent failure still surfaces immediately.
func (p *Persistor) commit() error {
	p.pendingMu.Lock()
	buf := p.pendingBuf
	p.pendingBuf = nil
	p.pendingMu.Unlock()

	if buf == nil {
		return nil
	}

	p.serializerMu.Lock()
	defer p.serializerMu.Unlock()

	err := p.writeOnce(buf)
	if err != nil && errors.Retryable(err) {
		err = backoff.Retry(func() error {
			return p.writeOnce(buf)
		}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	}
	if err != nil {
		p.logger.Error(err, "persist: commit failed, state retained for next scheduled write")
		return err
	}
	p.logger.Info("persist: commit succeeded", "bytes", len(buf))
	return nil
}

func (p *Persistor) writeOnce(buf []byte) error {
	if err := os.MkdirAll(p.baseDir, 0o755); err != nil {
		return err
	}
	af, err := newAtomicFile(p.path())
	if err != nil {
		return err
	}
	if err := af.write(buf); err != nil {
		return err
	}
	return af.commit()
}

// ReadFromDisk loads the blob at baseDir/current.bin into g. A missing
// file is not an error: g is left as-is (a caller typically calls this
// right after constructing a fresh GlobalState). Any structural parse
// failure resets g to a clean state at now, per §7's "disk file remains
// intact, in-memory state equals reset()".
func (p *Persistor) ReadFromDisk(g GlobalStateFile, now int64) error {
	data, err := os.ReadFile(p.path())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := g.Unmarshal(data); err != nil {
		p.logger.Error(err, "persist: corrupt state file, resetting")
		g.Reset(now)
		return nil
	}
	return nil
}

// ShouldWriteNow reports whether enough time has elapsed since the last
// write was staged to schedule another one (§6: "true when now >
// last_write_time + 30 minutes"). The write time is stamped when a write
// is staged, whether or not its commit later succeeds.
func (p *Persistor) ShouldWriteNow(now int64) bool {
	p.pendingMu.Lock()
	last := p.lastWriteTime
	p.pendingMu.Unlock()
	return now > last+procstats.WriteIntervalMs
}
