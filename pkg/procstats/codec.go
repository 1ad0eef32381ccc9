// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// Binary layout constants (§4.7). These, along with the state-space
// dimensions in types.go, are part of the preamble every blob carries and
// is validated against on read.
const (
	codecMagic   int32 = 0x50535453
	codecVersion int32 = 1
)

// writer accumulates the little-endian framed blob described by §4.7.
type writer struct {
	buf []byte
}

func (w *writer) putInt32(v int32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putInt64(v int64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(v))
	w.buf = append(w.buf, b[:]...)
}

func (w *writer) putString(s string) {
	w.putInt32(int32(len(s)))
	w.buf = append(w.buf, s...)
}

// reader walks a blob defensively: every read checks bounds, and malformed
// lengths are rejected rather than trusted.
type reader struct {
	buf []byte
	pos int
}

func (r *reader) int32() (int32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("procstats: truncated data reading int32 at %d", r.pos)
	}
	v := int32(binary.LittleEndian.Uint32(r.buf[r.pos:]))
	r.pos += 4
	return v, nil
}

func (r *reader) int64() (int64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("procstats: truncated data reading int64 at %d", r.pos)
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *reader) string() (string, error) {
	n, err := r.int32()
	if err != nil {
		return "", err
	}
	if n < 0 || r.pos+int(n) > len(r.buf) {
		return "", fmt.Errorf("procstats: malformed string length %d at %d", n, r.pos)
	}
	s := string(r.buf[r.pos : r.pos+int(n)])
	r.pos += int(n)
	return s, nil
}

// Marshal commits every in-flight state transition as of now and returns
// the serialized blob described by §4.7. now becomes the new
// time_period_end.
func (g *GlobalState) Marshal(now int64) []byte {
	g.commitBeforeWrite(now)

	w := &writer{}
	w.putInt32(codecMagic)
	w.putInt32(codecVersion)
	w.putInt32(ProcStateCount)
	w.putInt32(AdjCount)
	w.putInt32(PssCount)
	w.putInt32(LongsSize)
	w.putInt64(g.timePeriodStart)
	w.putInt64(now)

	nArrays := g.pool.NumArrays()
	nextInLast := g.pool.NextInLast()
	w.putInt32(int32(nArrays))
	w.putInt32(int32(nextInLast))
	for i := 0; i < nArrays; i++ {
		arr := g.pool.Array(i)
		limit := LongsSize
		if i == nArrays-1 {
			limit = nextInLast
		}
		for j := 0; j < limit; j++ {
			w.putInt64(arr[j])
		}
	}

	for i := 0; i < AdjCount; i++ {
		w.putInt64(g.memFactorDurations[i])
	}

	g.writeProcessRegistry(w)
	g.writePackageRegistry(w)

	g.timePeriodEnd = now
	return w.buf
}

func writeProcessBody(w *writer, pr *ProcessRecord) {
	mp := int32(0)
	if pr.multiPackage {
		mp = 1
	}
	w.putInt32(mp)

	durs := pr.durations.Entries()
	w.putInt32(int32(len(durs)))
	for _, off := range durs {
		w.putInt32(int32(off))
	}

	pss := pr.pss.Entries()
	w.putInt32(int32(len(pss)))
	for _, off := range pss {
		w.putInt32(int32(off))
	}

	w.putInt32(pr.excessiveWakeCount)
	w.putInt32(pr.excessiveCPUCount)
}

func (g *GlobalState) writeProcessRegistry(w *writer) {
	byName := make(map[string][]*ProcessRecord)
	for _, pr := range g.registry.processes {
		byName[pr.Name] = append(byName[pr.Name], pr)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	w.putInt32(int32(len(names)))
	for _, name := range names {
		group := byName[name]
		sort.Slice(group, func(i, j int) bool { return group[i].UID < group[j].UID })

		w.putString(name)
		w.putInt32(int32(len(group)))
		for _, pr := range group {
			w.putInt32(pr.UID)
			w.putString(pr.Package)
			writeProcessBody(w, pr)
		}
	}
}

func (g *GlobalState) writePackageRegistry(w *writer) {
	byName := make(map[string][]*PackageRecord)
	for _, pr := range g.registry.packages {
		byName[pr.Name] = append(byName[pr.Name], pr)
	}
	names := make([]string, 0, len(byName))
	for n := range byName {
		names = append(names, n)
	}
	sort.Strings(names)

	w.putInt32(int32(len(names)))
	for _, name := range names {
		group := byName[name]
		sort.Slice(group, func(i, j int) bool { return group[i].UID < group[j].UID })

		w.putString(name)
		w.putInt32(int32(len(group)))
		for _, pr := range group {
			w.putInt32(pr.UID)

			procNames := make([]string, 0, len(pr.processes))
			for n := range pr.processes {
				procNames = append(procNames, n)
			}
			sort.Strings(procNames)

			w.putInt32(int32(len(procNames)))
			for _, pn := range procNames {
				entry := pr.processes[pn]
				w.putString(pn)
				if entry.isOwn {
					w.putInt32(1)
					writeProcessBody(w, entry.record)
				} else {
					w.putInt32(0)
				}
			}

			svcNames := make([]string, 0, len(pr.services))
			for n := range pr.services {
				svcNames = append(svcNames, n)
			}
			sort.Strings(svcNames)

			w.putInt32(int32(len(svcNames)))
			for _, sn := range svcNames {
				w.putString(sn)
				writeServiceBody(w, pr.services[sn])
			}
		}
	}
}

func writeServiceBody(w *writer, s *ServiceRecord) {
	writeMode(w, &s.Started)
	writeMode(w, &s.Bound)
	writeMode(w, &s.Executing)
}

func writeMode(w *writer, m *serviceMode) {
	for i := 0; i < AdjCount; i++ {
		w.putInt64(m.durations[i])
	}
	w.putInt32(m.opCount)
}

type processBody struct {
	multiPackage bool
	durations    SparseStateTable
	pss          SparseStateTable
	wake, cpu    int32
}

func readPackedOffsets(r *reader, pool *LongPool, label string) ([]PackedOffset, error) {
	n, err := r.int32()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, fmt.Errorf("procstats: negative %s count %d", label, n)
	}
	offsets := make([]PackedOffset, 0, n)
	last := -1
	for i := int32(0); i < n; i++ {
		raw, err := r.int32()
		if err != nil {
			return nil, err
		}
		off := PackedOffset(uint32(raw))
		if !pool.Validate(off) {
			return nil, fmt.Errorf("procstats: invalid %s offset %#x", label, raw)
		}
		tag := int(off.Tag())
		if tag <= last {
			return nil, fmt.Errorf("procstats: %s offsets not strictly ascending", label)
		}
		last = tag
		offsets = append(offsets, off)
	}
	return offsets, nil
}

func readProcessBody(r *reader, pool *LongPool) (processBody, error) {
	var b processBody

	mp, err := r.int32()
	if err != nil {
		return b, err
	}
	b.multiPackage = mp != 0

	durs, err := readPackedOffsets(r, pool, "duration")
	if err != nil {
		return b, err
	}
	b.durations.entries = durs

	pss, err := readPackedOffsets(r, pool, "pss")
	if err != nil {
		return b, err
	}
	b.pss.entries = pss

	if b.wake, err = r.int32(); err != nil {
		return b, err
	}
	if b.cpu, err = r.int32(); err != nil {
		return b, err
	}
	return b, nil
}

func readServiceBody(r *reader, pkg string, uid int32, name string) (*ServiceRecord, error) {
	s := newServiceRecord(pkg, uid, name)
	for _, m := range []*serviceMode{&s.Started, &s.Bound, &s.Executing} {
		for i := 0; i < AdjCount; i++ {
			v, err := r.int64()
			if err != nil {
				return nil, err
			}
			m.durations[i] = v
		}
		op, err := r.int32()
		if err != nil {
			return nil, err
		}
		m.opCount = op
	}
	return s, nil
}

func readProcessRegistry(r *reader, g *GlobalState, pool *LongPool) (map[processKey]*ProcessRecord, error) {
	result := make(map[processKey]*ProcessRecord)

	nNames, err := r.int32()
	if err != nil {
		return nil, err
	}
	if nNames < 0 {
		return nil, fmt.Errorf("procstats: negative process name count %d", nNames)
	}
	for i := int32(0); i < nNames; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		nUIDs, err := r.int32()
		if err != nil {
			return nil, err
		}
		if nUIDs < 0 {
			return nil, fmt.Errorf("procstats: negative uid count %d", nUIDs)
		}
		for j := int32(0); j < nUIDs; j++ {
			uid, err := r.int32()
			if err != nil {
				return nil, err
			}
			pkg, err := r.string()
			if err != nil {
				return nil, err
			}
			body, err := readProcessBody(r, pool)
			if err != nil {
				return nil, err
			}

			pr := newProcessRecord(g, pkg, uid, name)
			pr.multiPackage = body.multiPackage
			pr.durations = body.durations
			pr.pss = body.pss
			pr.excessiveWakeCount = body.wake
			pr.excessiveCPUCount = body.cpu
			result[processKey{name, uid}] = pr
		}
	}
	return result, nil
}

func readPackageRegistry(r *reader, g *GlobalState, pool *LongPool, commons map[processKey]*ProcessRecord) (map[packageKey]*PackageRecord, error) {
	result := make(map[packageKey]*PackageRecord)

	nNames, err := r.int32()
	if err != nil {
		return nil, err
	}
	if nNames < 0 {
		return nil, fmt.Errorf("procstats: negative package name count %d", nNames)
	}
	for i := int32(0); i < nNames; i++ {
		name, err := r.string()
		if err != nil {
			return nil, err
		}
		nUIDs, err := r.int32()
		if err != nil {
			return nil, err
		}
		if nUIDs < 0 {
			return nil, fmt.Errorf("procstats: negative package uid count %d", nUIDs)
		}
		for j := int32(0); j < nUIDs; j++ {
			uid, err := r.int32()
			if err != nil {
				return nil, err
			}
			pr := newPackageRecord(name, uid)

			nProcs, err := r.int32()
			if err != nil {
				return nil, err
			}
			if nProcs < 0 {
				return nil, fmt.Errorf("procstats: negative process count %d", nProcs)
			}
			for k := int32(0); k < nProcs; k++ {
				procName, err := r.string()
				if err != nil {
					return nil, err
				}
				hasOwn, err := r.int32()
				if err != nil {
					return nil, err
				}
				if hasOwn != 0 {
					body, err := readProcessBody(r, pool)
					if err != nil {
						return nil, err
					}
					common, ok := commons[processKey{procName, uid}]
					if !ok {
						return nil, fmt.Errorf("procstats: missing common process for clone %s/%d", procName, uid)
					}
					own := newProcessRecord(g, name, uid, procName)
					own.common = common
					own.multiPackage = body.multiPackage
					own.durations = body.durations
					own.pss = body.pss
					own.excessiveWakeCount = body.wake
					own.excessiveCPUCount = body.cpu
					pr.processes[procName] = &packageProcessEntry{record: own, isOwn: true}
				} else {
					common, ok := commons[processKey{procName, uid}]
					if !ok {
						return nil, fmt.Errorf("procstats: missing common process for alias %s/%d", procName, uid)
					}
					pr.processes[procName] = &packageProcessEntry{record: common, isOwn: false}
				}
			}

			nSvcs, err := r.int32()
			if err != nil {
				return nil, err
			}
			if nSvcs < 0 {
				return nil, fmt.Errorf("procstats: negative service count %d", nSvcs)
			}
			for k := int32(0); k < nSvcs; k++ {
				svcName, err := r.string()
				if err != nil {
					return nil, err
				}
				svc, err := readServiceBody(r, name, uid, svcName)
				if err != nil {
					return nil, err
				}
				pr.services[svcName] = svc
			}

			result[packageKey{name, uid}] = pr
		}
	}
	return result, nil
}

// Unmarshal parses data per §4.7 and, on success, replaces g's entire
// state with the parsed one. On any structural mismatch (bad magic,
// version, constants, out-of-range counts, malformed offsets, or a
// per-package clone with no backing common process) it returns an error
// and leaves g untouched — the caller is expected to fall back to
// Reset(now) so no partial state is ever visible.
func (g *GlobalState) Unmarshal(data []byte) error {
	r := &reader{buf: data}

	magic, err := r.int32()
	if err != nil {
		return err
	}
	if magic != codecMagic {
		return fmt.Errorf("procstats: bad magic %#x", magic)
	}
	version, err := r.int32()
	if err != nil {
		return err
	}
	if version != codecVersion {
		return fmt.Errorf("procstats: unsupported version %d", version)
	}
	for _, want := range []int32{ProcStateCount, AdjCount, PssCount, LongsSize} {
		got, err := r.int32()
		if err != nil {
			return err
		}
		if got != want {
			return fmt.Errorf("procstats: constant mismatch: want %d got %d", want, got)
		}
	}

	periodStart, err := r.int64()
	if err != nil {
		return err
	}
	periodEnd, err := r.int64()
	if err != nil {
		return err
	}

	nArrays, err := r.int32()
	if err != nil {
		return err
	}
	if nArrays < 1 {
		return fmt.Errorf("procstats: invalid array count %d", nArrays)
	}
	nextInLast, err := r.int32()
	if err != nil {
		return err
	}
	if nextInLast < 0 || nextInLast > LongsSize {
		return fmt.Errorf("procstats: invalid tail length %d", nextInLast)
	}

	arrays := make([][]int64, nArrays)
	for i := 0; i < int(nArrays); i++ {
		limit := LongsSize
		if i == int(nArrays)-1 {
			limit = int(nextInLast)
		}
		arr := make([]int64, LongsSize)
		for j := 0; j < limit; j++ {
			v, err := r.int64()
			if err != nil {
				return err
			}
			arr[j] = v
		}
		arrays[i] = arr
	}

	var memFactorDurations [AdjCount]int64
	for i := range memFactorDurations {
		v, err := r.int64()
		if err != nil {
			return err
		}
		memFactorDurations[i] = v
	}

	pool := restoreLongPool(arrays, int(nextInLast))

	commons, err := readProcessRegistry(r, g, pool)
	if err != nil {
		return err
	}
	packages, err := readPackageRegistry(r, g, pool, commons)
	if err != nil {
		return err
	}

	g.pool = pool
	g.registry = &registry{owner: g, processes: commons, packages: packages}
	g.timePeriodStart = periodStart
	g.timePeriodEnd = periodEnd
	g.memFactorDurations = memFactorDurations
	g.memFactor = StateNothing
	g.memFactorStartTime = 0
	return nil
}
