// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package procstats

import "fmt"

type processKey struct {
	name string
	uid  int32
}

type packageKey struct {
	name string
	uid  int32
}

// packageProcessEntry is a package's process-map entry: either an alias
// to the canonical common record, or a privately-owned clone. Modeled as
// an Alias(common) | Own(record) tagged variant per the design notes,
// rather than a bare pointer, so serialization can tell the two apart
// without re-deriving it from pointer identity.
type packageProcessEntry struct {
	record *ProcessRecord
	isOwn  bool
}

// PackageRecord holds the processes and services a single (package, uid)
// hosts.
type PackageRecord struct {
	UID  int32
	Name string

	processes map[string]*packageProcessEntry
	services  map[string]*ServiceRecord
}

func newPackageRecord(name string, uid int32) *PackageRecord {
	return &PackageRecord{
		Name:      name,
		UID:       uid,
		processes: make(map[string]*packageProcessEntry),
		services:  make(map[string]*ServiceRecord),
	}
}

// Process returns the per-package process handle for name, if this
// package currently hosts it.
func (pr *PackageRecord) Process(name string) (*ProcessRecord, bool) {
	entry, ok := pr.processes[name]
	if !ok {
		return nil, false
	}
	return entry.record, true
}

// Service returns the named service record, if this package declares it.
func (pr *PackageRecord) Service(name string) (*ServiceRecord, bool) {
	s, ok := pr.services[name]
	return s, ok
}

// ForEachProcess iterates over every process this package hosts, common
// or owned. Iteration order is unspecified.
func (pr *PackageRecord) ForEachProcess(fn func(name string, rec *ProcessRecord, isOwn bool)) {
	for name, entry := range pr.processes {
		fn(name, entry.record, entry.isOwn)
	}
}

// ForEachService iterates over every service declared in this package.
// Iteration order is unspecified.
func (pr *PackageRecord) ForEachService(fn func(name string, rec *ServiceRecord)) {
	for name, svc := range pr.services {
		fn(name, svc)
	}
}

// registry indexes process and package records by (name, uid) and
// mediates the common-vs-per-package ownership transition (§4.5).
type registry struct {
	owner     *GlobalState
	processes map[processKey]*ProcessRecord // canonical/common records
	packages  map[packageKey]*PackageRecord
}

func newRegistry(owner *GlobalState) *registry {
	return &registry{
		owner:     owner,
		processes: make(map[processKey]*ProcessRecord),
		packages:  make(map[packageKey]*PackageRecord),
	}
}

func (r *registry) reset() {
	r.processes = make(map[processKey]*ProcessRecord)
	r.packages = make(map[packageKey]*PackageRecord)
}

func (r *registry) ensurePackageRecord(pkg string, uid int32) *PackageRecord {
	pk := packageKey{pkg, uid}
	pr, ok := r.packages[pk]
	if !ok {
		pr = newPackageRecord(pkg, uid)
		r.packages[pk] = pr
	}
	return pr
}

// getProcess implements §4.5's get_process algorithm.
func (r *registry) getProcess(pkg string, uid int32, procName string, now int64) *ProcessRecord {
	pr := r.ensurePackageRecord(pkg, uid)
	if entry, ok := pr.processes[procName]; ok {
		return entry.record
	}

	pk := processKey{procName, uid}
	common, exists := r.processes[pk]
	if !exists {
		common = newProcessRecord(r.owner, pkg, uid, procName)
		r.processes[pk] = common
		pr.processes[procName] = &packageProcessEntry{record: common, isOwn: false}
		return common
	}

	if !common.multiPackage {
		if common.Package == pkg {
			pr.processes[procName] = &packageProcessEntry{record: common, isOwn: false}
			return common
		}

		// Upgrade: the process is now shared across packages. The
		// package that originally owned the common record gets its own
		// clone instead of continuing to alias it, and the caller gets a
		// fresh clone too.
		common.multiPackage = true
		originalPkgRec := r.ensurePackageRecord(common.Package, uid)
		originalClone := common.clone(common.Package, now)
		originalPkgRec.processes[procName] = &packageProcessEntry{record: originalClone, isOwn: true}

		newClone := common.clone(pkg, now)
		pr.processes[procName] = &packageProcessEntry{record: newClone, isOwn: true}
		r.owner.logger.Info("process upgraded to multi-package",
			"process", procName, "uid", uid,
			"originalPackage", common.Package, "newPackage", pkg)
		return newClone
	}

	clone := common.clone(pkg, now)
	pr.processes[procName] = &packageProcessEntry{record: clone, isOwn: true}
	return clone
}

// getService returns the named service in (pkg, uid), creating it on
// first use. Services have no common/clone split: each package's
// services are independent.
func (r *registry) getService(pkg string, uid int32, name string) *ServiceRecord {
	pr := r.ensurePackageRecord(pkg, uid)
	if s, ok := pr.services[name]; ok {
		return s
	}
	s := newServiceRecord(pkg, uid, name)
	pr.services[name] = s
	return s
}

// pullFixed resolves pkgList[i] to its up-to-date per-package record,
// upgrading a stale alias to the now-multi-package common record in
// place. It is a hard programming error for the per-package clone to be
// missing: the clone should already have been created by getProcess.
func (r *registry) pullFixed(pkgList []*ProcessRecord, i int) *ProcessRecord {
	cur := pkgList[i]
	pr, ok := r.packages[packageKey{cur.Package, cur.UID}]
	if !ok {
		panic(fmt.Sprintf("procstats: pullFixed: no package record for %s/%d", cur.Package, cur.UID))
	}
	entry, ok := pr.processes[cur.Name]
	if !ok {
		panic(fmt.Sprintf("procstats: pullFixed: missing per-package clone for %s in package %s", cur.Name, cur.Package))
	}
	pkgList[i] = entry.record
	return entry.record
}
